// Package logging configures the process-wide structured logger used by
// every component, following the teacher binary's charmbracelet/log setup:
// one logger built at startup, console-rendered on a TTY and JSON-formatted
// otherwise, carried through context.Context (WithContext/FromContext)
// rather than passed to every call as a parameter.
package logging

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

type ctxKey struct{}

var _base *log.Logger

// Setup builds the process logger. level is one of debug|info|warn|error;
// debug additionally enables caller annotation, mirroring the teacher's
// Verbose flag toggling _logHandler's level.
func Setup(level string, debug bool) *log.Logger {
	opts := log.Options{
		ReportTimestamp: true,
	}
	if debug {
		opts.ReportCaller = true
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		opts.Formatter = log.JSONFormatter
	}
	l := log.NewWithOptions(os.Stderr, opts)
	l.SetLevel(parseLevel(level))
	_base = l
	return l
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// WithContext binds l to ctx so downstream calls can recover it via
// FromContext without threading a logger parameter through every call.
func WithContext(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger bound to ctx, falling back to the
// process-wide base logger (or a freshly constructed default if Setup was
// never called, e.g. in tests).
func FromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*log.Logger); ok && l != nil {
		return l
	}
	if _base != nil {
		return _base
	}
	return log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
}
