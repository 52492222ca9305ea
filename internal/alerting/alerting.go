// Package alerting logs significant changes and daily summaries, grounded
// on original_source/scheduler/alerting.py's AlertManager: severity
// filtering, a rolling-hour rate limit, and a cooldown window, all
// collapsed onto the teacher's structured logger instead of a second
// notification channel (no email/Slack/webhook dependency appears
// anywhere in the retrieval pack).
package alerting

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nowail/bookwatch/internal/logging"
	"github.com/nowail/bookwatch/internal/model"
)

var severityRank = map[model.Severity]int{
	model.SeverityLow:      1,
	model.SeverityMedium:   2,
	model.SeverityHigh:     3,
	model.SeverityCritical: 4,
}

// Config mirrors AlertConfig's knobs.
type Config struct {
	Enabled           bool
	MinSeverityForLog model.Severity
	MaxAlertsPerHour  int
	CooldownMinutes   int
}

// Manager filters ChangeRecords by severity and logs a rate-limited,
// cooldown-gated alert for the surviving set.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	sentTimes []time.Time
	lastSent  time.Time
}

// New builds a Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// ProcessChanges filters changes at or above the configured minimum
// severity and logs one alert for the batch, subject to rate limiting and
// cooldown. A disabled Manager is a no-op, matching AlertConfig.enabled.
func (m *Manager) ProcessChanges(ctx context.Context, changes []model.ChangeRecord) {
	log := logging.FromContext(ctx)
	if !m.cfg.Enabled {
		log.Debug("alerting disabled")
		return
	}

	significant := m.filterBySeverity(changes)
	if len(significant) == 0 {
		log.Info("processed change alerts", "total_changes", len(changes), "log_changes", 0)
		return
	}

	if !m.allowed(time.Now()) {
		log.Warn("log alert rate limited or in cooldown")
		return
	}

	log.Warn("change detection alert",
		"message", summarize(significant),
		"changes_count", len(significant),
	)
	log.Info("processed change alerts", "total_changes", len(changes), "log_changes", len(significant))
}

func (m *Manager) filterBySeverity(changes []model.ChangeRecord) []model.ChangeRecord {
	minLevel := severityRank[m.cfg.MinSeverityForLog]
	if minLevel == 0 {
		minLevel = 1
	}
	var out []model.ChangeRecord
	for _, c := range changes {
		level := severityRank[c.Severity]
		if level == 0 {
			level = 1
		}
		if level >= minLevel {
			out = append(out, c)
		}
	}
	return out
}

// allowed enforces both the rolling-hour rate limit and the cooldown
// window, recording this send if it's permitted.
func (m *Manager) allowed(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastSent.IsZero() && now.Sub(m.lastSent) < time.Duration(m.cfg.CooldownMinutes)*time.Minute {
		return false
	}

	hourAgo := now.Add(-time.Hour)
	recent := m.sentTimes[:0]
	for _, t := range m.sentTimes {
		if t.After(hourAgo) {
			recent = append(recent, t)
		}
	}
	m.sentTimes = recent
	if len(m.sentTimes) >= m.cfg.MaxAlertsPerHour {
		return false
	}

	m.sentTimes = append(m.sentTimes, now)
	m.lastSent = now
	return true
}

func summarize(changes []model.ChangeRecord) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, string(c.ChangeType)+": "+c.ChangeSummary+" (severity: "+string(c.Severity)+")")
	}
	return "detected " + strconv.Itoa(len(changes)) + " changes: " + strings.Join(parts, "; ")
}

// SendDailySummary logs a single-line summary of a DailyReport, grounded
// on send_daily_summary's log line.
func (m *Manager) SendDailySummary(ctx context.Context, report *model.DailyReport) {
	log := logging.FromContext(ctx)
	log.Info("daily change detection summary",
		"report_date", report.ReportDate.Format("2006-01-02"),
		"total_books_checked", report.BooksChecked,
		"changes_detected", report.ChangesDetected,
		"new_books", report.NewBooksAdded,
		"updated_books", report.BooksUpdated,
		"removed_books", report.BooksRemoved,
		"health_score", report.SystemHealthScore,
	)
}
