package fetcher

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// statusErr formats an upstream HTTP status code as an error. None of the
// RoundTrippers below return it; fetchDocument reports a 404 as
// ErrPageNotFound and other error statuses as plain errors.
type statusErr int

func (e statusErr) Error() string {
	return fmt.Sprintf("upstream returned status %d", int(e))
}

// throttledTransport rate limits outgoing requests, grounded on the
// teacher's throttledTransport/NewUpstream wiring in internal/controller.go
// (golang.org/x/time/rate.Limiter wrapping an http.RoundTripper).
type throttledTransport struct {
	http.RoundTripper
	Limiter *rate.Limiter
}

func (t throttledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	return t.RoundTripper.RoundTrip(r)
}

// scopedTransport restricts requests to a particular host regardless of
// redirects, mirroring the teacher's ScopedTransport.
type scopedTransport struct {
	Host string
	http.RoundTripper
}

func (t scopedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = "https"
	r.URL.Host = t.Host
	return t.RoundTripper.RoundTrip(r)
}

// headerTransport adds a header (e.g. User-Agent) to every outgoing
// request, mirroring the teacher's HeaderTransport.
type headerTransport struct {
	Key   string
	Value string
	http.RoundTripper
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.Header.Add(t.Key, t.Value)
	return t.RoundTripper.RoundTrip(r)
}

// NewUpstreamClient builds an http.Client scoped to host, rate-limited to
// ratePerSecond requests/second, identifying itself with userAgent. The
// returned client has no timeout; the caller sets one (main.go assigns
// http.Client.Timeout from the request-timeout setting).
func NewUpstreamClient(host string, ratePerSecond float64, userAgent string) *http.Client {
	return &http.Client{
		Transport: throttledTransport{
			Limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
			RoundTripper: scopedTransport{
				Host: host,
				RoundTripper: &headerTransport{
					Key:          "User-Agent",
					Value:        userAgent,
					RoundTripper: http.DefaultTransport,
				},
			},
		},
	}
}
