package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	robotsRetries        = 3
	robotsFallbackReason = "robots.txt timed out"
	allowAllRobots       = "User-agent: *\nAllow: /"
)

// defaultRobotsBackOff waits roughly 250ms, 500ms, 1s between probes.
func defaultRobotsBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.Multiplier = 2
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, robotsRetries)
}

// robotsAwareTransport retries robots.txt probes that time out. Several
// catalog hosts stall robots.txt behind slow TLS handshakes; when the retries
// run out an allow-all file is returned so the page fetch is still attempted
// and judged on its own response.
type robotsAwareTransport struct {
	base       http.RoundTripper
	newBackOff func() backoff.BackOff
	onFallback func(host, reason string)
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.base.RoundTrip(req)
	}

	policy := defaultRobotsBackOff
	if t.newBackOff != nil {
		policy = t.newBackOff
	}
	probe := func() (*http.Response, error) {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err != nil && !isRobotsTimeout(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}
	resp, err := backoff.RetryNotifyWithData(probe, backoff.WithContext(policy(), req.Context()), nil)
	switch {
	case err == nil:
		return resp, nil
	case req.Context().Err() != nil:
		return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, req.Context().Err())
	case isRobotsTimeout(err):
		if t.onFallback != nil {
			t.onFallback(req.URL.Hostname(), robotsFallbackReason)
		}
		return allowAll(req), nil
	default:
		return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, err)
	}
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}
}

func isRobotsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
