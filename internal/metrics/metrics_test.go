package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := itemsTotal
	Init()
	require.NotNil(t, first)
	assert.Same(t, first, itemsTotal)
	assert.NotNil(t, leasesTotal)
	assert.NotNil(t, frontierPending)
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()

	rec.ItemProcessed("recorder-src", "success")
	rec.ItemProcessed("recorder-src", "success")
	rec.ItemProcessed("recorder-src", "failed")
	rec.DiscoveryEntry("recorder-src", "skipped")
	rec.SweepPage("recorder-src", "success")
	rec.LeaseFinished("recorder-queue", "failed")
	rec.FrontierPending("recorder-src", 7)
	rec.FrontierPending("recorder-src", 3)
	rec.FetchObserved("recorder-src", 250*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(itemsTotal.WithLabelValues("recorder-src", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(itemsTotal.WithLabelValues("recorder-src", "failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(discoveryEntriesTotal.WithLabelValues("recorder-src", "skipped")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(sweepPagesTotal.WithLabelValues("recorder-src", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(leasesTotal.WithLabelValues("recorder-queue", "failed")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(frontierPending.WithLabelValues("recorder-src")), 0)
	assert.Positive(t, testutil.CollectAndCount(fetchDurationSeconds))
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("cards.test", 100*time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(rateLimitDelaysSeconds))
}

func TestPush(t *testing.T) {
	var hits atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Contains(t, r.URL.Path, "/metrics/job/catalog")
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	require.NoError(t, Push(context.Background(), gw.URL, "catalog"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestPushReportsGatewayFailure(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	err := Push(context.Background(), gw.URL, "catalog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), gw.URL)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
