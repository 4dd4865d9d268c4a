package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

func TestFetchReturnsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>" + r.Header.Get("Cookie") + "|" + r.UserAgent() + "</html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{
		UserAgent: "catalog-test",
		Timeout:   time.Second,
		Headers:   http.Header{"Cookie": {"lang=en"}},
	}, nil)

	page, err := f.Fetch(context.Background(), srv.URL+"/cards/LOB-001")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "<html>lang=en|catalog-test</html>", string(page.Body))
	assert.Equal(t, "text/html", page.Headers.Get("Content-Type"))

	again, err := f.Fetch(context.Background(), srv.URL+"/cards/LOB-001")
	require.NoError(t, err, "revisiting a URL is allowed")
	assert.Equal(t, page.Body, again.Body)
}

func TestFetchMapsHTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{Timeout: time.Second}, nil).Fetch(context.Background(), srv.URL)
	var fe *catalog.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, catalog.FetchHTTPStatus, fe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	assert.True(t, catalog.IsTransient(err))
}

func TestFetchMapsTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{Timeout: 50 * time.Millisecond}, nil).Fetch(context.Background(), srv.URL)
	var fe *catalog.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, catalog.FetchTimeout, fe.Kind)
}

func TestFetchMapsNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}, nil).Fetch(context.Background(), addr)
	var fe *catalog.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, catalog.FetchNetwork, fe.Kind)
}

func TestFetchCanceledContextIsNotAFetchError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{Timeout: time.Second}, nil).Fetch(ctx, "http://127.0.0.1:1/")
	require.Error(t, err)
	assert.True(t, catalog.IsStoreError(err), "cancellation aborts the invocation")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		err    error
		kind   catalog.FetchErrorKind
		code   int
	}{
		{"not found", http.StatusNotFound, errors.New("Not Found"), catalog.FetchHTTPStatus, http.StatusNotFound},
		{"robots", 0, colly.ErrRobotsTxtBlocked, catalog.FetchHTTPStatus, http.StatusForbidden},
		{"deadline", 0, context.DeadlineExceeded, catalog.FetchTimeout, 0},
		{"non-200 success", http.StatusNonAuthoritativeInfo, errors.New("Non-Authoritative Information"), catalog.FetchHTTPStatus, http.StatusNonAuthoritativeInfo},
		{"refused", 0, errors.New("connection refused"), catalog.FetchNetwork, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var fe *catalog.FetchError
			require.ErrorAs(t, classify("https://example.com", tc.status, tc.err), &fe)
			assert.Equal(t, tc.kind, fe.Kind)
			assert.Equal(t, tc.code, fe.StatusCode)
		})
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil)
	state := &fetchState{}
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), state)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	u, err := url.Parse("https://example.com")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: u},
	})
	assert.Equal(t, "body", string(state.page.Body))
	assert.Equal(t, "ok", state.page.Headers.Get("X-Resp"))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	assert.Equal(t, http.StatusBadGateway, state.status)
	assert.EqualError(t, state.err, "Bad Gateway")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
