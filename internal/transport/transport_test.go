package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prestodb/presto-go-client/internal/session"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New("alice")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	u, err := parseTestURL(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	cfg.Host = u.host
	cfg.Port = u.port
	cfg.Scheme = "http"
	if cfg.RetryPolicy == (RetryPolicy{}) {
		cfg.RetryPolicy = RetryPolicy{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: 5 * time.Millisecond}
	}
	c, err := NewClient(cfg, newTestSession(t))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

type testURL struct {
	host string
	port int
}

func parseTestURL(raw string) (testURL, error) {
	// httptest.Server.URL is always "http://127.0.0.1:PORT"
	const prefix = "http://"
	s := raw[len(prefix):]
	idx := len(s) - 1
	for idx >= 0 && s[idx] != ':' {
		idx--
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return testURL{}, err
	}
	return testURL{host: s[:idx], port: port}, nil
}

func TestPostRetriesExactlyMaxAttemptsOn503ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"q1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxAttempts: 3})
	resp, err := c.Post(context.Background(), c.URL("/v1/statement"), []byte("SELECT 1"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestPostFailsAfterMaxAttemptsExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxAttempts: 2})
	_, err := c.Post(context.Background(), c.URL("/v1/statement"), []byte("SELECT 1"))
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", got)
	}
}

func TestPostSingleAttemptWhenMaxAttemptsIsOne(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxAttempts: 1})
	_, err := c.Post(context.Background(), c.URL("/v1/statement"), []byte("SELECT 1"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", got)
	}
}

func TestPostFollowsRedirectWhenResolverConfigured(t *testing.T) {
	var finalCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/statement" {
			w.Header().Set("Location", "/v1/statement/redirected")
			w.WriteHeader(http.StatusSeeOther)
			return
		}
		atomic.AddInt32(&finalCalls, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"q1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxAttempts: 1, RedirectResolver: PassthroughRedirectResolver{}})
	resp, err := c.Post(context.Background(), c.URL("/v1/statement"), []byte("SELECT 1"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if atomic.LoadInt32(&finalCalls) != 1 {
		t.Fatalf("expected the redirected target to be hit exactly once")
	}
}

func TestNewClientRejectsAuthenticatorOverPlaintext(t *testing.T) {
	_, err := NewClient(Config{
		Host:          "localhost",
		Port:          8080,
		Scheme:        "http",
		Authenticator: &StaticBearerAuthenticator{Token: "tok"},
	}, newTestSession(t))
	if err == nil {
		t.Fatalf("expected configuration error rejecting auth over http")
	}
}

func TestSetMaxAttemptsRewiresRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxAttempts: 1})
	c.SetMaxAttempts(4)

	_, err := c.Get(context.Background(), c.URL("/v1/statement/q1/1"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 4 attempts after SetMaxAttempts, got %d", got)
	}
}
