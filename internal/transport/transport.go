// Package transport is the HTTP request layer (spec §4.B): it wraps a
// transport capability with retry/backoff, redirect handling, auth header
// injection, per-attempt timeouts, and SOCKS5 proxying, and produces raw
// *http.Response values for internal/protocol to decode.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/proxy"

	"github.com/prestodb/presto-go-client/internal/prestoerr"
	"github.com/prestodb/presto-go-client/internal/session"
)

// Authenticator installs credential state on the transport at construction
// by wrapping the underlying RoundTripper, and declares which
// transport-level errors should be retried alongside the built-in
// connection/timeout/503 set (spec §6).
type Authenticator interface {
	Wrap(next http.RoundTripper) http.RoundTripper
	IsRetryable(err error) bool
}

// RedirectResolver resolves a raw Location header value into the URL the
// client should re-POST to (spec §4.B).
type RedirectResolver interface {
	Resolve(location string) (string, error)
}

// PassthroughRedirectResolver is the default: the Location header is used
// verbatim, matching the original client's GatewayRedirectHandler.
type PassthroughRedirectResolver struct{}

func (PassthroughRedirectResolver) Resolve(location string) (string, error) { return location, nil }

// CredentialProvider supplies a refreshable bearer credential (spec §6).
type CredentialProvider interface {
	Valid(ctx context.Context) bool
	Token(ctx context.Context) string
	Refresh(ctx context.Context) error
}

// RetryPolicy parameterizes the exponential backoff used between attempts.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy matches the teacher's circleci-ex httpclient defaults
// in shape (short initial delay, standard doubling).
var DefaultRetryPolicy = RetryPolicy{
	InitialDelay: 50 * time.Millisecond,
	Multiplier:   2,
	MaxDelay:     10 * time.Second,
}

// Config is the immutable-after-construction RequestConfig of spec §3.
// MaxAttempts is the one field that may be rewired after construction, via
// SetMaxAttempts, which rebuilds the retry wrapper rather than mutating a
// verb function in place (spec §9 DESIGN NOTES).
type Config struct {
	Host           string
	Port           int
	Scheme         string // "http" | "https"
	MaxAttempts    int
	RequestTimeout time.Duration
	RetryPolicy    RetryPolicy

	Authenticator      Authenticator
	RedirectResolver   RedirectResolver
	CredentialProvider CredentialProvider
}

// Client is the HTTP request layer for one Query's Session.
type Client struct {
	cfg  Config
	sess *session.Session

	mu            sync.Mutex
	maxAttempts   int
	authHeader    string
	client        *http.Client // follows redirects automatically
	noRedirClient *http.Client // CheckRedirect disabled, used for the manual POST redirect loop
}

// NewClient builds the HTTP request layer for sess. Authentication over a
// plaintext scheme is rejected outright (spec §4.B).
func NewClient(cfg Config, sess *session.Session) (*Client, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryPolicy == (RetryPolicy{}) {
		cfg.RetryPolicy = DefaultRetryPolicy
	}
	if cfg.RedirectResolver == nil {
		cfg.RedirectResolver = PassthroughRedirectResolver{}
	}
	if cfg.Authenticator != nil && cfg.Scheme == "http" {
		return nil, &prestoerr.ConfigurationError{Reason: "cannot use authentication with HTTP"}
	}

	baseTransport, err := buildRoundTripper()
	if err != nil {
		return nil, err
	}
	if cfg.Authenticator != nil {
		baseTransport = cfg.Authenticator.Wrap(baseTransport)
	}

	httpClient := &http.Client{Transport: baseTransport, Timeout: cfg.RequestTimeout}
	noRedir := &http.Client{
		Transport: baseTransport,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	c := &Client{
		cfg:           cfg,
		sess:          sess,
		maxAttempts:   cfg.MaxAttempts,
		client:        httpClient,
		noRedirClient: noRedir,
	}
	return c, nil
}

// SetMaxAttempts rewires the retry wrapper's attempt budget. Per-call
// backoff state is rebuilt fresh for each call anyway (RetryPolicy is
// immutable), so this only needs to update the stored count.
func (c *Client) SetMaxAttempts(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.maxAttempts = n
	c.mu.Unlock()
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.cfg.Scheme, c.cfg.Host, c.cfg.Port)
}

// URL joins the configured host/port/scheme with path.
func (c *Client) URL(path string) string {
	return c.baseURL() + path
}

// Post submits body to url, applying the redirect loop through the
// configured RedirectResolver, PassthroughRedirectResolver when none is
// given (spec §4.B). On construction the caller
// should pass the statement path; subsequent redirect targets are
// re-POSTed with the same body and headers.
func (c *Client) Post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	if err := c.refreshCredentialIfNeeded(ctx); err != nil {
		return nil, err
	}

	client := c.client
	if c.cfg.RedirectResolver != nil {
		client = c.noRedirClient
	}

	resp, err := c.doWithRetry(ctx, client, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}

	if c.cfg.RedirectResolver == nil {
		return resp, nil
	}

	for isRedirect(resp.StatusCode) {
		location := resp.Header.Get("Location")
		resp.Body.Close()

		target, rerr := c.cfg.RedirectResolver.Resolve(location)
		if rerr != nil {
			return nil, fmt.Errorf("presto: redirect resolver: %w", rerr)
		}
		// A relative target is resolved against the request that was redirected.
		if resp.Request != nil {
			if abs, perr := resp.Request.URL.Parse(target); perr == nil {
				target = abs.String()
			}
		}
		slog.Info("presto: following redirect", "from", location, "to", target)

		resp, err = c.doWithRetry(ctx, client, http.MethodPost, target, body)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Get issues a GET to url (the coordinator's verbatim next_uri).
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if err := c.refreshCredentialIfNeeded(ctx); err != nil {
		return nil, err
	}
	return c.doWithRetry(ctx, c.client, http.MethodGet, url, nil)
}

// Delete issues a DELETE to url (the query cancellation endpoint).
func (c *Client) Delete(ctx context.Context, url string) (*http.Response, error) {
	if err := c.refreshCredentialIfNeeded(ctx); err != nil {
		return nil, err
	}
	return c.doWithRetry(ctx, c.client, http.MethodDelete, url, nil)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func (c *Client) refreshCredentialIfNeeded(ctx context.Context) error {
	cp := c.cfg.CredentialProvider
	if cp == nil {
		return nil
	}
	if cp.Valid(ctx) {
		c.mu.Lock()
		c.authHeader = "Bearer " + cp.Token(ctx)
		c.mu.Unlock()
		return nil
	}
	if err := cp.Refresh(ctx); err != nil {
		return fmt.Errorf("presto: refresh credential: %w", err)
	}
	c.mu.Lock()
	c.authHeader = "Bearer " + cp.Token(ctx)
	c.mu.Unlock()
	return nil
}

// doWithRetry performs method/url with the configured exponential backoff,
// retrying on transport exceptions, the authenticator's declared
// exceptions, and HTTP 503 — and on nothing else (spec §4.B). Total
// attempts never exceed maxAttempts.
func (c *Client) doWithRetry(ctx context.Context, client *http.Client, method, rawURL string, body []byte) (*http.Response, error) {
	c.mu.Lock()
	maxAttempts := c.maxAttempts
	policy := c.cfg.RetryPolicy
	authHeader := c.authHeader
	c.mu.Unlock()

	headers, err := c.sess.ToHeaders()
	if err != nil {
		return nil, err
	}
	if authHeader != "" {
		headers["Authorization"] = authHeader
	}

	attempts := 0
	var result *http.Response

	operation := func() error {
		attempts++

		req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if method == http.MethodPost {
			req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		}

		resp, err := client.Do(req)
		if err != nil {
			if c.cfg.Authenticator != nil && c.cfg.Authenticator.IsRetryable(err) {
				slog.Warn("presto: retrying after authenticator-flagged error", "attempt", attempts, "error", err)
				return err
			}
			if isTransientTransportErr(err) {
				slog.Warn("presto: retrying after transient transport error", "attempt", attempts, "error", err)
				return err
			}
			return backoff.Permanent(&prestoerr.TransportError{Cause: err})
		}

		if resp.StatusCode == http.StatusServiceUnavailable {
			resp.Body.Close()
			slog.Warn("presto: retrying after 503", "attempt", attempts)
			return errServiceUnavailable
		}

		result = resp
		return nil
	}

	if maxAttempts <= 1 {
		if err := operation(); err != nil {
			return nil, unwrapFinal(err, attempts)
		}
		return result, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.Multiplier = policy.Multiplier
	bo.MaxInterval = policy.MaxDelay
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not by wall clock

	withCtx := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx)
	if err := backoff.Retry(operation, withCtx); err != nil {
		return nil, unwrapFinal(err, attempts)
	}
	return result, nil
}

var errServiceUnavailable = errors.New("presto: 503 service unavailable")

func unwrapFinal(err error, attempts int) error {
	if errors.Is(err, errServiceUnavailable) {
		return &prestoerr.ServiceUnavailable{Attempts: attempts}
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	var te *prestoerr.TransportError
	if errors.As(err, &te) {
		return te
	}
	return &prestoerr.TransportError{Cause: err}
}

func isTransientTransportErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// buildRoundTripper returns the default transport, wrapped with a SOCKS5
// dialer when SOCKS_PROXY is set (spec §6 Environment).
func buildRoundTripper() (http.RoundTripper, error) {
	socksAddr := os.Getenv("SOCKS_PROXY")
	if socksAddr == "" {
		return http.DefaultTransport.(*http.Transport).Clone(), nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("presto: socks5 dialer for %q: %w", socksAddr, err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("presto: socks5 dialer does not support contexts")
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return contextDialer.DialContext(ctx, network, addr)
	}
	return t, nil
}

// StaticBearerAuthenticator is a minimal Authenticator that attaches a
// fixed bearer token to every outgoing request and treats no transport
// errors as specially retryable beyond the built-in connection/timeout/503
// set.
type StaticBearerAuthenticator struct {
	Token string
}

func (a *StaticBearerAuthenticator) Wrap(next http.RoundTripper) http.RoundTripper {
	return &bearerRoundTripper{token: a.Token, next: next}
}

func (a *StaticBearerAuthenticator) IsRetryable(error) bool { return false }

type bearerRoundTripper struct {
	token string
	next  http.RoundTripper
}

func (rt *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+rt.token)
	return rt.next.RoundTrip(cloned)
}

// ParsePort is a small helper for CLI callers building Config from strings.
func ParsePort(s string) (int, error) {
	return strconv.Atoi(s)
}
