// Package presto implements the core of the Presto/Trino HTTP query
// protocol: session state, the retrying HTTP request layer, the protocol
// processor, the query driver state machine, and optional typed row
// mapping. See SPEC_FULL.md for the full design.
package presto

import (
	"time"

	"github.com/prestodb/presto-go-client/internal/session"
	"github.com/prestodb/presto-go-client/internal/transport"
)

// Session is the protocol's mutable session state (spec §3/§4.A):
// user/catalog/schema/source, session properties, prepared statements, and
// the current transaction id.
type Session = session.Session

// SessionOption configures a Session at construction.
type SessionOption func(*Session) error

// NewSession constructs a Session for user, applying opts in order. user
// must be non-empty.
func NewSession(user string, opts ...SessionOption) (*Session, error) {
	s, err := session.New(user)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithCatalog sets the default catalog.
func WithCatalog(catalog string) SessionOption {
	return func(s *Session) error { s.Catalog = catalog; return nil }
}

// WithSchema sets the default schema.
func WithSchema(schema string) SessionOption {
	return func(s *Session) error { s.Schema = schema; return nil }
}

// WithSource sets the client-identifying source tag.
func WithSource(source string) SessionOption {
	return func(s *Session) error { s.Source = source; return nil }
}

// WithSessionProperty sets a session property understood by the
// coordinator (see the output of `SHOW SESSION`). name must not contain
// '='.
func WithSessionProperty(name, value string) SessionOption {
	return func(s *Session) error { return s.SetProperty(name, value) }
}

// WithExtraHeader merges a caller-supplied HTTP header into every request.
// It must not collide with a reserved protocol header.
func WithExtraHeader(name, value string) SessionOption {
	return func(s *Session) error { return s.SetExtraHeader(name, value) }
}

// ClientConfig is the RequestConfig of spec §3: everything needed to reach
// a coordinator and how to behave when it is slow or unreachable.
// NewQuery copies it; changing the struct afterwards does not affect an
// existing Query.
type ClientConfig struct {
	Host   string
	Port   int
	Scheme string // "http" (default) or "https"

	MaxAttempts    int // ≥1; 1 disables retry entirely
	RequestTimeout time.Duration
	RetryPolicy    RetryPolicy // zero value ⇒ DefaultRetryPolicy

	Authenticator      Authenticator
	RedirectResolver   RedirectResolver
	CredentialProvider CredentialProvider

	// TypedResults enables the typed row mapper (component E): Result.Next
	// returns native Go values (time.Time, decimal.Decimal, ...) instead of
	// the raw JSON-decoded cell.
	TypedResults bool
}

func (c ClientConfig) toTransportConfig() transport.Config {
	return transport.Config{
		Host:               c.Host,
		Port:               c.Port,
		Scheme:             c.Scheme,
		MaxAttempts:        c.MaxAttempts,
		RequestTimeout:     c.RequestTimeout,
		RetryPolicy:        c.RetryPolicy,
		Authenticator:      c.Authenticator,
		RedirectResolver:   c.RedirectResolver,
		CredentialProvider: c.CredentialProvider,
	}
}
