// Package session holds the mutable protocol state of one Presto client
// session: user/catalog/schema/source, session properties, prepared
// statements, the current transaction id, and any caller-supplied extra
// headers. It is mutated both by the caller (construction-time setters) and
// by the protocol processor in response to server headers.
package session

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/prestodb/presto-go-client/internal/prestoerr"
)

// NoTransaction is the sentinel transaction id used until a real
// transaction is started.
const NoTransaction = "NONE"

// Reserved protocol header names. A collision between these and a
// caller-supplied extra header is a construction error.
const (
	HeaderUser              = "X-Presto-User"
	HeaderSource            = "X-Presto-Source"
	HeaderCatalog           = "X-Presto-Catalog"
	HeaderSchema            = "X-Presto-Schema"
	HeaderSession           = "X-Presto-Session"
	HeaderTransactionID     = "X-Presto-Transaction-Id"
	HeaderPreparedStatement = "X-Presto-Prepared-Statement"
	HeaderClearSession      = "X-Presto-Clear-Session"
	HeaderSetSession        = "X-Presto-Set-Session"
	HeaderAddedPrepare      = "X-Presto-Added-Prepare"
)

var reservedRequestHeaders = map[string]bool{
	HeaderUser:              true,
	HeaderSource:            true,
	HeaderCatalog:           true,
	HeaderSchema:            true,
	HeaderSession:           true,
	HeaderTransactionID:     true,
	HeaderPreparedStatement: true,
}

// Session is the reserved protocol field set plus user-controlled extras.
// It is not safe for concurrent use — one Query owns one Session.
type Session struct {
	User    string
	Catalog string
	Schema  string
	Source  string

	TransactionID string

	properties         map[string]string
	preparedStatements []string
	extraHeaders       map[string]string
}

// New constructs a Session for user. user must be non-empty.
func New(user string) (*Session, error) {
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("session: user is required")
	}
	return &Session{
		User:          user,
		TransactionID: NoTransaction,
		properties:    make(map[string]string),
		extraHeaders:  make(map[string]string),
	}, nil
}

// SetProperty sets a session property that will be carried on every
// subsequent request until cleared. name must not contain '='.
func (s *Session) SetProperty(name, value string) error {
	if strings.Contains(name, "=") {
		return fmt.Errorf("session: property name %q must not contain '='", name)
	}
	s.properties[name] = value
	return nil
}

// SetExtraHeader registers a caller-supplied header to merge into every
// request. It must not collide with a reserved protocol header.
func (s *Session) SetExtraHeader(name, value string) error {
	if reservedRequestHeaders[name] {
		return fmt.Errorf("session: %w", &prestoerr.ConfigurationError{Reason: fmt.Sprintf("cannot override reserved header %q", name)})
	}
	s.extraHeaders[name] = value
	return nil
}

// Properties returns a snapshot copy of the current session properties.
func (s *Session) Properties() map[string]string {
	out := make(map[string]string, len(s.properties))
	for k, v := range s.properties {
		out[k] = v
	}
	return out
}

// PreparedStatements returns the prepared-statement headers recorded so far.
func (s *Session) PreparedStatements() []string {
	out := make([]string, len(s.preparedStatements))
	copy(out, s.preparedStatements)
	return out
}

// ToHeaders serializes the session into the reserved protocol header set,
// merging extra headers last. Re-derive this on every request: mutations
// applied between polls must be reflected immediately (§5 ordering
// guarantee).
func (s *Session) ToHeaders() (map[string]string, error) {
	headers := map[string]string{
		HeaderUser: s.User,
	}
	if s.Catalog != "" {
		headers[HeaderCatalog] = s.Catalog
	}
	if s.Schema != "" {
		headers[HeaderSchema] = s.Schema
	}
	if s.Source != "" {
		headers[HeaderSource] = s.Source
	}
	if len(s.preparedStatements) > 0 {
		headers[HeaderPreparedStatement] = strings.Join(s.preparedStatements, ",")
	}

	headers[HeaderSession] = s.encodedProperties()
	headers[HeaderTransactionID] = s.TransactionID

	for k, v := range s.extraHeaders {
		if reservedRequestHeaders[k] {
			return nil, &prestoerr.ConfigurationError{Reason: fmt.Sprintf("cannot override reserved HTTP header %q", k)}
		}
		headers[k] = v
	}

	return headers, nil
}

// encodedProperties renders "name=percent_encoded_value" pairs, comma
// joined, in a stable (sorted) order so tests and wire captures are
// deterministic.
func (s *Session) encodedProperties() string {
	if len(s.properties) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.properties))
	for k := range s.properties {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+percentEncode(s.properties[name]))
	}
	return strings.Join(parts, ",")
}

// percentEncode matches the wire format the Java/Python clients use
// (RFC 3986 percent-encoding with space as %20, not '+').
func percentEncode(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// ApplyClearSession removes each named property if present. Absence of a
// name is not an error.
func (s *Session) ApplyClearSession(names []string) {
	for _, n := range names {
		delete(s.properties, n)
	}
}

// ApplySetSession inserts or overwrites each (name, value) pair. value is
// the percent-encoded form carried on the wire; it is decoded before
// storage so a later ToHeaders round-trip re-encodes it identically
// (property #3).
func (s *Session) ApplySetSession(name, encodedValue string) error {
	decoded, err := url.QueryUnescape(encodedValue)
	if err != nil {
		return fmt.Errorf("session: decode Set-Session value for %q: %w", name, err)
	}
	s.properties[name] = decoded
	return nil
}

// ApplyAddedPrepare records a server-issued prepared statement header
// verbatim; it becomes part of subsequent request headers.
func (s *Session) ApplyAddedPrepare(value string) {
	s.preparedStatements = append(s.preparedStatements, value)
}
