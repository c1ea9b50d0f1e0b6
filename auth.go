package presto

import "github.com/prestodb/presto-go-client/internal/transport"

// Collaborator interfaces (spec §6), re-exported from internal/transport so
// implementations live alongside the rest of the public API.
type (
	Authenticator      = transport.Authenticator
	RedirectResolver   = transport.RedirectResolver
	CredentialProvider = transport.CredentialProvider
	RetryPolicy        = transport.RetryPolicy
)

// PassthroughRedirectResolver is the default RedirectResolver: it returns
// the Location header unchanged.
type PassthroughRedirectResolver = transport.PassthroughRedirectResolver

// StaticBearerAuthenticator attaches a fixed bearer token to every request.
type StaticBearerAuthenticator = transport.StaticBearerAuthenticator

// DefaultRetryPolicy is the exponential backoff policy used when the
// caller does not supply one.
var DefaultRetryPolicy = transport.DefaultRetryPolicy
