package presto

import "github.com/prestodb/presto-go-client/internal/prestoerr"

// Error kinds (spec §7). These are thin aliases over internal/prestoerr so
// callers can match them without importing an internal package, e.g.
// `var ue *presto.UserError; errors.As(err, &ue)`.
type (
	ConfigurationError = prestoerr.ConfigurationError
	TransportError     = prestoerr.TransportError
	ServiceUnavailable = prestoerr.ServiceUnavailable
	HTTPError          = prestoerr.HTTPError
	ExternalError      = prestoerr.ExternalError
	UserError          = prestoerr.UserError
	QueryError         = prestoerr.QueryError
	TypeMappingError   = prestoerr.TypeMappingError
	QueryErrorInfo     = prestoerr.QueryErrorInfo
)
