package relay

import "errors"

// Sentinel errors classifying failed relay operations.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("validation failed")
	ErrAccessDenied   = errors.New("access denied")
	ErrUnavailable    = errors.New("relay unavailable")
)

// Error kind strings carried in ErrorPayload.
const (
	KindAuthentication = "authentication"
	KindValidation     = "validation"
	KindAccessDenied   = "access_denied"
	KindUnavailable    = "relay_unavailable"
)

// KindOf maps an error to its wire kind. Unclassified errors report as
// relay_unavailable so internal detail never reaches clients.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	default:
		return KindUnavailable
	}
}
