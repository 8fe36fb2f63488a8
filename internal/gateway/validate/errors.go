package validate

import "fmt"

// Kind classifies a validation failure. The kind decides the HTTP status:
// InvalidFormat maps to 400, DisallowedDomain and PrivateAddress to 403.
type Kind int

const (
	KindInvalidFormat Kind = iota
	KindDisallowedDomain
	KindPrivateAddress
)

func (k Kind) String() string {
	switch k {
	case KindInvalidFormat:
		return "invalid_format"
	case KindDisallowedDomain:
		return "disallowed_domain"
	case KindPrivateAddress:
		return "private_address"
	}
	return "unknown"
}

// Error is a validation failure with a classification.
// The message is safe to log but MUST NOT be sent to clients for the
// security kinds: handlers substitute a generic message instead.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsSecurityRejection reports whether err is a validation error that must be
// answered with 403 and a redacted message.
func IsSecurityRejection(err error) bool {
	ve, ok := err.(*Error)
	return ok && (ve.Kind == KindDisallowedDomain || ve.Kind == KindPrivateAddress)
}
