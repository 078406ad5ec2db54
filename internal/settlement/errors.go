package settlement

import "errors"

// Kind groups failures the way callers need to react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindValidation
	KindState
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is a classified protocol failure. Sentinel values are compared with
// errors.Is, so wrapping with %w keeps both the identity and the kind.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError declares a classified sentinel error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Unauthorized(message string) *Error { return NewError(KindAuthorization, message) }
func Invalid(message string) *Error      { return NewError(KindValidation, message) }
func BadState(message string) *Error     { return NewError(KindState, message) }
func Insufficient(message string) *Error { return NewError(KindResource, message) }

// KindOf reports the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
