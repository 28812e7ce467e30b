package httpd

import (
	"errors"
	"fmt"
)

// Kind classifies the failures that map to a defined HTTP response.
type Kind int

const (
	MethodNotImplemented Kind = iota + 1
	NotFound
	UnknownType
	RequestTooLarge
	Timeout
)

func (k Kind) Error() string {
	switch k {
	case MethodNotImplemented:
		return "method not implemented"
	case NotFound:
		return "requested content does not exist"
	case UnknownType:
		return "unknown content type"
	case RequestTooLarge:
		return "request header too large"
	case Timeout:
		return "timed out reading request"
	default:
		return fmt.Sprintf("unknown error kind: %d", int(k))
	}
}

// Error wraps a Kind together with what it applies to.
type Error struct {
	Kind Kind
	// Subject is the method, path or peer address the error is about.
	Subject    string
	underlying error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Subject != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Subject)
	}
	if e.underlying != nil {
		return fmt.Sprintf("%s (underlying: %v)", msg, e.underlying)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.underlying
}

// Is reports whether target is the Kind of e, so errors.Is(err, NotFound) works.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func newError(k Kind, subject string, underlying error) *Error {
	return &Error{
		Kind:       k,
		Subject:    subject,
		underlying: underlying,
	}
}

// KindOf returns the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

var (
	// ErrMalformedRequest is returned for a GET request line without a target.
	ErrMalformedRequest = errors.New("httpd: malformed request line")
	// ErrIncompleteRequest is returned when the peer closes before the header terminator.
	ErrIncompleteRequest = errors.New("httpd: connection closed before end of request header")
)
