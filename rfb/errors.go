package rfb

import (
	"errors"
	"fmt"
)

// Kind classifies protocol engine failures. Every kind is fatal for the
// session that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	HandshakeTimeout
	ProtocolViolation
	MalformedRectangle
	OutOfBounds
	UnsupportedEncoding
	UnsupportedFormat
	TransportClosed
	ServerError
)

func (k Kind) String() string {
	switch k {
	case HandshakeTimeout:
		return "handshake timeout"
	case ProtocolViolation:
		return "protocol violation"
	case MalformedRectangle:
		return "malformed rectangle"
	case OutOfBounds:
		return "out of bounds"
	case UnsupportedEncoding:
		return "unsupported encoding"
	case UnsupportedFormat:
		return "unsupported format"
	case TransportClosed:
		return "transport closed"
	case ServerError:
		return "server error"
	default:
		return "unknown"
	}
}

// ErrUnknownMessage reports a message discriminator this engine does not
// understand. It is the only non-fatal decode failure.
var ErrUnknownMessage = errors.New("rfb: unknown message type")

// Error carries the kind of failure along with the operation that hit it.
type Error struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rfb %s: %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("rfb %s: %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same Kind. An empty Op on the target
// matches any operation.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Op == "" || t.Op == e.Op)
}

// NewError builds an *Error. err may be nil.
func NewError(op string, kind Kind, message string, err error) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// Errorf builds an *Error with a formatted message.
func Errorf(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries one of the given kinds. With no kinds
// it reports whether err is an *Error at all.
func IsKind(err error, kinds ...Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}
