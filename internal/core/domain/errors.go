package domain

import "fmt"

// Kind is the closed set of error classifications the handler maps to a
// client response or a mid-stream termination (see the handler's failure
// table).
type Kind string

const (
	KindMalformedRequest Kind = "malformed_request"
	KindConnectError     Kind = "connect_error"
	KindConnectTimeout   Kind = "connect_timeout"
	KindReadTimeout      Kind = "read_timeout"
	KindWriteTimeout     Kind = "write_timeout"
	KindTotalTimeout     Kind = "total_timeout"
	KindPeerClosed       Kind = "peer_closed"
	KindConfigError      Kind = "config_error"
)

// Error is a structured, kind-tagged error carrying enough context (the
// failed operation and, where relevant, the upstream identity) for logging
// and metrics without leaking raw stack traces to the client.
type Error struct {
	Cause    error
	Op       string
	Upstream string
	Kind     Kind
}

func (e *Error) Error() string {
	switch {
	case e.Upstream != "" && e.Cause != nil:
		return fmt.Sprintf("[%s] %s %s: %v", e.Kind, e.Op, e.Upstream, e.Cause)
	case e.Upstream != "":
		return fmt.Sprintf("[%s] %s %s", e.Kind, e.Op, e.Upstream)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewError(kind Kind, op, upstream string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Upstream: upstream, Cause: cause}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
