package wasihttp

import "fmt"

// ErrorCode is a coarse classification of transport failures, mirroring the
// wasi:http error-code variant. Handlers classify the failures they can
// recognize; everything else is ErrorInternal.
type ErrorCode int

const (
	ErrorInternal ErrorCode = iota
	ErrorDNS
	ErrorConnectionRefused
	ErrorConnectionTimeout
	ErrorConnectionTerminated
	ErrorHTTPProtocol
	ErrorRequestDenied
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorDNS:
		return "DNS-error"
	case ErrorConnectionRefused:
		return "connection-refused"
	case ErrorConnectionTimeout:
		return "connection-timeout"
	case ErrorConnectionTerminated:
		return "connection-terminated"
	case ErrorHTTPProtocol:
		return "HTTP-protocol-error"
	case ErrorRequestDenied:
		return "HTTP-request-denied"
	default:
		return "internal-error"
	}
}

// Error is a transport failure surfaced through a future.
type Error struct {
	Code ErrorCode
	// Cause is the underlying transport error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("wasihttp: %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("wasihttp: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }
