package wasihttp

import (
	"fmt"

	"golang.org/x/net/http/httpguts"
)

// Method is an HTTP request method. The standard methods have constants
// below; any other valid token passes through unchanged, mirroring the
// capability's other(string) arm.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodConnect Method = "CONNECT"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
	MethodPatch   Method = "PATCH"
)

// MethodFromString validates s as an HTTP method token.
func MethodFromString(s string) (Method, error) {
	// method tokens share the field-name grammar
	if s == "" || !httpguts.ValidHeaderFieldName(s) {
		return "", fmt.Errorf("wasihttp: invalid method %q", s)
	}
	return Method(s), nil
}

// Scheme is a URI scheme. Only http and https are given constants; other
// syntactically valid schemes pass through.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// SchemeFromString validates s per the URI scheme grammar
// (ALPHA *( ALPHA / DIGIT / "+" / "-" / "." )).
func SchemeFromString(s string) (Scheme, error) {
	if !validScheme(s) {
		return "", fmt.Errorf("wasihttp: invalid scheme %q", s)
	}
	return Scheme(s), nil
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
