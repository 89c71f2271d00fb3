package wasihttp

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	// ErrForbiddenField is returned when setting a field whose name the
	// capability reserves for the transport (e.g. "host", "content-length",
	// or a connection-specific header).
	ErrForbiddenField = errors.New("wasihttp: forbidden field name")
	// ErrInvalidSyntax is returned when a field name or value is not
	// syntactically valid per the HTTP field grammar.
	ErrInvalidSyntax = errors.New("wasihttp: invalid field syntax")
)

// forbiddenFields are names that guest code may never set. The transport
// computes these itself; letting the guest supply them would allow request
// smuggling across the capability boundary.
var forbiddenFields = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"connection":        {},
	"keep-alive":        {},
	"proxy-connection":  {},
	"te":                {},
	"trailer":           {},
	"transfer-encoding": {},
	"upgrade":           {},
	"http2-settings":    {},
}

// Fields is an HTTP field multimap (headers or trailers) as seen across the
// capability boundary. Keys are stored lower-cased. Mutations validate the
// field name and value and reject forbidden names; use the mutators rather
// than indexing the map directly when the entries come from untrusted input.
type Fields map[string][]string

// NewFields returns an empty, mutable field map.
func NewFields() Fields {
	return Fields{}
}

// FieldsFromHeader converts an http.Header into Fields, applying the same
// validation as the mutators. It fails on the first invalid or forbidden
// field; callers that need to tolerate such fields must filter beforehand.
func FieldsFromHeader(h http.Header) (Fields, error) {
	f := make(Fields, len(h))
	for name, values := range h {
		for _, v := range values {
			if err := f.Append(name, v); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// fieldsFromWire converts response headers received from the transport.
// Unlike FieldsFromHeader, it performs no forbidden-name check: the
// transport legitimately produces fields like content-length.
func fieldsFromWire(h http.Header) Fields {
	f := make(Fields, len(h))
	for name, values := range h {
		k := strings.ToLower(name)
		f[k] = append(f[k], values...)
	}
	return f
}

// Get returns all values for the named field, or nil if it is absent.
func (f Fields) Get(name string) []string {
	return f[strings.ToLower(name)]
}

// Has reports whether the named field is present.
func (f Fields) Has(name string) bool {
	_, ok := f[strings.ToLower(name)]
	return ok
}

// Set replaces all values of the named field.
func (f Fields) Set(name string, values ...string) error {
	k, err := checkField(name, values)
	if err != nil {
		return err
	}
	f[k] = values
	return nil
}

// Append adds a value to the named field, keeping any existing values.
func (f Fields) Append(name, value string) error {
	k, err := checkField(name, []string{value})
	if err != nil {
		return err
	}
	f[k] = append(f[k], value)
	return nil
}

// Delete removes the named field.
func (f Fields) Delete(name string) {
	delete(f, strings.ToLower(name))
}

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	c := make(Fields, len(f))
	for k, vs := range f {
		c[k] = append([]string(nil), vs...)
	}
	return c
}

// Header converts f into an http.Header with canonical MIME keys.
func (f Fields) Header() http.Header {
	h := make(http.Header, len(f))
	for k, vs := range f {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

func checkField(name string, values []string) (string, error) {
	if !httpguts.ValidHeaderFieldName(name) {
		return "", ErrInvalidSyntax
	}
	for _, v := range values {
		if !httpguts.ValidHeaderFieldValue(v) {
			return "", ErrInvalidSyntax
		}
	}
	k := strings.ToLower(name)
	if _, ok := forbiddenFields[k]; ok {
		return "", ErrForbiddenField
	}
	return k, nil
}

// IsForbiddenField reports whether the named field is one the capability
// refuses to let guest code set.
func IsForbiddenField(name string) bool {
	_, ok := forbiddenFields[strings.ToLower(name)]
	return ok
}
