package wasihttp

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields_Mutators(t *testing.T) {
	f := NewFields()
	require.NoError(t, f.Set("X-Custom", "one"))
	require.NoError(t, f.Append("x-custom", "two"))

	assert.Equal(t, []string{"one", "two"}, f.Get("X-CUSTOM"))
	assert.True(t, f.Has("x-Custom"))

	f.Delete("X-Custom")
	assert.False(t, f.Has("x-custom"))
	assert.Nil(t, f.Get("x-custom"))
}

func TestFields_RejectsForbidden(t *testing.T) {
	f := NewFields()
	for _, name := range []string{
		"Host",
		"Content-Length",
		"Connection",
		"Keep-Alive",
		"Te",
		"Trailer",
		"Transfer-Encoding",
		"Upgrade",
	} {
		assert.ErrorIs(t, f.Set(name, "x"), ErrForbiddenField, name)
		assert.ErrorIs(t, f.Append(name, "x"), ErrForbiddenField, name)
		assert.True(t, IsForbiddenField(name), name)
	}
	assert.False(t, IsForbiddenField("X-Custom"))
}

func TestFields_RejectsInvalidSyntax(t *testing.T) {
	f := NewFields()
	assert.ErrorIs(t, f.Set("bad name", "x"), ErrInvalidSyntax)
	assert.ErrorIs(t, f.Set("", "x"), ErrInvalidSyntax)
	assert.ErrorIs(t, f.Set("x-ok", "bad\x00value"), ErrInvalidSyntax)
	assert.ErrorIs(t, f.Append("x-ok", "bad\nvalue"), ErrInvalidSyntax)
	// nothing should have been recorded
	assert.Empty(t, f)
}

func TestFieldsFromHeader(t *testing.T) {
	h := http.Header{}
	h.Add("X-One", "1")
	h.Add("X-One", "2")
	h.Add("X-Two", "3")

	f, err := FieldsFromHeader(h)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, f.Get("x-one"))
	assert.Equal(t, []string{"3"}, f.Get("x-two"))

	h.Set("Host", "evil")
	_, err = FieldsFromHeader(h)
	assert.ErrorIs(t, err, ErrForbiddenField)
}

func TestFields_CloneAndHeader(t *testing.T) {
	f := NewFields()
	require.NoError(t, f.Set("x-a", "1", "2"))

	c := f.Clone()
	require.NoError(t, c.Set("x-a", "changed"))
	assert.Equal(t, []string{"1", "2"}, f.Get("x-a"))

	h := f.Header()
	assert.Equal(t, []string{"1", "2"}, h.Values("X-A"))

	assert.Nil(t, Fields(nil).Clone())
}

func TestMethodFromString(t *testing.T) {
	m, err := MethodFromString("PATCH")
	require.NoError(t, err)
	assert.Equal(t, Method("PATCH"), m)

	_, err = MethodFromString("")
	assert.Error(t, err)
	_, err = MethodFromString("GET POST")
	assert.Error(t, err)
}

func TestSchemeFromString(t *testing.T) {
	for _, ok := range []string{"http", "https", "ws", "x+y", "a1-b."} {
		_, err := SchemeFromString(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "1http", "-x", "ht tp", "ht@p"} {
		_, err := SchemeFromString(bad)
		assert.Error(t, err, bad)
	}
}
