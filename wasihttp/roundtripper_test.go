package wasihttp_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasilink/wasichan/wasihttp"
)

func newRequest(t *testing.T, method wasihttp.Method, target, pathWithQuery string) *wasihttp.OutgoingRequest {
	t.Helper()
	u, err := url.Parse(target)
	require.NoError(t, err)

	req := wasihttp.NewOutgoingRequest(nil)
	require.NoError(t, req.SetMethod(method))
	scheme := wasihttp.Scheme(u.Scheme)
	require.NoError(t, req.SetScheme(&scheme))
	authority := u.Host
	require.NoError(t, req.SetAuthority(&authority))
	if pathWithQuery != "" {
		require.NoError(t, req.SetPathWithQuery(&pathWithQuery))
	}
	return req
}

func TestRoundTripperHandler(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo-Path", r.URL.RequestURI())
		w.Header().Set("X-Echo-Custom", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusAccepted)
		w.Write(body)
	}))
	defer svr.Close()

	h := wasihttp.NewRoundTripperHandler(nil)

	req := newRequest(t, wasihttp.MethodPost, svr.URL, "/things?q=1")
	require.NoError(t, req.Headers().Set("X-Custom", "yes"))
	body, err := req.Body()
	require.NoError(t, err)

	fut, err := h.Handle(req, nil)
	require.NoError(t, err)

	go func() {
		body.Write([]byte("hello"))
		body.Finish(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := fut.Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.Status())
	assert.Equal(t, []string{"/things?q=1"}, resp.Headers().Get("x-echo-path"))
	assert.Equal(t, []string{"yes"}, resp.Headers().Get("x-echo-custom"))

	incBody, err := resp.Consume()
	require.NoError(t, err)
	stream, err := incBody.Stream()
	require.NoError(t, err)
	defer stream.Close()
	b, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestRoundTripperHandler_Trailers(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Trailer", "X-After")
		w.Write([]byte("payload"))
		w.Header().Set("X-After", "done")
	}))
	defer svr.Close()

	h := wasihttp.NewRoundTripperHandler(nil)
	req := newRequest(t, wasihttp.MethodGet, svr.URL, "/")

	fut, err := h.Handle(req, nil)
	require.NoError(t, err)
	resp, err := fut.Await(context.Background())
	require.NoError(t, err)

	incBody, err := resp.Consume()
	require.NoError(t, err)
	stream, err := incBody.Stream()
	require.NoError(t, err)
	defer stream.Close()

	// trailers are not available until the stream has been fully read
	assert.Nil(t, incBody.Trailers())

	b, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
	assert.Equal(t, []string{"done"}, incBody.Trailers().Get("x-after"))
}

func TestRoundTripperHandler_NoAuthority(t *testing.T) {
	h := wasihttp.NewRoundTripperHandler(nil)
	req := wasihttp.NewOutgoingRequest(nil)

	_, err := h.Handle(req, nil)
	var werr *wasihttp.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasihttp.ErrorRequestDenied, werr.Code)
}

func TestRoundTripperHandler_ConnectionRefused(t *testing.T) {
	// grab a port with nothing listening on it
	svr := httptest.NewServer(http.NotFoundHandler())
	target := svr.URL
	svr.Close()

	h := wasihttp.NewRoundTripperHandler(nil)
	req := newRequest(t, wasihttp.MethodGet, target, "/")

	fut, err := h.Handle(req, nil)
	require.NoError(t, err)
	_, err = fut.Await(context.Background())
	var werr *wasihttp.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasihttp.ErrorConnectionRefused, werr.Code)
}

func TestRoundTripperHandler_FirstByteTimeout(t *testing.T) {
	block := make(chan struct{})
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer svr.Close()
	// unblock the handler before svr.Close() waits on it
	defer close(block)

	h := wasihttp.NewRoundTripperHandler(nil)
	req := newRequest(t, wasihttp.MethodGet, svr.URL, "/")

	fut, err := h.Handle(req, &wasihttp.RequestOptions{FirstByteTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = fut.Await(context.Background())
	require.Error(t, err)
}

func TestFutureIncomingResponse_AwaitCancel(t *testing.T) {
	fut, resolve := wasihttp.NewFutureIncomingResponse()

	canceled := false
	fut.SetCancel(func() { canceled = true })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fut.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, canceled)

	// late resolution is still observable through Done/Result
	want := errors.New("boom")
	resolve(nil, want)
	resolve(nil, errors.New("ignored")) // second resolve is a no-op
	<-fut.Done()
	_, err = fut.Result()
	assert.Equal(t, want, err)
}

func TestOutgoingBody_Semantics(t *testing.T) {
	req := wasihttp.NewOutgoingRequest(nil)
	assert.Nil(t, req.AcquiredBody())

	body, err := req.Body()
	require.NoError(t, err)
	assert.Same(t, body, req.AcquiredBody())

	_, err = req.Body()
	assert.ErrorIs(t, err, wasihttp.ErrBodyAcquired)

	go func() {
		io.Copy(io.Discard, body.Contents())
	}()
	_, err = body.Write([]byte("data"))
	require.NoError(t, err)

	trailers := wasihttp.NewFields()
	require.NoError(t, trailers.Set("x-sum", "abc"))
	require.NoError(t, body.Finish(trailers))
	assert.ErrorIs(t, body.Finish(nil), wasihttp.ErrBodyFinished)
	_, err = body.Write([]byte("late"))
	assert.ErrorIs(t, err, wasihttp.ErrBodyFinished)

	assert.Equal(t, []string{"abc"}, body.Trailers().Get("x-sum"))
}

func TestOutgoingBody_Abort(t *testing.T) {
	req := wasihttp.NewOutgoingRequest(nil)
	body, err := req.Body()
	require.NoError(t, err)

	cause := errors.New("gave up")
	body.Abort(cause)

	_, err = io.ReadAll(body.Contents())
	assert.ErrorIs(t, err, cause)
}

func TestIncomingResponse_ConsumeOnce(t *testing.T) {
	resp := wasihttp.NewIncomingResponse(200, wasihttp.NewFields(), io.NopCloser(strings.NewReader("")), nil)

	incBody, err := resp.Consume()
	require.NoError(t, err)
	_, err = resp.Consume()
	assert.ErrorIs(t, err, wasihttp.ErrBodyConsumed)

	_, err = incBody.Stream()
	require.NoError(t, err)
	_, err = incBody.Stream()
	assert.ErrorIs(t, err, wasihttp.ErrStreamAcquired)
}
