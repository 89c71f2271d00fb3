package wasihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

// RoundTripperHandler is an OutgoingHandler backed by an http.RoundTripper.
// It fills the capability's role when no component host is present: tests
// run the full stack against it in-process, and native (non-wasm) builds of
// guest code can use it to talk to the network directly.
//
// Request trailers are dropped (an HTTP/1.1 transport cannot send trailers
// it did not announce up front), and the between-bytes timeout is not
// honored. Response trailers pass through.
type RoundTripperHandler struct {
	rt http.RoundTripper
}

var _ OutgoingHandler = (*RoundTripperHandler)(nil)

// NewRoundTripperHandler returns a handler that dispatches through rt. A nil
// rt means http.DefaultTransport.
func NewRoundTripperHandler(rt http.RoundTripper) *RoundTripperHandler {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &RoundTripperHandler{rt: rt}
}

// Handle dispatches the request and returns a future that resolves when
// response headers arrive. The request's authority must be set; the scheme
// defaults to https as wasi:http hosts do.
func (h *RoundTripperHandler) Handle(req *OutgoingRequest, opts *RequestOptions) (*FutureIncomingResponse, error) {
	httpReq, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	httpReq = httpReq.WithContext(ctx)

	fut, resolve := NewFutureIncomingResponse()
	fut.SetCancel(cancel)

	var firstByte *time.Timer
	if opts != nil && opts.FirstByteTimeout > 0 {
		// approximates first-byte-timeout by abandoning the request if
		// headers have not arrived in time
		firstByte = time.AfterFunc(opts.FirstByteTimeout, cancel)
	}

	go func() {
		resp, err := h.rt.RoundTrip(httpReq)
		if firstByte != nil {
			firstByte.Stop()
		}
		if err != nil {
			cancel()
			resolve(nil, classifyError(err))
			return
		}
		body := &cancelOnCloseBody{rc: resp.Body, cancel: cancel}
		resolve(NewIncomingResponse(resp.StatusCode, fieldsFromWire(resp.Header), body, func() Fields {
			return fieldsFromWire(resp.Trailer)
		}), nil)
	}()

	return fut, nil
}

func buildRequest(req *OutgoingRequest) (*http.Request, error) {
	authority := req.Authority()
	if authority == nil {
		return nil, &Error{Code: ErrorRequestDenied, Cause: errors.New("no authority")}
	}
	scheme := SchemeHTTPS
	if s := req.Scheme(); s != nil {
		scheme = *s
	}
	pq := "/"
	if p := req.PathWithQuery(); p != nil && *p != "" {
		pq = *p
	}
	u, err := url.Parse(fmt.Sprintf("%s://%s%s", scheme, *authority, pq))
	if err != nil {
		return nil, &Error{Code: ErrorRequestDenied, Cause: err}
	}

	var body io.ReadCloser = http.NoBody
	if b := req.AcquiredBody(); b != nil {
		body = b.Contents()
	}

	httpReq, err := http.NewRequest(string(req.Method()), u.String(), body)
	if err != nil {
		return nil, &Error{Code: ErrorRequestDenied, Cause: err}
	}
	httpReq.Header = req.Headers().Header()
	return httpReq, nil
}

// classifyError maps transport errors onto the capability's error codes.
// The mapping is deliberately coarse; callers that care about the exact
// failure can unwrap the cause.
func classifyError(err error) error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Code: ErrorDNS, Cause: err}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: ErrorConnectionTimeout, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Code: ErrorConnectionTimeout, Cause: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return &Error{Code: ErrorConnectionRefused, Cause: err}
		}
		return &Error{Code: ErrorConnectionTerminated, Cause: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &Error{Code: ErrorConnectionTerminated, Cause: err}
	}
	return &Error{Code: ErrorInternal, Cause: err}
}

// cancelOnCloseBody releases the request's context when the response body
// is closed, so abandoning a partially-read body frees the connection.
type cancelOnCloseBody struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Read(p []byte) (int, error) { return b.rc.Read(p) }

func (b *cancelOnCloseBody) Close() error {
	err := b.rc.Close()
	b.cancel()
	return err
}
