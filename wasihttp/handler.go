package wasihttp

import (
	"context"
	"sync"
	"time"
)

// OutgoingHandler is the HTTP-calling capability: it dispatches an outgoing
// request and returns a future that resolves once response headers arrive.
// Inside a component this is backed by the host's outgoing-handler import;
// elsewhere, RoundTripperHandler provides it over an http.RoundTripper.
//
// Handle returns an error only for requests that cannot be dispatched at
// all (e.g. missing authority). Transport failures surface through the
// future.
type OutgoingHandler interface {
	Handle(req *OutgoingRequest, opts *RequestOptions) (*FutureIncomingResponse, error)
}

// RequestOptions carries per-request transport timeouts. A nil options
// value, or a zero duration for any field, leaves the corresponding
// behavior to the handler. Handlers that cannot honor a particular timeout
// approximate or ignore it.
type RequestOptions struct {
	ConnectTimeout      time.Duration
	FirstByteTimeout    time.Duration
	BetweenBytesTimeout time.Duration
}

// FutureIncomingResponse is the pending result of a dispatched request. It
// resolves exactly once, with either a response or an error; the resolved
// result is stable across repeated reads.
type FutureIncomingResponse struct {
	done chan struct{}

	once sync.Once
	resp *IncomingResponse
	err  error

	cancelMu sync.Mutex
	cancel   func()
}

// NewFutureIncomingResponse returns an unresolved future and the function a
// handler calls to resolve it. Resolving more than once is a no-op.
func NewFutureIncomingResponse() (*FutureIncomingResponse, func(*IncomingResponse, error)) {
	f := &FutureIncomingResponse{done: make(chan struct{})}
	resolve := func(resp *IncomingResponse, err error) {
		f.once.Do(func() {
			f.resp = resp
			f.err = err
			close(f.done)
		})
	}
	return f, resolve
}

// Done returns a channel that is closed when the future resolves.
func (f *FutureIncomingResponse) Done() <-chan struct{} { return f.done }

// Result returns the resolved response or error. It must only be called
// after Done is closed.
func (f *FutureIncomingResponse) Result() (*IncomingResponse, error) {
	return f.resp, f.err
}

// Await blocks until the future resolves or ctx is done. If ctx ends first,
// the in-flight request is canceled and the context's error is returned.
func (f *FutureIncomingResponse) Await(ctx context.Context) (*IncomingResponse, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		f.Cancel()
		return nil, ctx.Err()
	}
}

// SetCancel installs the function Cancel uses to abandon the in-flight
// request. Handlers install it before returning the future.
func (f *FutureIncomingResponse) SetCancel(fn func()) {
	f.cancelMu.Lock()
	f.cancel = fn
	f.cancelMu.Unlock()
}

// Cancel abandons the in-flight request, if the handler supports it. It is
// safe to call at any time, including after resolution.
func (f *FutureIncomingResponse) Cancel() {
	f.cancelMu.Lock()
	fn := f.cancel
	f.cancelMu.Unlock()
	if fn != nil {
		fn()
	}
}
