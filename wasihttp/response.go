package wasihttp

import (
	"errors"
	"io"
	"sync"
)

var (
	// ErrBodyConsumed is returned by IncomingResponse.Consume when the body
	// has already been consumed.
	ErrBodyConsumed = errors.New("wasihttp: incoming body already consumed")
	// ErrStreamAcquired is returned by IncomingBody.Stream when the stream
	// has already been acquired.
	ErrStreamAcquired = errors.New("wasihttp: incoming body stream already acquired")
)

// IncomingResponse is a response received through an OutgoingHandler.
type IncomingResponse struct {
	status   int
	headers  Fields
	body     *IncomingBody
	consumed bool
}

// NewIncomingResponse constructs a response, for OutgoingHandler
// implementations. The trailers function, if non-nil, is invoked once after
// the body has been read to EOF and should return whatever trailer fields
// the transport produced.
func NewIncomingResponse(status int, headers Fields, body io.ReadCloser, trailers func() Fields) *IncomingResponse {
	return &IncomingResponse{
		status:  status,
		headers: headers,
		body:    &IncomingBody{rc: body, trailerFn: trailers},
	}
}

// Status returns the HTTP status code.
func (r *IncomingResponse) Status() int { return r.status }

// Headers returns the response headers.
func (r *IncomingResponse) Headers() Fields { return r.headers }

// Consume acquires the response body. It can be called at most once.
func (r *IncomingResponse) Consume() (*IncomingBody, error) {
	if r.consumed {
		return nil, ErrBodyConsumed
	}
	r.consumed = true
	return r.body, nil
}

// IncomingBody is the read side of a response body.
type IncomingBody struct {
	rc        io.ReadCloser
	trailerFn func() Fields

	mu       sync.Mutex
	acquired bool
	eof      bool
	trailers Fields
}

// Stream returns the body contents as a reader. It can be acquired at most
// once; closing the returned reader releases the underlying transport
// resources, discarding any unread bytes.
func (b *IncomingBody) Stream() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acquired {
		return nil, ErrStreamAcquired
	}
	b.acquired = true
	return &bodyStream{body: b}, nil
}

// Trailers returns the trailer fields produced by the transport. It returns
// nil until the stream has been read to EOF.
func (b *IncomingBody) Trailers() Fields {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trailers
}

func (b *IncomingBody) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.eof {
		return
	}
	b.eof = true
	if b.trailerFn != nil {
		b.trailers = b.trailerFn()
	}
}

// bodyStream wraps the transport reader so that trailers materialize at EOF.
type bodyStream struct {
	body *IncomingBody
}

func (s *bodyStream) Read(p []byte) (int, error) {
	n, err := s.body.rc.Read(p)
	if err == io.EOF {
		s.body.finish()
	}
	return n, err
}

func (s *bodyStream) Close() error {
	return s.body.rc.Close()
}
