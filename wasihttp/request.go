package wasihttp

import (
	"errors"
	"io"
	"sync"
)

var (
	// ErrBodyAcquired is returned by OutgoingRequest.Body when the body has
	// already been acquired; a request body can be written exactly once.
	ErrBodyAcquired = errors.New("wasihttp: outgoing body already acquired")
	// ErrBodyFinished is returned when writing to or finishing a body that
	// has already been finished.
	ErrBodyFinished = errors.New("wasihttp: outgoing body already finished")
)

// OutgoingRequest is a request to be dispatched through an OutgoingHandler.
// The zero method is GET; scheme, authority, and path-with-query are unset
// until assigned. All mutation must happen before the request is handed to
// the handler.
type OutgoingRequest struct {
	method        Method
	scheme        *Scheme
	authority     *string
	pathWithQuery *string
	headers       Fields
	body          *OutgoingBody
}

// NewOutgoingRequest constructs a request carrying the given headers. A nil
// headers map is treated as empty. The headers are used as-is; they are
// expected to have been built through the Fields mutators.
func NewOutgoingRequest(headers Fields) *OutgoingRequest {
	if headers == nil {
		headers = NewFields()
	}
	return &OutgoingRequest{method: MethodGet, headers: headers}
}

// Method returns the request method.
func (r *OutgoingRequest) Method() Method { return r.method }

// SetMethod sets the request method after validating it.
func (r *OutgoingRequest) SetMethod(m Method) error {
	m, err := MethodFromString(string(m))
	if err != nil {
		return err
	}
	r.method = m
	return nil
}

// Scheme returns the target scheme, or nil if unset.
func (r *OutgoingRequest) Scheme() *Scheme { return r.scheme }

// SetScheme sets the target scheme. A nil scheme clears it, leaving the
// choice to the handler.
func (r *OutgoingRequest) SetScheme(s *Scheme) error {
	if s != nil {
		if _, err := SchemeFromString(string(*s)); err != nil {
			return err
		}
	}
	r.scheme = s
	return nil
}

// Authority returns the target authority (host[:port]), or nil if unset.
func (r *OutgoingRequest) Authority() *string { return r.authority }

// SetAuthority sets the target authority. A nil authority clears it.
func (r *OutgoingRequest) SetAuthority(a *string) error {
	if a != nil && *a == "" {
		return errors.New("wasihttp: empty authority")
	}
	r.authority = a
	return nil
}

// PathWithQuery returns the combined path and query, or nil if unset.
func (r *OutgoingRequest) PathWithQuery() *string { return r.pathWithQuery }

// SetPathWithQuery sets the combined path and query. A nil value clears it;
// handlers treat an unset path as "/".
func (r *OutgoingRequest) SetPathWithQuery(pq *string) error {
	r.pathWithQuery = pq
	return nil
}

// Headers returns the request headers.
func (r *OutgoingRequest) Headers() Fields { return r.headers }

// Body acquires the request body for writing. It can be acquired at most
// once; subsequent calls return ErrBodyAcquired. A request whose body is
// never acquired is dispatched without one.
func (r *OutgoingRequest) Body() (*OutgoingBody, error) {
	if r.body != nil {
		return nil, ErrBodyAcquired
	}
	r.body = newOutgoingBody()
	return r.body, nil
}

// AcquiredBody returns the body acquired via Body, or nil if the request has
// none. It exists for OutgoingHandler implementations, which consume the
// body's Contents while the guest writes to it.
func (r *OutgoingRequest) AcquiredBody() *OutgoingBody { return r.body }

// OutgoingBody is the write side of a request body. Writes stream through
// to the consuming handler; Finish terminates the body and must be called
// exactly once for the request to be complete.
type OutgoingBody struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu       sync.Mutex
	finished bool
	trailers Fields
}

func newOutgoingBody() *OutgoingBody {
	pr, pw := io.Pipe()
	return &OutgoingBody{pr: pr, pw: pw}
}

// Write streams p to the handler. It blocks until the handler has consumed
// the bytes or the request is aborted.
func (b *OutgoingBody) Write(p []byte) (int, error) {
	b.mu.Lock()
	finished := b.finished
	b.mu.Unlock()
	if finished {
		return 0, ErrBodyFinished
	}
	return b.pw.Write(p)
}

// Finish terminates the body, optionally attaching trailers. Whether
// trailers actually reach the peer depends on the handler's transport;
// HTTP/1.1 transports may drop them.
func (b *OutgoingBody) Finish(trailers Fields) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return ErrBodyFinished
	}
	b.finished = true
	b.trailers = trailers
	return b.pw.Close()
}

// Abort terminates the body with an error, causing the handler's reads to
// fail. Used when the caller gives up on the request mid-write.
func (b *OutgoingBody) Abort(err error) {
	b.mu.Lock()
	b.finished = true
	b.mu.Unlock()
	b.pw.CloseWithError(err)
}

// Contents returns the read side of the body, for handler implementations.
func (b *OutgoingBody) Contents() io.ReadCloser { return b.pr }

// Trailers returns the trailers attached at Finish, if any. Only valid
// after the contents have been fully consumed.
func (b *OutgoingBody) Trailers() Fields {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trailers
}
