package wasigrpc

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wasilink/wasichan/wasihttp"
)

// GrpcEndpoint dispatches HTTP requests to a fixed endpoint through a
// wasihttp.OutgoingHandler. It implements http.RoundTripper, so anything
// that speaks to an http.Client or RoundTripper — including Channel in this
// package — can issue requests across the capability boundary without
// knowing about it.
//
// Each round trip rewrites the request's scheme and authority to the
// configured endpoint (path and query pass through untouched), translates
// headers and body into the capability's representation, dispatches, and
// blocks until response headers arrive. The response body streams lazily
// from the capability as the caller reads it.
//
// Connection-specific headers (the hop-by-hop set, plus anything named by
// the Connection header) and HTTP/2 pseudo-headers never cross the
// boundary; Host and Content-Length are dropped as well, since the
// capability's transport owns them. Any remaining header that is not a
// syntactically valid HTTP field aborts the call.
type GrpcEndpoint struct {
	endpoint *url.URL
	handler  wasihttp.OutgoingHandler
	opts     *wasihttp.RequestOptions
}

var _ http.RoundTripper = (*GrpcEndpoint)(nil)

// EndpointOption customizes a GrpcEndpoint.
type EndpointOption func(*GrpcEndpoint)

// WithRequestOptions makes the endpoint pass the given transport timeouts
// to the handler on every dispatch.
func WithRequestOptions(opts wasihttp.RequestOptions) EndpointOption {
	return func(e *GrpcEndpoint) {
		o := opts
		e.opts = &o
	}
}

// NewGrpcEndpoint returns an endpoint that sends every request to target (a
// "scheme://authority" URL; any path component is ignored) through the
// given handler.
func NewGrpcEndpoint(target string, handler wasihttp.OutgoingHandler, opts ...EndpointOption) (*GrpcEndpoint, error) {
	if handler == nil {
		return nil, errors.New("wasigrpc: nil outgoing handler")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("wasigrpc: invalid endpoint target: %w", err)
	}
	if _, err := wasihttp.SchemeFromString(u.Scheme); err != nil {
		return nil, fmt.Errorf("wasigrpc: invalid endpoint target %q: %w", target, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("wasigrpc: endpoint target %q has no authority", target)
	}
	e := &GrpcEndpoint{
		endpoint: &url.URL{Scheme: u.Scheme, Host: u.Host},
		handler:  handler,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Target returns the endpoint URL requests are rewritten to.
func (e *GrpcEndpoint) Target() *url.URL {
	u := *e.endpoint
	return &u
}

// RoundTrip implements http.RoundTripper over the outgoing handler.
func (e *GrpcEndpoint) RoundTrip(req *http.Request) (*http.Response, error) {
	headers, err := requestFields(req.Header)
	if err != nil {
		return nil, fmt.Errorf("wasigrpc: converting request headers: %w", err)
	}

	out := wasihttp.NewOutgoingRequest(headers)
	if err := out.SetMethod(wasihttp.Method(req.Method)); err != nil {
		return nil, fmt.Errorf("wasigrpc: %w", err)
	}

	// the endpoint's scheme and authority supersede the request's
	scheme := wasihttp.Scheme(e.endpoint.Scheme)
	if err := out.SetScheme(&scheme); err != nil {
		return nil, fmt.Errorf("wasigrpc: %w", err)
	}
	authority := e.endpoint.Host
	if err := out.SetAuthority(&authority); err != nil {
		return nil, fmt.Errorf("wasigrpc: %w", err)
	}
	pathWithQuery := req.URL.RequestURI()
	if err := out.SetPathWithQuery(&pathWithQuery); err != nil {
		return nil, fmt.Errorf("wasigrpc: %w", err)
	}

	body, err := out.Body()
	if err != nil {
		return nil, fmt.Errorf("wasigrpc: %w", err)
	}

	fut, err := e.handler.Handle(out, e.opts)
	if err != nil {
		body.Abort(err)
		return nil, fmt.Errorf("wasigrpc: dispatching request: %w", err)
	}

	// stream the caller's body to the capability while the handler
	// consumes it; the handler may respond before the body is complete
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeBody(body, req.Body)
	}()

	resp, err := fut.Await(req.Context())
	if err != nil {
		var werr error
		select {
		case werr = <-writeErr:
		default:
			// body write still in flight; abort it so the goroutine can end
		}
		body.Abort(err)
		if werr != nil && req.Context().Err() == nil {
			// a body write failure is the more precise cause
			return nil, fmt.Errorf("wasigrpc: writing request body: %w", werr)
		}
		return nil, fmt.Errorf("wasigrpc: %w", err)
	}

	return httpResponse(resp, req)
}

// writeBody copies the caller's request body into the capability's
// outgoing body and finishes it. A nil body still gets finished, producing
// an empty request body on the wire.
func writeBody(body *wasihttp.OutgoingBody, r io.ReadCloser) error {
	if r != nil && r != http.NoBody {
		if _, err := io.Copy(body, r); err != nil {
			r.Close()
			body.Abort(err)
			return err
		}
		if err := r.Close(); err != nil {
			body.Abort(err)
			return err
		}
	}
	return body.Finish(nil)
}

// requestFields converts the caller's headers for the capability, dropping
// the fields that must not cross the boundary.
func requestFields(h http.Header) (wasihttp.Fields, error) {
	connHeaders := connectionHeaders(h)
	fields := wasihttp.NewFields()
	for name, values := range h {
		if strings.HasPrefix(name, ":") {
			// HTTP/2 pseudo-header
			continue
		}
		lower := strings.ToLower(name)
		if wasihttp.IsForbiddenField(lower) {
			continue
		}
		if _, listed := connHeaders[lower]; listed {
			continue
		}
		for _, v := range values {
			if err := fields.Append(name, v); err != nil {
				return nil, fmt.Errorf("header %q: %w", name, err)
			}
		}
	}
	return fields, nil
}

// connectionHeaders returns the set of header names listed in the
// Connection header, lower-cased.
func connectionHeaders(h http.Header) map[string]struct{} {
	listed := map[string]struct{}{}
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(strings.ToLower(name))
			if name != "" {
				listed[name] = struct{}{}
			}
		}
	}
	return listed
}

// httpResponse converts the capability's response into an http.Response
// whose body streams from the capability.
func httpResponse(resp *wasihttp.IncomingResponse, req *http.Request) (*http.Response, error) {
	incBody, err := resp.Consume()
	if err != nil {
		return nil, fmt.Errorf("wasigrpc: consuming response: %w", err)
	}
	stream, err := incBody.Stream()
	if err != nil {
		return nil, fmt.Errorf("wasigrpc: consuming response: %w", err)
	}

	header := resp.Headers().Header()
	contentLength := int64(-1)
	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			contentLength = n
		}
	}

	httpResp := &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.Status(), http.StatusText(resp.Status())),
		StatusCode:    resp.Status(),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Trailer:       http.Header{},
		ContentLength: contentLength,
		Request:       req,
	}
	httpResp.Body = &responseBody{stream: stream, body: incBody, resp: httpResp}
	return httpResp, nil
}

// responseBody streams the capability's response body and surfaces any
// trailers in the response's Trailer map once the stream hits EOF.
type responseBody struct {
	stream io.ReadCloser
	body   *wasihttp.IncomingBody
	resp   *http.Response
}

func (b *responseBody) Read(p []byte) (int, error) {
	n, err := b.stream.Read(p)
	if err == io.EOF {
		for k, vs := range b.body.Trailers().Header() {
			b.resp.Trailer[k] = vs
		}
	}
	return n, err
}

func (b *responseBody) Close() error {
	return b.stream.Close()
}
