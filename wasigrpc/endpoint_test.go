package wasigrpc_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/wasilink/wasichan/wasigrpc"
	"github.com/wasilink/wasichan/wasihttp"
)

// fakeHandler records the request it is handed and resolves with a canned
// response after consuming the request body.
type fakeHandler struct {
	lastReq *wasihttp.OutgoingRequest
	gotBody []byte

	status   int
	respHdr  wasihttp.Fields
	respBody string
	trailers wasihttp.Fields
	err      error
}

func (h *fakeHandler) Handle(req *wasihttp.OutgoingRequest, opts *wasihttp.RequestOptions) (*wasihttp.FutureIncomingResponse, error) {
	if h.err != nil {
		return nil, h.err
	}
	h.lastReq = req
	fut, resolve := wasihttp.NewFutureIncomingResponse()
	go func() {
		if b := req.AcquiredBody(); b != nil {
			data, _ := io.ReadAll(b.Contents())
			h.gotBody = data
		}
		hdr := h.respHdr
		if hdr == nil {
			hdr = wasihttp.NewFields()
		}
		status := h.status
		if status == 0 {
			status = http.StatusOK
		}
		var trailerFn func() wasihttp.Fields
		if h.trailers != nil {
			trailerFn = func() wasihttp.Fields { return h.trailers }
		}
		resolve(wasihttp.NewIncomingResponse(status, hdr, io.NopCloser(strings.NewReader(h.respBody)), trailerFn), nil)
	}()
	return fut, nil
}

func TestNewGrpcEndpoint_Validation(t *testing.T) {
	h := &fakeHandler{}
	if _, err := wasigrpc.NewGrpcEndpoint("https://backend.example", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if _, err := wasigrpc.NewGrpcEndpoint("://nope", h); err == nil {
		t.Fatal("expected error for unparseable target")
	}
	if _, err := wasigrpc.NewGrpcEndpoint("https://", h); err == nil {
		t.Fatal("expected error for missing authority")
	}
	if _, err := wasigrpc.NewGrpcEndpoint("1bad://host", h); err == nil {
		t.Fatal("expected error for invalid scheme")
	}
	ep, err := wasigrpc.NewGrpcEndpoint("https://backend.example:8443/ignored", h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ep.Target().String(); got != "https://backend.example:8443" {
		t.Fatalf("wrong target: %q", got)
	}
}

func TestGrpcEndpoint_RewritesTarget(t *testing.T) {
	h := &fakeHandler{}
	ep, err := wasigrpc.NewGrpcEndpoint("https://backend.example:8443", h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "http://original.example:1234/foo/bar?x=y", strings.NewReader("ping"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set("X-Custom", "yes")
	req.Header.Set("Te", "trailers")         // hop-by-hop, must not cross
	req.Header.Set("Host", "spoofed")        // transport-owned
	req.Header.Set("X-Dropped", "no")        // listed in Connection
	req.Header.Set("Connection", "x-dropped")

	resp, err := ep.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	defer resp.Body.Close()

	out := h.lastReq
	if out.Method() != wasihttp.MethodPost {
		t.Fatalf("wrong method: %v", out.Method())
	}
	if s := out.Scheme(); s == nil || *s != "https" {
		t.Fatalf("scheme not rewritten: %v", s)
	}
	if a := out.Authority(); a == nil || *a != "backend.example:8443" {
		t.Fatalf("authority not rewritten: %v", a)
	}
	if pq := out.PathWithQuery(); pq == nil || *pq != "/foo/bar?x=y" {
		t.Fatalf("path and query not preserved: %v", pq)
	}
	if got := out.Headers().Get("x-custom"); len(got) != 1 || got[0] != "yes" {
		t.Fatalf("custom header not forwarded: %v", got)
	}
	for _, name := range []string{"te", "host", "connection", "x-dropped"} {
		if out.Headers().Has(name) {
			t.Fatalf("header %q should not have crossed the boundary", name)
		}
	}
	if string(h.gotBody) != "ping" {
		t.Fatalf("wrong body forwarded: %q", h.gotBody)
	}
}

func TestGrpcEndpoint_InvalidHeader(t *testing.T) {
	h := &fakeHandler{}
	ep, err := wasigrpc.NewGrpcEndpoint("https://backend.example", h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, "https://backend.example/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header["X-Bad"] = []string{"ctl\x00char"}

	if _, err := ep.RoundTrip(req); err == nil {
		t.Fatal("expected error for invalid header value")
	}
}

func TestGrpcEndpoint_ResponseTrailers(t *testing.T) {
	trailers := wasihttp.NewFields()
	if err := trailers.Set("grpc-status", "0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := &fakeHandler{respBody: "pong", trailers: trailers}
	ep, err := wasigrpc.NewGrpcEndpoint("https://backend.example", h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, "https://backend.example/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := ep.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	defer resp.Body.Close()

	if len(resp.Trailer) != 0 {
		t.Fatalf("trailers should not be available before EOF: %v", resp.Trailer)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if string(b) != "pong" {
		t.Fatalf("wrong body: %q", b)
	}
	if got := resp.Trailer.Get("Grpc-Status"); got != "0" {
		t.Fatalf("trailer not surfaced after EOF: %v", resp.Trailer)
	}
}

func TestGrpcEndpoint_HandleError(t *testing.T) {
	h := &fakeHandler{err: &wasihttp.Error{Code: wasihttp.ErrorRequestDenied}}
	ep, err := wasigrpc.NewGrpcEndpoint("https://backend.example", h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, "https://backend.example/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = ep.RoundTrip(req)
	var werr *wasihttp.Error
	if !errors.As(err, &werr) || werr.Code != wasihttp.ErrorRequestDenied {
		t.Fatalf("expected request-denied error; got %v", err)
	}
}

// neverHandler returns a future that never resolves, for exercising
// cancellation.
type neverHandler struct{}

func (neverHandler) Handle(req *wasihttp.OutgoingRequest, opts *wasihttp.RequestOptions) (*wasihttp.FutureIncomingResponse, error) {
	fut, _ := wasihttp.NewFutureIncomingResponse()
	return fut, nil
}

func TestGrpcEndpoint_ContextCanceled(t *testing.T) {
	ep, err := wasigrpc.NewGrpcEndpoint("https://backend.example", neverHandler{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://backend.example/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()

	_, err = ep.RoundTrip(req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}
}
