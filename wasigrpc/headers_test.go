package wasigrpc

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/metadata"
)

func TestMetadataHeaderConversion(t *testing.T) {
	binVal := string([]byte{1, 2, 3, 254})
	md := metadata.MD{
		"plain":           {"one", "two"},
		"something-bin":   {binVal},
		"content-type":    {"should-be-dropped"},
		"accept-encoding": {"should-be-dropped"},
	}

	h := http.Header{}
	toHeaders(md, h, "")
	if h.Get("Content-Type") != "" || h.Get("Accept-Encoding") != "" {
		t.Fatalf("reserved headers should be skipped: %v", h)
	}
	if got := h.Get("Something-Bin"); got == binVal {
		t.Fatal("binary metadata should be base64-encoded on the wire")
	}

	back, err := asMetadata(h)
	if err != nil {
		t.Fatalf("asMetadata failed: %v", err)
	}
	want := metadata.MD{
		"plain":         {"one", "two"},
		"something-bin": {binVal},
	}
	if diff := cmp.Diff(want, back); diff != "" {
		t.Fatalf("metadata did not round-trip (-want +got):\n%s", diff)
	}
}

func TestSplitMetadata(t *testing.T) {
	raw := metadata.MD{
		"regular":              {"h"},
		"x-grpc-trailer-later": {"t"},
		"x-grpc-status":        {"5:nope"},
		"x-grpc-details":       {"abc"},
	}
	hdr, tlr := splitMetadata(raw)
	wantHdr := metadata.MD{"regular": {"h"}}
	wantTlr := metadata.MD{"later": {"t"}}
	if diff := cmp.Diff(wantHdr, hdr); diff != "" {
		t.Fatalf("wrong header metadata (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantTlr, tlr); diff != "" {
		t.Fatalf("wrong trailer metadata (-want +got):\n%s", diff)
	}
}

func TestHeadersFromContext_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h := headersFromContext(ctx)
	if h.Get(grpcTimeoutHeader) == "" {
		t.Fatal("deadline should be conveyed via timeout header")
	}

	h2 := headersFromContext(context.Background())
	if h2.Get(grpcTimeoutHeader) != "" {
		t.Fatal("no deadline should mean no timeout header")
	}
}

func TestContextFromHeaders_Timeout(t *testing.T) {
	h := http.Header{}
	h.Set(grpcTimeoutHeader, "100m")
	ctx, cancel, err := contextFromHeaders(context.Background(), h)
	if err != nil {
		t.Fatalf("contextFromHeaders failed: %v", err)
	}
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if remaining := time.Until(deadline); remaining > 100*time.Millisecond {
		t.Fatalf("deadline too far out: %v", remaining)
	}

	// metadata from headers must be visible to handlers
	h.Set("X-Custom", "v")
	ctx, cancel, err = contextFromHeaders(context.Background(), h)
	if err != nil {
		t.Fatalf("contextFromHeaders failed: %v", err)
	}
	defer cancel()
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok || len(md["x-custom"]) != 1 || md["x-custom"][0] != "v" {
		t.Fatalf("wrong incoming metadata: %v", md)
	}
}
