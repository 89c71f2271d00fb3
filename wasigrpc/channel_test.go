package wasigrpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// cannedTransport replies to every request with a fixed response.
type cannedTransport struct {
	resp *http.Response
}

func (t cannedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.resp, nil
}

func TestChannel_StreamRejectsOversizedMessage(t *testing.T) {
	// a stream whose first message claims to be larger than the limit
	var body bytes.Buffer
	if err := writeSizePreface(&body, maxMessageSize+1); err != nil {
		t.Fatalf("writing size preface failed: %v", err)
	}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": {StreamContentType}},
		Body:       io.NopCloser(&body),
	}

	ch := &Channel{
		Transport: cannedTransport{resp},
		BaseURL:   &url.URL{Scheme: "http", Host: "127.0.0.1"},
	}
	desc := &grpc.StreamDesc{StreamName: "ServerStream", ServerStreams: true}
	cs, err := ch.NewStream(context.Background(), desc, "/test.Svc/ServerStream")
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}

	var m structpb.Struct
	err = cs.RecvMsg(&m)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size limit error; got %v", err)
	}
}
