package wasigrpc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestTrailerRoundTrip(t *testing.T) {
	detail, err := anypb.New(structpb.NewStringValue("extra"))
	if err != nil {
		t.Fatalf("failed to build detail: %v", err)
	}
	st := status.FromProto(&spb.Status{
		Code:    int32(codes.ResourceExhausted),
		Message: "too much",
		Details: []*anypb.Any{detail},
	})
	md := metadata.MD{
		"plain":     {"a", "b"},
		"stuff-bin": {string([]byte{0, 1, 2, 255})},
	}

	stpb, err := encodeTrailer(st, md)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	// the metadata detail is always appended, after any caller details
	if len(stpb.Details) != 2 {
		t.Fatalf("expected 2 details; got %d", len(stpb.Details))
	}

	gotSt, gotMD, err := decodeTrailer(stpb)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if gotSt.Code() != codes.ResourceExhausted || gotSt.Message() != "too much" {
		t.Fatalf("wrong status decoded: %v", gotSt)
	}
	gotDetails := gotSt.Proto().Details
	if len(gotDetails) != 1 || !proto.Equal(gotDetails[0], detail) {
		t.Fatalf("wrong details decoded: %v", gotDetails)
	}
	if diff := cmp.Diff(md, gotMD); diff != "" {
		t.Fatalf("wrong metadata decoded (-want +got):\n%s", diff)
	}
}

func TestTrailerRoundTrip_Empty(t *testing.T) {
	stpb, err := encodeTrailer(status.New(codes.OK, codes.OK.String()), nil)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	// even an empty trailer carries the metadata detail, so the final
	// frame is never empty
	b, err := proto.Marshal(stpb)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("final message must never be zero-length")
	}

	gotSt, gotMD, err := decodeTrailer(stpb)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if gotSt.Code() != codes.OK {
		t.Fatalf("wrong code: %v", gotSt.Code())
	}
	if len(gotMD) != 0 {
		t.Fatalf("expected empty metadata; got %v", gotMD)
	}
}

func TestDecodeTrailer_ForeignStatus(t *testing.T) {
	// a peer that doesn't append the metadata detail still decodes cleanly
	detail, err := anypb.New(structpb.NewStringValue("detail"))
	if err != nil {
		t.Fatalf("failed to build detail: %v", err)
	}
	stpb := &spb.Status{
		Code:    int32(codes.Internal),
		Message: "kaboom",
		Details: []*anypb.Any{detail},
	}

	gotSt, gotMD, err := decodeTrailer(stpb)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if gotSt.Code() != codes.Internal {
		t.Fatalf("wrong code: %v", gotSt.Code())
	}
	if len(gotSt.Proto().Details) != 1 {
		t.Fatalf("caller details should be preserved: %v", gotSt.Proto().Details)
	}
	if len(gotMD) != 0 {
		t.Fatalf("expected empty metadata; got %v", gotMD)
	}
}

func TestDecodeTrailer_Malformed(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]*structpb.Value
	}{
		{"non-list value", map[string]*structpb.Value{
			"key": structpb.NewStringValue("not-a-list"),
		}},
		{"non-string element", map[string]*structpb.Value{
			"key": structpb.NewListValue(&structpb.ListValue{
				Values: []*structpb.Value{structpb.NewNumberValue(7)},
			}),
		}},
		{"bad base64 in binary value", map[string]*structpb.Value{
			"key-bin": structpb.NewListValue(&structpb.ListValue{
				Values: []*structpb.Value{structpb.NewStringValue("!!not base64!!")},
			}),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mdAny, err := anypb.New(&structpb.Struct{Fields: tc.fields})
			if err != nil {
				t.Fatalf("failed to build detail: %v", err)
			}
			stpb := &spb.Status{Code: int32(codes.OK), Details: []*anypb.Any{mdAny}}
			if _, _, err := decodeTrailer(stpb); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}
