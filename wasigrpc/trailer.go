package wasigrpc

import (
	"encoding/base64"
	"fmt"
	"strings"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The final message of a response stream is a google.rpc.Status. Trailer
// metadata ride along as an extra detail: a google.protobuf.Struct mapping
// each metadata key to a list of string values, always appended last (and
// always present, even when empty), so the receiver can strip it off
// unambiguously. Binary metadata values are base64-encoded, since Struct
// fields must be valid UTF-8.

// encodeTrailer builds the final stream message from the given status and
// trailer metadata.
func encodeTrailer(st *status.Status, md metadata.MD) (*spb.Status, error) {
	stpb := st.Proto()
	if stpb == nil {
		stpb = &spb.Status{}
	}

	fields := make(map[string]*structpb.Value, len(md))
	for k, vs := range md {
		isBin := strings.HasSuffix(strings.ToLower(k), "-bin")
		values := make([]*structpb.Value, len(vs))
		for i, v := range vs {
			if isBin {
				v = base64.URLEncoding.EncodeToString([]byte(v))
			}
			values[i] = structpb.NewStringValue(v)
		}
		fields[k] = structpb.NewListValue(&structpb.ListValue{Values: values})
	}

	mdAny, err := anypb.New(&structpb.Struct{Fields: fields})
	if err != nil {
		return nil, err
	}
	stpb.Details = append(stpb.Details, mdAny)
	return stpb, nil
}

// decodeTrailer splits the final stream message back into a status and
// trailer metadata. A final message without the metadata detail (which the
// protocol always appends, but a foreign peer might omit) yields empty
// metadata.
func decodeTrailer(stpb *spb.Status) (*status.Status, metadata.MD, error) {
	md := metadata.MD{}
	if n := len(stpb.Details); n > 0 && stpb.Details[n-1].MessageIs((*structpb.Struct)(nil)) {
		var s structpb.Struct
		if err := stpb.Details[n-1].UnmarshalTo(&s); err != nil {
			return nil, nil, fmt.Errorf("malformed trailer metadata: %w", err)
		}
		stpb.Details = stpb.Details[:n-1]

		for k, v := range s.Fields {
			lv := v.GetListValue()
			if lv == nil {
				return nil, nil, fmt.Errorf("malformed trailer metadata: %q is not a list", k)
			}
			isBin := strings.HasSuffix(strings.ToLower(k), "-bin")
			for _, item := range lv.Values {
				str, ok := item.Kind.(*structpb.Value_StringValue)
				if !ok {
					return nil, nil, fmt.Errorf("malformed trailer metadata: %q has a non-string value", k)
				}
				val := str.StringValue
				if isBin {
					b, err := base64.URLEncoding.DecodeString(val)
					if err != nil {
						return nil, nil, fmt.Errorf("malformed trailer metadata: %w", err)
					}
					val = string(b)
				}
				md[k] = append(md[k], val)
			}
		}
	}
	return status.FromProto(stpb), md, nil
}
