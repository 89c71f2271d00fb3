package wasichantesting

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message is the request and response message of the test service. On the
// wire it is a google.protobuf.Struct; the conversions in this file map
// between the two representations. Payload, metadata values, and error
// details may hold arbitrary bytes, so they are base64-encoded in the
// wire form (Struct string values must be valid UTF-8).
type Message struct {
	// Payload is echoed back to the caller in responses.
	Payload []byte
	// Count is the requested number of response messages for server
	// streams, and the number of request messages observed for client
	// streams. A negative count asks the bidi handler to run half-duplex.
	Count int32
	// Code, if non-zero, is the gRPC code of the error the handler fails
	// with after echoing headers and trailers.
	Code int32
	// DelayMillis makes the handler sleep before responding.
	DelayMillis int32
	// Headers and Trailers are echoed back as response metadata.
	Headers  map[string]string
	Trailers map[string]string
	// ErrorDetails are attached to the failure status when Code is set.
	ErrorDetails []*anypb.Any
}

func (m *Message) toProto() *structpb.Struct {
	fields := map[string]*structpb.Value{
		"payload":      structpb.NewStringValue(base64.StdEncoding.EncodeToString(m.Payload)),
		"count":        structpb.NewNumberValue(float64(m.Count)),
		"code":         structpb.NewNumberValue(float64(m.Code)),
		"delay_millis": structpb.NewNumberValue(float64(m.DelayMillis)),
		"headers":      mapToValue(m.Headers),
		"trailers":     mapToValue(m.Trailers),
	}
	if len(m.ErrorDetails) > 0 {
		details := make([]*structpb.Value, len(m.ErrorDetails))
		for i, d := range m.ErrorDetails {
			b, err := proto.Marshal(d)
			if err != nil {
				// Any values are built by the tests themselves, so a
				// marshaling failure is a bug in the test
				panic(err)
			}
			details[i] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(b))
		}
		fields["error_details"] = structpb.NewListValue(&structpb.ListValue{Values: details})
	}
	return &structpb.Struct{Fields: fields}
}

func messageFromProto(s *structpb.Struct) (*Message, error) {
	var m Message
	var err error
	if v, ok := s.Fields["payload"]; ok {
		m.Payload, err = base64.StdEncoding.DecodeString(v.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("malformed payload: %w", err)
		}
	}
	m.Count = int32(s.Fields["count"].GetNumberValue())
	m.Code = int32(s.Fields["code"].GetNumberValue())
	m.DelayMillis = int32(s.Fields["delay_millis"].GetNumberValue())
	if m.Headers, err = mapFromValue(s.Fields["headers"]); err != nil {
		return nil, fmt.Errorf("malformed headers: %w", err)
	}
	if m.Trailers, err = mapFromValue(s.Fields["trailers"]); err != nil {
		return nil, fmt.Errorf("malformed trailers: %w", err)
	}
	if v, ok := s.Fields["error_details"]; ok {
		for i, item := range v.GetListValue().GetValues() {
			b, err := base64.StdEncoding.DecodeString(item.GetStringValue())
			if err != nil {
				return nil, fmt.Errorf("malformed error detail #%d: %w", i+1, err)
			}
			var a anypb.Any
			if err := proto.Unmarshal(b, &a); err != nil {
				return nil, fmt.Errorf("malformed error detail #%d: %w", i+1, err)
			}
			m.ErrorDetails = append(m.ErrorDetails, &a)
		}
	}
	return &m, nil
}

func mapToValue(m map[string]string) *structpb.Value {
	fields := make(map[string]*structpb.Value, len(m))
	for k, v := range m {
		fields[k] = structpb.NewStringValue(base64.StdEncoding.EncodeToString([]byte(v)))
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func mapFromValue(v *structpb.Value) (map[string]string, error) {
	s := v.GetStructValue()
	if s == nil || len(s.Fields) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(s.Fields))
	for k, item := range s.Fields {
		b, err := base64.StdEncoding.DecodeString(item.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		m[k] = string(b)
	}
	return m, nil
}
