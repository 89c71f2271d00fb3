package internal

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/mem"
	"google.golang.org/protobuf/protoadapt"
)

// GetCodec returns the codec registered with the grpc encoding registry
// under the given name, regardless of whether it was registered via the
// v1 or v2 codec API. Returns nil if no such codec is registered.
func GetCodec(name string) encoding.Codec {
	if c := encoding.GetCodec(name); c != nil {
		return c
	}
	c2 := encoding.GetCodecV2(name)
	if c2 == nil {
		return nil
	}
	return codecV2Adapter{c2}
}

type codecV2Adapter struct {
	v2 encoding.CodecV2
}

func (c codecV2Adapter) Marshal(v any) ([]byte, error) {
	buffers, err := c.v2.Marshal(v)
	if err != nil {
		return nil, err
	}
	return buffers.Materialize(), nil
}

func (c codecV2Adapter) Unmarshal(data []byte, v any) error {
	return c.v2.Unmarshal(mem.BufferSlice{mem.SliceBuffer(data)}, v)
}

func (c codecV2Adapter) Name() string {
	return c.v2.Name()
}

// MarshalMessage encodes m using the given codec. Messages that only
// implement the legacy github.com/golang/protobuf interface (including
// dynamic messages) are adapted to the v2 API first, so that codecs
// registered against the new API can handle them.
func MarshalMessage(codec encoding.Codec, m any) ([]byte, error) {
	return codec.Marshal(adaptMessage(m))
}

// UnmarshalMessage decodes data into m using the given codec, adapting
// legacy messages the same way MarshalMessage does.
func UnmarshalMessage(codec encoding.Codec, data []byte, m any) error {
	return codec.Unmarshal(data, adaptMessage(m))
}

func adaptMessage(m any) any {
	if pm, ok := m.(protoadapt.MessageV1); ok {
		if _, isV2 := m.(protoadapt.MessageV2); !isV2 {
			return protoadapt.MessageV2Of(pm)
		}
	}
	return m
}

// CheckCodec verifies that the named codec is available, for surfacing
// configuration mistakes at construction time instead of per call.
func CheckCodec(name string) error {
	if GetCodec(name) == nil {
		return fmt.Errorf("no codec registered for %q", name)
	}
	return nil
}
