package internal

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// CloneMessage returns a deep copy of the given message.
func CloneMessage(m any) (any, error) {
	pm, ok := adaptMessage(m).(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%T is not a protobuf message", m)
	}
	return proto.Clone(pm), nil
}

// CopyMessage replaces the contents of dst with those of src. The two
// messages must share a descriptor.
func CopyMessage(dst, src any) error {
	d, ok := adaptMessage(dst).(proto.Message)
	if !ok {
		return fmt.Errorf("%T is not a protobuf message", dst)
	}
	s, ok := adaptMessage(src).(proto.Message)
	if !ok {
		return fmt.Errorf("%T is not a protobuf message", src)
	}
	dn, sn := d.ProtoReflect().Descriptor().FullName(), s.ProtoReflect().Descriptor().FullName()
	if dn != sn {
		return fmt.Errorf("cannot copy %s into %s", sn, dn)
	}
	proto.Reset(d)
	proto.Merge(d, s)
	return nil
}

// ClearMessage resets the given message to its zero state.
func ClearMessage(m any) error {
	pm, ok := adaptMessage(m).(proto.Message)
	if !ok {
		return fmt.Errorf("%T is not a protobuf message", m)
	}
	proto.Reset(pm)
	return nil
}
