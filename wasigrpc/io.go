package wasigrpc

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"

	"google.golang.org/grpc/encoding"

	"github.com/wasilink/wasichan/internal"
)

const (
	maxMessageSize = 100 * 1024 * 1024 // 100mb
)

// writeSizePreface writes the given 32-bit size to the given writer.
func writeSizePreface(w io.Writer, sz int32) error {
	return binary.Write(w, binary.BigEndian, sz)
}

// writeMessage writes a length-delimited message to the given writer: the
// size preface, indicating the size of the encoded message, followed by the
// actual message contents. If end is true, the size is written as a
// negative value, indicating to the receiver that this is the last message
// in the stream. (The last message is always a google.rpc.Status.)
func writeMessage(w io.Writer, codec encoding.Codec, m any, end bool) error {
	b, err := internal.MarshalMessage(codec, m)
	if err != nil {
		return err
	}

	sz := len(b)
	if sz > math.MaxInt32 {
		return fmt.Errorf("message too large to send: %d bytes", sz)
	}
	if end {
		// trailer message is indicated w/ negative size
		sz = -sz
	}
	if err := writeSizePreface(w, int32(sz)); err != nil {
		return err
	}

	_, err = w.Write(b)
	if err == nil {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	return err
}

// readSizePreface reads a 32-bit size from the given reader. A negative
// value indicates the last message in the stream. Messages can have zero
// size, but the last message in the stream never does (so its size will be
// negative).
func readSizePreface(in io.Reader) (int32, error) {
	var sz int32
	err := binary.Read(in, binary.BigEndian, &sz)
	return sz, err
}

// readMessage reads data from the given reader and decodes it into the
// given message. The sz parameter indicates the number of bytes that must
// be read to decode the message. This does not first call readSizePreface;
// callers must do that first.
func readMessage(in io.Reader, codec encoding.Codec, sz int32, m any) error {
	if sz < 0 {
		return fmt.Errorf("bad size preface: size cannot be negative: %d", sz)
	} else if sz > maxMessageSize {
		return fmt.Errorf("bad size preface: indicated size is too large: %d", sz)
	}
	msg := make([]byte, sz)
	if _, err := io.ReadAtLeast(in, msg, int(sz)); err != nil {
		return err
	}
	return internal.UnmarshalMessage(codec, msg, m)
}
