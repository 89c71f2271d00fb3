package wasigrpc

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"
)

// Content types used for "version 1" of the RPC protocol.
const (
	// UnaryContentType marks unary RPC payloads: a single binary-encoded
	// protobuf message.
	UnaryContentType = "application/x-protobuf"
	// UnaryJSONContentType marks unary RPC payloads encoded with the JSON
	// codec instead.
	UnaryJSONContentType = "application/json"
	// StreamContentType marks streaming RPC payloads: a sequence of
	// length-delimited messages.
	StreamContentType = "application/x-wasichan-proto+v1"
)

const (
	grpcStatusHeader  = "X-GRPC-Status"
	grpcDetailsHeader = "X-GRPC-Details"
	grpcTrailerPrefix = "X-GRPC-Trailer-"
	grpcTimeoutHeader = "GRPC-Timeout"
)

// reservedHeaders are transport-level headers that are never mapped to or
// from gRPC metadata.
var reservedHeaders = map[string]struct{}{
	"accept-encoding":   {},
	"connection":        {},
	"content-type":      {},
	"content-length":    {},
	"keep-alive":        {},
	"te":                {},
	"trailer":           {},
	"transfer-encoding": {},
	"upgrade":           {},
}

// asMetadata converts the given HTTP headers into gRPC metadata. Binary
// metadata (keys with a "-bin" suffix) are base64-decoded.
func asMetadata(header http.Header) (metadata.MD, error) {
	// metadata has the same shape as http.Header
	md := metadata.MD{}
	for k, vs := range header {
		k = strings.ToLower(k)
		for _, v := range vs {
			if strings.HasSuffix(k, "-bin") {
				vv, err := base64.URLEncoding.DecodeString(v)
				if err != nil {
					return nil, err
				}
				v = string(vv)
			}
			md[k] = append(md[k], v)
		}
	}
	return md, nil
}

// toHeaders converts the given gRPC metadata into HTTP headers, skipping
// reserved header keys and base64-encoding binary values. The prefix is
// prepended to every key; it is used to convey trailers as headers.
func toHeaders(md metadata.MD, h http.Header, prefix string) {
	for k, vs := range md {
		lowerK := strings.ToLower(k)
		if _, ok := reservedHeaders[lowerK]; ok {
			// ignore reserved header keys
			continue
		}
		isBin := strings.HasSuffix(lowerK, "-bin")
		for _, v := range vs {
			if isBin {
				v = base64.URLEncoding.EncodeToString([]byte(v))
			}
			h.Add(prefix+k, v)
		}
	}
}

// splitMetadata separates the raw metadata derived from response headers
// into header metadata and trailer metadata: keys carrying the trailer
// prefix move to the trailer set with the prefix stripped, and protocol
// control keys are dropped entirely.
func splitMetadata(raw metadata.MD) (hdr, tlr metadata.MD) {
	hdr = metadata.MD{}
	tlr = metadata.MD{}
	trailerPrefix := strings.ToLower(grpcTrailerPrefix)
	for k, vs := range raw {
		switch {
		case k == strings.ToLower(grpcStatusHeader) || k == strings.ToLower(grpcDetailsHeader):
			// protocol control headers, not metadata
		case strings.HasPrefix(k, trailerPrefix):
			tlr[strings.TrimPrefix(k, trailerPrefix)] = vs
		default:
			hdr[k] = vs
		}
	}
	return hdr, tlr
}

// headersFromContext returns HTTP request headers to send to the remote
// host based on the given context. gRPC clients store outgoing metadata in
// the context, which is translated into headers. A context deadline is
// propagated to the server via gRPC timeout metadata.
func headersFromContext(ctx context.Context) http.Header {
	h := http.Header{}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		toHeaders(md, h, "")
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout := time.Until(deadline)
		millis := int64(timeout / time.Millisecond)
		if millis <= 0 {
			millis = 1
		}
		h.Set(grpcTimeoutHeader, fmt.Sprintf("%dm", millis))
	}
	return h
}

// contextFromHeaders returns a child of the given context that is populated
// using the given headers. The headers are converted to incoming metadata
// that can be retrieved via metadata.FromIncomingContext. If the headers
// contain a gRPC timeout, it is used to create a timeout for the returned
// context.
func contextFromHeaders(parent context.Context, h http.Header) (context.Context, context.CancelFunc, error) {
	cancel := func() {} // default to no-op
	md, err := asMetadata(h)
	if err != nil {
		return parent, cancel, err
	}
	ctx := metadata.NewIncomingContext(parent, md)

	// deadline propagation
	timeout := h.Get(grpcTimeoutHeader)
	if timeout != "" {
		// see gRPC wire format, "Timeout" component of request
		suffix := timeout[len(timeout)-1]
		if timeoutVal, err := strconv.ParseInt(timeout[:len(timeout)-1], 10, 64); err == nil {
			var unit time.Duration
			switch suffix {
			case 'H':
				unit = time.Hour
			case 'M':
				unit = time.Minute
			case 'S':
				unit = time.Second
			case 'm':
				unit = time.Millisecond
			case 'u':
				unit = time.Microsecond
			case 'n':
				unit = time.Nanosecond
			}
			if unit != 0 {
				ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutVal)*unit)
			}
		}
	}
	return ctx, cancel, nil
}
