// Package wasigrpc carries gRPC calls across a WebAssembly host's HTTP
// capability. It is intended for guest components, where a real gRPC
// connection is not possible: all network I/O is delegated to the host
// behind a wasihttp.OutgoingHandler, and this package only translates
// between representations on either side of that boundary.
//
// # The endpoint adapter
//
// GrpcEndpoint is the bridge itself. It implements http.RoundTripper: each
// call rewrites the request's scheme and authority to the configured
// endpoint, converts the method, path, headers, and body into the
// capability's outgoing-request representation, dispatches through the
// handler, blocks until the response future resolves, and wraps the
// response body stream back into an http.Response. One call is one round
// trip; there are no retries and the first error encountered is the call's
// error.
//
// # Anatomy of the RPC protocol
//
// On top of the endpoint, Channel and Server implement gRPC over plain
// HTTP request/response exchanges.
//
// A unary RPC is a POST to "/service.name/Method" (below any base path).
// Request metadata become HTTP request headers and the payload is the
// encoded request message, content-type "application/x-protobuf" (or
// "application/json" for the JSON codec). The response carries the best
// HTTP status match for the gRPC code, plus an "X-GRPC-Status" header
// holding the actual code and message in "code:message" form. Error
// details, if any, are attached as "X-GRPC-Details" headers, one per
// detail, each a base64-encoded google.protobuf.Any. Trailer metadata are
// sent as headers prefixed with "X-GRPC-Trailer-", so clients can recover
// headers and trailers independently.
//
// Streaming RPCs use content-type "application/x-wasichan-proto+v1". The
// request and response bodies are sequences of length-delimited messages:
// a 32-bit big-endian size preface followed by that many bytes of encoded
// message. The response sequence ends with a special final message whose
// size preface is negative (e.g. a 15-byte final message has -15 on the
// wire). The final message is a google.rpc.Status conveying the stream's
// disposition; its last detail is always a google.protobuf.Struct holding
// trailer metadata. Because the status arrives at the end of the body, the
// HTTP status line of a streaming response is always 200 OK.
//
// Since the exchange is half-duplex, bidirectional streaming methods only
// work when the client fully sends all request messages before the server
// replies. Full-duplex bidi streams are not supported.
package wasigrpc
