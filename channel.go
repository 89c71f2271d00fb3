package wasichan

import (
	"context"

	"google.golang.org/grpc"
)

// Channel is an abstraction of a gRPC transport. With corresponding client
// stubs, it provides an alternate transport to the standard HTTP/2-based
// one; in this repository, a transport that crosses a WebAssembly host's
// HTTP capability boundary.
type Channel interface {
	// Invoke executes a unary RPC, sending the given req message and
	// populating the given resp with the server's reply.
	Invoke(ctx context.Context, methodName string, req, resp any, opts ...grpc.CallOption) error

	// NewStream executes a streaming RPC.
	NewStream(ctx context.Context, desc *grpc.StreamDesc, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error)
}

// Channel matches the relevant methods on grpc.ClientConn.
var _ Channel = (*grpc.ClientConn)(nil)
var _ Channel = (grpc.ClientConnInterface)(nil)
