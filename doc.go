// Package wasichan provides gRPC channels for WebAssembly components: guest
// code issues RPCs through a host-provided HTTP capability instead of a real
// gRPC connection.
//
// The root package holds transport-independent pieces: the Channel contract
// that client stubs program against, a service registry for server
// implementations, and client-side interceptor support. The wasihttp
// subpackage models the host capability; the wasigrpc subpackage contains
// the GrpcEndpoint adapter that bridges HTTP requests onto that capability
// and the gRPC-over-HTTP channel and server that run over it.
package wasichan
