// Package wasihttp models the HTTP-calling capability that a WebAssembly
// component host exposes to guest code, in the shape of the wasi:http
// outgoing-handler and types interfaces.
//
// The package defines the capability contract (OutgoingHandler), the request
// and response representations that cross the component boundary
// (OutgoingRequest, IncomingResponse, and their bodies), and the future that
// a dispatched request resolves through (FutureIncomingResponse). Guest-side
// code builds an OutgoingRequest, hands it to an OutgoingHandler, and blocks
// on the returned future; the handler performs the actual network I/O.
//
// Inside a real component, the OutgoingHandler implementation is a thin shim
// over the host's wasi:http/outgoing-handler import. Outside a component
// runtime, RoundTripperHandler provides the same capability on top of any
// http.RoundTripper, which is what the tests in this repository use.
//
// Field validation follows the wasi:http rules: names and values must be
// syntactically valid HTTP fields, and a small set of forbidden names (host,
// content-length, and the connection-specific headers) can never be set by
// guest code, since the transport owns them.
package wasihttp
