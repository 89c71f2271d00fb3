// Package wasichantesting provides functionality for testing
// implementations of the wasichan.Channel interface. The TestServer type
// implements a test RPC service whose methods echo request payloads and
// metadata back to the caller, and RunChannelTestCases runs a barrage of
// test cases against a channel that is backed by a TestServer.
//
// The test service is defined without generated code: its wire messages
// are google.protobuf.Struct values, with the Message type in this
// package providing a typed view over them. That keeps the module free of
// a protoc toolchain dependency while still exercising every RPC shape a
// channel must support.
package wasichantesting
