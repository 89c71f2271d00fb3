package wasichantesting

import (
	"context"
	"io"
	"time"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// TestServiceClient is the client API for the test service.
type TestServiceClient interface {
	Unary(ctx context.Context, in *Message, opts ...grpc.CallOption) (*Message, error)
	ClientStream(ctx context.Context, opts ...grpc.CallOption) (TestService_ClientStreamClient, error)
	ServerStream(ctx context.Context, in *Message, opts ...grpc.CallOption) (TestService_ServerStreamClient, error)
	BidiStream(ctx context.Context, opts ...grpc.CallOption) (TestService_BidiStreamClient, error)
}

// TestServiceServer is the server API for the test service.
type TestServiceServer interface {
	Unary(ctx context.Context, req *Message) (*Message, error)
	ClientStream(TestService_ClientStreamServer) error
	ServerStream(req *Message, stream TestService_ServerStreamServer) error
	BidiStream(TestService_BidiStreamServer) error
}

type TestService_ClientStreamClient interface {
	Send(*Message) error
	CloseAndRecv() (*Message, error)
	grpc.ClientStream
}

type TestService_ServerStreamClient interface {
	Recv() (*Message, error)
	grpc.ClientStream
}

type TestService_BidiStreamClient interface {
	Send(*Message) error
	Recv() (*Message, error)
	grpc.ClientStream
}

type TestService_ClientStreamServer interface {
	SendAndClose(*Message) error
	Recv() (*Message, error)
	grpc.ServerStream
}

type TestService_ServerStreamServer interface {
	Send(*Message) error
	grpc.ServerStream
}

type TestService_BidiStreamServer interface {
	Send(*Message) error
	Recv() (*Message, error)
	grpc.ServerStream
}

// RegisterTestServiceServer registers the given test service
// implementation with the given registrar (e.g. a *wasigrpc.Server).
func RegisterTestServiceServer(reg grpc.ServiceRegistrar, srv TestServiceServer) {
	reg.RegisterService(&testServiceDesc, srv)
}

// NewTestServiceClient returns a client stub for the test service that
// issues RPCs over the given channel.
func NewTestServiceClient(ch grpc.ClientConnInterface) TestServiceClient {
	return &testServiceClient{ch: ch}
}

type testServiceClient struct {
	ch grpc.ClientConnInterface
}

func (c *testServiceClient) Unary(ctx context.Context, in *Message, opts ...grpc.CallOption) (*Message, error) {
	out := new(structpb.Struct)
	if err := c.ch.Invoke(ctx, "/wasichan.test.TestService/Unary", in.toProto(), out, opts...); err != nil {
		return nil, err
	}
	return messageFromProto(out)
}

func (c *testServiceClient) ClientStream(ctx context.Context, opts ...grpc.CallOption) (TestService_ClientStreamClient, error) {
	stream, err := c.ch.NewStream(ctx, &testServiceDesc.Streams[0], "/wasichan.test.TestService/ClientStream", opts...)
	if err != nil {
		return nil, err
	}
	return &testServiceClientStreamClient{stream}, nil
}

func (c *testServiceClient) ServerStream(ctx context.Context, in *Message, opts ...grpc.CallOption) (TestService_ServerStreamClient, error) {
	stream, err := c.ch.NewStream(ctx, &testServiceDesc.Streams[1], "/wasichan.test.TestService/ServerStream", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in.toProto()); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &testServiceServerStreamClient{stream}, nil
}

func (c *testServiceClient) BidiStream(ctx context.Context, opts ...grpc.CallOption) (TestService_BidiStreamClient, error) {
	stream, err := c.ch.NewStream(ctx, &testServiceDesc.Streams[2], "/wasichan.test.TestService/BidiStream", opts...)
	if err != nil {
		return nil, err
	}
	return &testServiceBidiStreamClient{stream}, nil
}

type testServiceClientStreamClient struct {
	grpc.ClientStream
}

func (x *testServiceClientStreamClient) Send(m *Message) error {
	return x.ClientStream.SendMsg(m.toProto())
}

func (x *testServiceClientStreamClient) CloseAndRecv() (*Message, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return recvMessage(x.ClientStream.RecvMsg)
}

type testServiceServerStreamClient struct {
	grpc.ClientStream
}

func (x *testServiceServerStreamClient) Recv() (*Message, error) {
	return recvMessage(x.ClientStream.RecvMsg)
}

type testServiceBidiStreamClient struct {
	grpc.ClientStream
}

func (x *testServiceBidiStreamClient) Send(m *Message) error {
	return x.ClientStream.SendMsg(m.toProto())
}

func (x *testServiceBidiStreamClient) Recv() (*Message, error) {
	return recvMessage(x.ClientStream.RecvMsg)
}

func recvMessage(recv func(any) error) (*Message, error) {
	s := new(structpb.Struct)
	if err := recv(s); err != nil {
		return nil, err
	}
	return messageFromProto(s)
}

var testServiceDesc = grpc.ServiceDesc{
	ServiceName: "wasichan.test.TestService",
	HandlerType: (*TestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Unary",
			Handler:    _TestService_Unary_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ClientStream",
			Handler:       _TestService_ClientStream_Handler,
			ClientStreams: true,
		},
		{
			StreamName:    "ServerStream",
			Handler:       _TestService_ServerStream_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "BidiStream",
			Handler:       _TestService_BidiStream_Handler,
			ClientStreams: true,
			ServerStreams: true,
		},
	},
}

func _TestService_Unary_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		m, err := messageFromProto(req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		out, err := srv.(TestServiceServer).Unary(ctx, m)
		if err != nil {
			return nil, err
		}
		return out.toProto(), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/wasichan.test.TestService/Unary",
	}
	return interceptor(ctx, in, info, handler)
}

func _TestService_ClientStream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(TestServiceServer).ClientStream(&testServiceClientStreamServer{stream})
}

func _TestService_ServerStream_Handler(srv any, stream grpc.ServerStream) error {
	m, err := recvMessage(stream.RecvMsg)
	if err != nil {
		return err
	}
	return srv.(TestServiceServer).ServerStream(m, &testServiceServerStreamServer{stream})
}

func _TestService_BidiStream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(TestServiceServer).BidiStream(&testServiceBidiStreamServer{stream})
}

type testServiceClientStreamServer struct {
	grpc.ServerStream
}

func (x *testServiceClientStreamServer) SendAndClose(m *Message) error {
	return x.ServerStream.SendMsg(m.toProto())
}

func (x *testServiceClientStreamServer) Recv() (*Message, error) {
	return recvMessage(x.ServerStream.RecvMsg)
}

type testServiceServerStreamServer struct {
	grpc.ServerStream
}

func (x *testServiceServerStreamServer) Send(m *Message) error {
	return x.ServerStream.SendMsg(m.toProto())
}

type testServiceBidiStreamServer struct {
	grpc.ServerStream
}

func (x *testServiceBidiStreamServer) Send(m *Message) error {
	return x.ServerStream.SendMsg(m.toProto())
}

func (x *testServiceBidiStreamServer) Recv() (*Message, error) {
	return recvMessage(x.ServerStream.RecvMsg)
}

// TestServer has default responses to the various kinds of methods.
type TestServer struct{}

// Unary implements the TestService server interface.
func (s *TestServer) Unary(ctx context.Context, req *Message) (*Message, error) {
	if req.DelayMillis > 0 {
		time.Sleep(time.Millisecond * time.Duration(req.DelayMillis))
	}
	grpc.SetHeader(ctx, metadata.New(req.Headers))
	grpc.SetTrailer(ctx, metadata.New(req.Trailers))
	if req.Code != 0 {
		return nil, statusFromRequest(req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	return &Message{
		Headers: asMap(md),
		Payload: req.Payload,
	}, nil
}

func statusFromRequest(req *Message) error {
	statProto := spb.Status{
		Code:    req.Code,
		Message: "error",
		Details: req.ErrorDetails,
	}
	return status.FromProto(&statProto).Err()
}

// ClientStream implements the TestService server interface.
func (s *TestServer) ClientStream(cs TestService_ClientStreamServer) error {
	var req *Message
	count := int32(0)
	for {
		r, err := cs.Recv()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		req = r
		count++
		if req.Code != 0 {
			break
		}
	}
	if req == nil {
		req = &Message{}
	}
	if req.DelayMillis > 0 {
		time.Sleep(time.Millisecond * time.Duration(req.DelayMillis))
	}
	if err := cs.SetHeader(metadata.New(req.Headers)); err != nil {
		return err
	}
	cs.SetTrailer(metadata.New(req.Trailers))
	if req.Code != 0 {
		return statusFromRequest(req)
	}
	md, _ := metadata.FromIncomingContext(cs.Context())
	return cs.SendAndClose(&Message{
		Headers: asMap(md),
		Payload: req.Payload,
		Count:   count,
	})
}

// ServerStream implements the TestService server interface.
func (s *TestServer) ServerStream(req *Message, ss TestService_ServerStreamServer) error {
	if req.DelayMillis > 0 {
		time.Sleep(time.Millisecond * time.Duration(req.DelayMillis))
	}
	md, _ := metadata.FromIncomingContext(ss.Context())
	if err := ss.SetHeader(metadata.New(req.Headers)); err != nil {
		return err
	}
	for i := 0; i < int(req.Count); i++ {
		err := ss.Send(&Message{
			Headers: asMap(md),
			Payload: req.Payload,
		})
		if err != nil {
			return err
		}
	}
	ss.SetTrailer(metadata.New(req.Trailers))
	if req.Code != 0 {
		return statusFromRequest(req)
	}
	return nil
}

// BidiStream implements the TestService server interface.
func (s *TestServer) BidiStream(str TestService_BidiStreamServer) error {
	md, _ := metadata.FromIncomingContext(str.Context())
	var req *Message
	count := int32(0)
	var responses []*Message
	isHalfDuplex := false
	for {
		r, err := str.Recv()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		req = r
		if req.DelayMillis > 0 {
			time.Sleep(time.Millisecond * time.Duration(req.DelayMillis))
		}
		if count == 0 {
			if err := str.SetHeader(metadata.New(req.Headers)); err != nil {
				return err
			}
			isHalfDuplex = req.Count < 0
		}
		count++
		if req.Code != 0 {
			break
		}
		replyMsg := &Message{
			Headers: asMap(md),
			Payload: req.Payload,
			Count:   count,
		}
		if isHalfDuplex {
			// half duplex means we fully consume the client stream before we
			// start sending responses, so buffer these messages in a slice
			responses = append(responses, replyMsg)
		} else if err = str.Send(replyMsg); err != nil {
			return err
		}
	}
	if isHalfDuplex {
		// now we can send out all buffered responses
		for _, response := range responses {
			if err := str.Send(response); err != nil {
				return err
			}
		}
	}
	if req != nil {
		str.SetTrailer(metadata.New(req.Trailers))
		if req.Code != 0 {
			return statusFromRequest(req)
		}
	}
	return nil
}

func asMap(md metadata.MD) map[string]string {
	m := map[string]string{}
	for k, vs := range md {
		if len(vs) == 0 {
			continue
		}
		m[k] = vs[len(vs)-1]
	}
	return m
}
