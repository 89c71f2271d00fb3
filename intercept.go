package wasichan

import (
	"context"

	"google.golang.org/grpc"
)

// WrappedClientConn is a Channel that wraps another, adding behavior such
// as interception. Unwrap returns the underlying channel.
type WrappedClientConn interface {
	grpc.ClientConnInterface
	Unwrap() grpc.ClientConnInterface
}

// InterceptClientConn returns a Channel that intercepts RPCs on ch with the
// given interceptors, which may be nil. If both interceptors are nil,
// returns ch. Otherwise, the returned value will implement
// WrappedClientConn and its Unwrap() method will return ch.
//
// This is how cross-cutting behavior (auth, tracing, request mutation) is
// layered onto a channel, since channels carried over the HTTP capability
// have no dial-time interceptor options the way *grpc.ClientConn does.
func InterceptClientConn(ch grpc.ClientConnInterface, unaryInt grpc.UnaryClientInterceptor, streamInt grpc.StreamClientInterceptor) grpc.ClientConnInterface {
	if unaryInt != nil {
		ch = InterceptClientConnUnary(ch, unaryInt)
	}
	if streamInt != nil {
		ch = InterceptClientConnStream(ch, streamInt)
	}
	return ch
}

// InterceptClientConnUnary returns a Channel that intercepts unary RPCs on
// ch with the given chain of interceptors. If the given set of interceptors
// is empty, this returns ch.
//
// The first interceptor in the set will be the first one invoked when an
// RPC is called. When that interceptor delegates to the provided invoker,
// it will call the second interceptor, and so on.
func InterceptClientConnUnary(ch grpc.ClientConnInterface, unaryInt ...grpc.UnaryClientInterceptor) grpc.ClientConnInterface {
	if len(unaryInt) == 0 {
		return ch
	}
	var streamInt grpc.StreamClientInterceptor
	if intCh, ok := ch.(*interceptedChannel); ok {
		// Instead of building a chain of multiple interceptedChannels, build
		// a single interceptedChannel with the combined set of interceptors.
		ch = intCh.ch
		if intCh.unaryInt != nil {
			unaryInt = append(unaryInt, intCh.unaryInt)
		}
		streamInt = intCh.streamInt
	}
	return &interceptedChannel{ch: ch, unaryInt: chainUnaryClient(unaryInt), streamInt: streamInt}
}

// InterceptClientConnStream returns a Channel that intercepts streaming
// RPCs on ch with the given chain of interceptors. If the given set of
// interceptors is empty, this returns ch.
//
// The first interceptor in the set will be the first one invoked when an
// RPC is called. When that interceptor delegates to the provided streamer,
// it will call the second interceptor, and so on.
func InterceptClientConnStream(ch grpc.ClientConnInterface, streamInt ...grpc.StreamClientInterceptor) grpc.ClientConnInterface {
	if len(streamInt) == 0 {
		return ch
	}
	var unaryInt grpc.UnaryClientInterceptor
	if intCh, ok := ch.(*interceptedChannel); ok {
		// Instead of building a chain of multiple interceptedChannels, build
		// a single interceptedChannel with the combined set of interceptors.
		ch = intCh.ch
		unaryInt = intCh.unaryInt
		if intCh.streamInt != nil {
			streamInt = append(streamInt, intCh.streamInt)
		}
	}
	return &interceptedChannel{ch: ch, unaryInt: unaryInt, streamInt: chainStreamClient(streamInt)}
}

// interceptedChannel decorates a channel with at most one unary and one
// stream interceptor; chains are collapsed into single interceptors up
// front so wrapping is never more than one level deep.
type interceptedChannel struct {
	ch        grpc.ClientConnInterface
	unaryInt  grpc.UnaryClientInterceptor
	streamInt grpc.StreamClientInterceptor
}

var _ WrappedClientConn = (*interceptedChannel)(nil)

func (intch *interceptedChannel) Unwrap() grpc.ClientConnInterface {
	return intch.ch
}

func unwrap(ch grpc.ClientConnInterface) grpc.ClientConnInterface {
	// completely unwrap to find the root ClientConn
	for {
		w, ok := ch.(WrappedClientConn)
		if !ok {
			return ch
		}
		unwrapped := w.Unwrap()
		if unwrapped == nil {
			return ch
		}
		ch = unwrapped
	}
}

func (intch *interceptedChannel) Invoke(ctx context.Context, methodName string, req, resp any, opts ...grpc.CallOption) error {
	if intch.unaryInt == nil {
		return intch.ch.Invoke(ctx, methodName, req, resp, opts...)
	}
	// interceptors only see a *grpc.ClientConn when the root channel is
	// one; for channels over the HTTP capability this is nil
	cc, _ := unwrap(intch.ch).(*grpc.ClientConn)
	return intch.unaryInt(ctx, methodName, req, resp, cc, intch.unaryInvoker, opts...)
}

func (intch *interceptedChannel) unaryInvoker(ctx context.Context, methodName string, req, resp any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
	return intch.ch.Invoke(ctx, methodName, req, resp, opts...)
}

func (intch *interceptedChannel) NewStream(ctx context.Context, desc *grpc.StreamDesc, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	if intch.streamInt == nil {
		return intch.ch.NewStream(ctx, desc, methodName, opts...)
	}
	cc, _ := unwrap(intch.ch).(*grpc.ClientConn)
	return intch.streamInt(ctx, desc, cc, methodName, intch.streamer, opts...)
}

func (intch *interceptedChannel) streamer(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return intch.ch.NewStream(ctx, desc, methodName, opts...)
}

func chainUnaryClient(unaryInt []grpc.UnaryClientInterceptor) grpc.UnaryClientInterceptor {
	if len(unaryInt) == 1 {
		return unaryInt[0]
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		// going backwards through the chain, so that the first interceptor
		// is the outermost
		for i := len(unaryInt) - 1; i >= 1; i-- {
			currInterceptor := unaryInt[i]
			currInvoker := invoker
			invoker = func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
				return currInterceptor(ctx, method, req, reply, cc, currInvoker, opts...)
			}
		}
		return unaryInt[0](ctx, method, req, reply, cc, invoker, opts...)
	}
}

func chainStreamClient(streamInt []grpc.StreamClientInterceptor) grpc.StreamClientInterceptor {
	if len(streamInt) == 1 {
		return streamInt[0]
	}
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		// going backwards through the chain, so that the first interceptor
		// is the outermost
		for i := len(streamInt) - 1; i >= 1; i-- {
			currInterceptor := streamInt[i]
			currStreamer := streamer
			streamer = func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
				return currInterceptor(ctx, desc, cc, method, currStreamer, opts...)
			}
		}
		return streamInt[0](ctx, desc, cc, method, streamer, opts...)
	}
}
