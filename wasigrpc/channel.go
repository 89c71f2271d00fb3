package wasigrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"runtime"
	"strconv"
	"strings"
	"sync"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/wasilink/wasichan/internal"
)

// Channel is used as a connection for gRPC requests issued over the HTTP
// capability. The server endpoint is configured using the BaseURL field,
// and the Transport can also be configured. Both of those fields must be
// specified.
//
// The Transport is typically a *GrpcEndpoint, in which case the BaseURL's
// authority and scheme are superseded by the endpoint's on every call; only
// the BaseURL's path (a prefix for RPC paths) matters. Any other
// http.RoundTripper also works, which is useful for tests.
//
// Channel implements grpc.ClientConnInterface, so generated client stubs
// can be used with it directly.
type Channel struct {
	Transport http.RoundTripper
	BaseURL   *url.URL
}

var _ grpc.ClientConnInterface = (*Channel)(nil)

// NewChannel returns a channel that issues RPCs through the given endpoint,
// with RPC paths rooted at "/".
func NewChannel(ep *GrpcEndpoint) *Channel {
	return &Channel{Transport: ep, BaseURL: ep.Target()}
}

// Invoke executes a unary RPC, sending the given req message and populating
// the given resp with the server's reply.
func (ch *Channel) Invoke(ctx context.Context, methodName string, req, resp any, opts ...grpc.CallOption) error {
	codec := internal.GetCodec("proto")

	h := headersFromContext(ctx)
	h.Set("Content-Type", UnaryContentType)

	b, err := internal.MarshalMessage(codec, req)
	if err != nil {
		return err
	}

	reqURL := *ch.BaseURL
	reqURL.Path = path.Join(reqURL.Path, methodName)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	r.Header = h
	reply, err := ch.Transport.RoundTrip(r)
	if err != nil {
		return internal.TranslateContextError(err)
	}
	defer drainAndClose(reply.Body)

	rawMD, err := asMetadata(reply.Header)
	if err != nil {
		return err
	}
	hdrMD, tlrMD := splitMetadata(rawMD)
	applyMetadataOpts(opts, hdrMD, tlrMD)

	code := codeFromHTTPStatus(reply.StatusCode)
	msg := reply.Status
	codeStrs := strings.SplitN(reply.Header.Get(grpcStatusHeader), ":", 2)
	if len(codeStrs) > 0 && codeStrs[0] != "" {
		if c, err := strconv.ParseInt(codeStrs[0], 10, 32); err == nil {
			code = codes.Code(c)
		}
		if len(codeStrs) > 1 {
			msg = codeStrs[1]
		}
	}
	if code != codes.OK {
		return statusWithDetails(code, msg, reply.Header).Err()
	}

	// we fire up a goroutine to read the response so that we can properly
	// respect any context deadline (e.g. don't want to be blocked, reading
	// from socket, long past requested timeout).
	respCh := make(chan struct{})
	go func() {
		defer close(respCh)
		b, err = io.ReadAll(reply.Body)
	}()
	select {
	case <-ctx.Done():
		return internal.TranslateContextError(ctx.Err())
	case <-respCh:
	}
	if err != nil {
		return err
	}
	return internal.UnmarshalMessage(codec, b, resp)
}

// NewStream executes a streaming RPC.
func (ch *Channel) NewStream(ctx context.Context, desc *grpc.StreamDesc, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	h := headersFromContext(ctx)
	h.Set("Content-Type", StreamContentType)

	r, w := io.Pipe()
	reqURL := *ch.BaseURL
	reqURL.Path = path.Join(reqURL.Path, methodName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), r)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header = h

	cs := newClientStream(ctx, cancel, w, desc.ServerStreams, internal.GetCodec("proto"))
	// ensure that context is cancelled, even if caller
	// fails to fully consume or cancel the stream
	runtime.SetFinalizer(cs, func(*clientStream) { cancel() })

	go cs.doHTTPCall(ch.Transport, req)

	return cs, nil
}

// statusWithDetails builds the RPC status from the code and message plus
// any details attached via response headers.
func statusWithDetails(code codes.Code, msg string, h http.Header) *status.Status {
	stpb := &spb.Status{Code: int32(code), Message: msg}
	for _, d := range h.Values(grpcDetailsHeader) {
		b, err := base64.RawURLEncoding.DecodeString(d)
		if err != nil {
			continue
		}
		var a anypb.Any
		if proto.Unmarshal(b, &a) == nil {
			stpb.Details = append(stpb.Details, &a)
		}
	}
	return status.FromProto(stpb)
}

// applyMetadataOpts populates grpc.Header and grpc.Trailer call options.
// Other call options are ignored: no real gRPC connection exists, so
// connection-oriented options cannot apply.
func applyMetadataOpts(opts []grpc.CallOption, hdr, tlr metadata.MD) {
	for _, opt := range opts {
		switch o := opt.(type) {
		case grpc.HeaderCallOption:
			*o.HeaderAddr = hdr
		case grpc.TrailerCallOption:
			*o.TrailerAddr = tlr
		}
	}
}

func drainAndClose(r io.ReadCloser) error {
	_, copyErr := io.Copy(io.Discard, r)
	closeErr := r.Close()
	// error from io.Copy likely more useful than the one from Close
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// clientStream implements a client stream over the HTTP capability. A
// goroutine sets up the RPC by initiating the HTTP request, reading the
// response, and decoding that response stream into messages which are fed
// to this stream via the rCh field. Sending messages is handled
// synchronously, writing to a pipe that feeds the HTTP request body.
type clientStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	codec  encoding.Codec

	// respStream is set to indicate whether client expects stream response; unary if false
	respStream bool

	// hd and hdErr are populated when ready is done
	ready sync.WaitGroup
	hdErr error
	hd    metadata.MD

	// rCh is used to deliver messages from the doHTTPCall goroutine
	// to callers of RecvMsg.
	// done must be set to true before it is closed
	rCh chan []byte

	// rMu protects done, rErr, trStat, and trMD
	rMu    sync.RWMutex
	done   bool
	rErr   error
	trStat *status.Status
	trMD   metadata.MD

	// wMu protects w and wErr
	wMu  sync.Mutex
	w    io.WriteCloser
	wErr error
}

func newClientStream(ctx context.Context, cancel context.CancelFunc, w io.WriteCloser, recvStream bool, codec encoding.Codec) *clientStream {
	cs := &clientStream{
		ctx:        ctx,
		cancel:     cancel,
		w:          w,
		codec:      codec,
		respStream: recvStream,
		rCh:        make(chan []byte),
	}
	cs.ready.Add(1)
	return cs
}

func (cs *clientStream) Header() (metadata.MD, error) {
	cs.ready.Wait()
	return cs.hd, cs.hdErr
}

func (cs *clientStream) Trailer() metadata.MD {
	// only safe to read trailers after stream has completed
	cs.rMu.RLock()
	defer cs.rMu.RUnlock()
	if cs.done {
		return cs.trMD
	}
	return nil
}

func (cs *clientStream) CloseSend() error {
	cs.wMu.Lock()
	defer cs.wMu.Unlock()
	return cs.w.Close()
}

func (cs *clientStream) Context() context.Context {
	return cs.ctx
}

func (cs *clientStream) readErrorIfDone() (bool, error) {
	cs.rMu.RLock()
	defer cs.rMu.RUnlock()
	if !cs.done {
		return false, nil
	}
	if cs.rErr != nil {
		return true, cs.rErr
	}
	if cs.trStat == nil || cs.trStat.Code() == codes.OK {
		return true, io.EOF
	}
	return true, cs.trStat.Err()
}

func (cs *clientStream) SendMsg(m any) error {
	// gRPC streams return EOF error for attempts to send on closed stream
	if done, _ := cs.readErrorIfDone(); done {
		return io.EOF
	}

	cs.wMu.Lock()
	defer cs.wMu.Unlock()
	if cs.wErr != nil {
		// earlier write error means stream is effectively closed
		return io.EOF
	}

	cs.wErr = writeMessage(cs.w, cs.codec, m, false)
	return cs.wErr
}

func (cs *clientStream) RecvMsg(m any) error {
	if done, err := cs.readErrorIfDone(); done {
		return err
	}

	select {
	case <-cs.ctx.Done():
		return internal.TranslateContextError(cs.ctx.Err())
	case msg, ok := <-cs.rCh:
		if !ok {
			done, err := cs.readErrorIfDone()
			if !done {
				// sanity check: this shouldn't be possible
				panic("cs.rCh was closed but cs.done == false!")
			}
			return err
		}
		if err := internal.UnmarshalMessage(cs.codec, msg, m); err != nil {
			return status.Errorf(codes.Internal, "server sent invalid message: %v", err)
		}
		if !cs.respStream {
			// We need to query the channel for a second message. If there *is* a
			// second message, the server tried to send too many, and that's an
			// error. And if there isn't a second message, we still need to see the
			// channel close (e.g. end-of-stream) so we know the trailer is set (so
			// that it's available for a subsequent call to Trailer)
			select {
			case <-cs.ctx.Done():
				return internal.TranslateContextError(cs.ctx.Err())
			case _, ok := <-cs.rCh:
				if ok {
					// server tried to send >1 message!
					cs.rMu.Lock()
					defer cs.rMu.Unlock()
					if cs.rErr == nil {
						cs.rErr = status.Error(codes.Internal, "method should return 1 response message but server sent >1")
						cs.done = true
						// we won't be reading from the channel anymore, so we must
						// cancel the context so that doHTTPCall doesn't hang trying
						// to write to channel
						cs.cancel()
					}
					return cs.rErr
				}
				// if server sent a failure after the single message, the failure takes precedence
				done, err := cs.readErrorIfDone()
				if !done {
					// sanity check: this shouldn't be possible
					panic("cs.rCh was closed but cs.done == false!")
				}
				if err != io.EOF {
					return err
				}
			}
		}
		return nil
	}
}

// doHTTPCall performs the HTTP round trip and then reads the reply body,
// sending delimited messages to the clientStream via a channel.
func (cs *clientStream) doHTTPCall(transport http.RoundTripper, req *http.Request) {
	// On completion, we must fill in the trailer or cs.rErr and then close
	// the channel, which signals to client code that we've reached
	// end-of-stream.

	var rErr error
	rMuHeld := false

	defer func() {
		if !rMuHeld {
			cs.rMu.Lock()
		}
		defer cs.rMu.Unlock()

		if rErr != nil && cs.rErr == nil {
			cs.rErr = rErr
		}
		cs.done = true
		close(cs.rCh)
	}()

	onReady := func(err error, headers metadata.MD) {
		cs.hdErr = err
		cs.hd = headers
		rErr = err
		cs.ready.Done()
	}

	reply, err := transport.RoundTrip(req)
	if err != nil {
		onReady(internal.TranslateContextError(err), nil)
		return
	}
	defer reply.Body.Close()

	rawMD, err := asMetadata(reply.Header)
	if err != nil {
		onReady(err, nil)
		return
	}
	hdrMD, _ := splitMetadata(rawMD)

	onReady(nil, hdrMD)

	if code := codeFromHTTPStatus(reply.StatusCode); code != codes.OK {
		cs.trStat = status.New(code, reply.Status)
		return
	}

	for {
		var sz int32
		sz, rErr = readSizePreface(reply.Body)
		if rErr != nil {
			if rErr == io.EOF {
				// the stream must end with a trailer message, not bare EOF
				rErr = io.ErrUnexpectedEOF
			}
			return
		}
		if sz < 0 {
			// final message conveys the status and trailer metadata
			// (need lock to write to trailer fields)
			cs.rMu.Lock()
			rMuHeld = true // defer above will unlock for us
			var stpb spb.Status
			cs.rErr = readMessage(reply.Body, cs.codec, -sz, &stpb)
			if cs.rErr != nil {
				if cs.rErr == io.EOF {
					cs.rErr = io.ErrUnexpectedEOF
				}
				return
			}
			cs.trStat, cs.trMD, cs.rErr = decodeTrailer(&stpb)
			return
		}
		if sz > maxMessageSize {
			rErr = fmt.Errorf("bad size preface: indicated size is too large: %d", sz)
			return
		}
		msg := make([]byte, sz)
		_, rErr = io.ReadAtLeast(reply.Body, msg, int(sz))
		if rErr != nil {
			if rErr == io.EOF {
				rErr = io.ErrUnexpectedEOF
			}
			return
		}

		select {
		case <-cs.ctx.Done():
			// operation timed out or was cancelled before we could
			// successfully send this message to client code
			rErr = internal.TranslateContextError(cs.ctx.Err())
			return
		case cs.rCh <- msg:
		}
	}
}
