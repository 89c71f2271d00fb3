// Command wasicall invokes a unary gRPC method on a remote endpoint,
// dispatching the request through the outgoing-HTTP capability the same
// way guest code does. Service and method descriptors come from a
// serialized FileDescriptorSet (e.g. produced with
// "protoc --descriptor_set_out"), so no generated code is needed.
//
// Example:
//
//	wasicall -endpoint https://api.example.com \
//	    -protoset service.protoset \
//	    -d '{"name": "world"}' \
//	    example.v1.Greeter/SayHello
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang/protobuf/jsonpb"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/wasilink/wasichan/wasigrpc"
	"github.com/wasilink/wasichan/wasihttp"
)

var (
	endpoint = flag.String("endpoint", "", "Endpoint to dispatch requests to, as a scheme://authority URL. Required.")
	protoset = flag.String("protoset", "", "Path to a serialized FileDescriptorSet containing the service. Required.")
	data     = flag.String("d", "{}", "Request message, as JSON.")
	timeout  = flag.Duration("timeout", 10*time.Second, "Deadline for the call.")
	verbose  = flag.Bool("v", false, "Enable debug logging.")

	hdrs headerFlags
)

func init() {
	flag.Var(&hdrs, "H", "Additional request metadata, as 'name: value'. May be given multiple times.")
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <service>/<method>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 || *endpoint == "" || *protoset == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := zap.NewDevelopmentConfig()
	if !*verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, flag.Arg(0)); err != nil {
		if st, ok := status.FromError(err); ok && st.Code() != 0 {
			logger.Error("call failed",
				zap.Stringer("code", st.Code()),
				zap.String("message", st.Message()),
				zap.Any("details", st.Details()))
		} else {
			logger.Error("call failed", zap.Error(err))
		}
		os.Exit(1)
	}
}

func run(logger *zap.Logger, fullMethod string) error {
	md, err := findMethod(fullMethod)
	if err != nil {
		return err
	}
	if md.IsClientStreaming() || md.IsServerStreaming() {
		return fmt.Errorf("%s is a streaming method; only unary methods are supported", fullMethod)
	}

	ep, err := wasigrpc.NewGrpcEndpoint(*endpoint, wasihttp.NewRoundTripperHandler(nil))
	if err != nil {
		return err
	}
	ch := wasigrpc.NewChannel(ep)
	logger.Debug("dispatching through endpoint", zap.Stringer("target", ep.Target()))

	req := dynamic.NewMessage(md.GetInputType())
	unmarshaler := jsonpb.Unmarshaler{AllowUnknownFields: false}
	if err := req.UnmarshalJSONPB(&unmarshaler, []byte(*data)); err != nil {
		return fmt.Errorf("parsing request message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if pairs := hdrs.pairs(); len(pairs) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	var respHdr, respTlr metadata.MD
	start := time.Now()
	resp, err := grpcdynamic.NewStub(ch).InvokeRpc(ctx, md, req, grpc.Header(&respHdr), grpc.Trailer(&respTlr))
	if err != nil {
		return err
	}
	logger.Debug("call succeeded",
		zap.Duration("elapsed", time.Since(start)),
		zap.Any("header", respHdr),
		zap.Any("trailer", respTlr))

	marshaler := jsonpb.Marshaler{Indent: "  "}
	var out string
	if dyn, ok := resp.(*dynamic.Message); ok {
		var b []byte
		b, err = dyn.MarshalJSONPB(&marshaler)
		out = string(b)
	} else {
		out, err = marshaler.MarshalToString(resp)
	}
	if err != nil {
		return fmt.Errorf("rendering response message: %w", err)
	}
	fmt.Println(out)
	return nil
}

// findMethod loads the descriptor set and resolves the named method, given
// as "fully.qualified.Service/Method".
func findMethod(fullMethod string) (*desc.MethodDescriptor, error) {
	svcName, mtdName, ok := strings.Cut(fullMethod, "/")
	if !ok {
		return nil, fmt.Errorf("method %q is not in <service>/<method> form", fullMethod)
	}

	b, err := os.ReadFile(*protoset)
	if err != nil {
		return nil, err
	}
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(b, &fds); err != nil {
		return nil, fmt.Errorf("parsing descriptor set %s: %w", *protoset, err)
	}
	files, err := desc.CreateFileDescriptorsFromSet(&fds)
	if err != nil {
		return nil, fmt.Errorf("processing descriptor set %s: %w", *protoset, err)
	}

	for _, fd := range files {
		if svc := fd.FindService(svcName); svc != nil {
			if mtd := svc.FindMethodByName(mtdName); mtd != nil {
				return mtd, nil
			}
			return nil, fmt.Errorf("service %s has no method named %s", svcName, mtdName)
		}
	}
	return nil, fmt.Errorf("descriptor set %s contains no service named %s", *protoset, svcName)
}

// headerFlags accumulates -H flags into metadata pairs.
type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header %q is not in 'name: value' form", v)
	}
	*h = append(*h, v)
	return nil
}

func (h headerFlags) pairs() []string {
	var pairs []string
	for _, raw := range h {
		name, value, _ := strings.Cut(raw, ":")
		pairs = append(pairs, strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return pairs
}
