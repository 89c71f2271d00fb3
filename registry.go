package wasichan

import (
	"fmt"
	"reflect"

	"google.golang.org/grpc"
)

// ServiceRegistry accumulates service definitions. Servers typically have
// this interface for accumulating the services they expose. It matches the
// grpc.ServiceRegistrar interface.
type ServiceRegistry interface {
	// RegisterService registers the given handler to be used for the given
	// service. Only a single handler can be registered for a given service,
	// and services are identified by their fully-qualified name (e.g.
	// "package.name.Service").
	RegisterService(desc *grpc.ServiceDesc, srv any)
}

var _ ServiceRegistry = (*grpc.Server)(nil)

// HandlerMap accumulates service handlers into a map. Handlers can be
// registered once and then re-used to configure multiple servers that
// expose the same services. HandlerMap can also be used as the internal
// store of registered handlers for a server implementation.
type HandlerMap map[string]service

var _ ServiceRegistry = HandlerMap(nil)

type service struct {
	desc    *grpc.ServiceDesc
	handler any
}

// RegisterService registers the given handler to be used for the given
// service. Attempting to register a handler that does not implement the
// service's handler type, or to register the same service twice, panics.
func (r HandlerMap) RegisterService(desc *grpc.ServiceDesc, h any) {
	ht := reflect.TypeOf(desc.HandlerType).Elem()
	st := reflect.TypeOf(h)
	if !st.Implements(ht) {
		panic(fmt.Sprintf("service %s: handler of type %v does not satisfy %v", desc.ServiceName, st, ht))
	}
	if _, ok := r[desc.ServiceName]; ok {
		panic(fmt.Sprintf("service %s: handler already registered", desc.ServiceName))
	}
	r[desc.ServiceName] = service{desc: desc, handler: h}
}

// QueryService returns the service descriptor and handler for the named
// service, or nil, nil if no handler has been registered.
func (r HandlerMap) QueryService(name string) (*grpc.ServiceDesc, any) {
	svc := r[name]
	return svc.desc, svc.handler
}

// GetServiceInfo returns information about the registered services, in the
// same shape a *grpc.Server reports it.
func (r HandlerMap) GetServiceInfo() map[string]grpc.ServiceInfo {
	result := make(map[string]grpc.ServiceInfo, len(r))
	for name, svc := range r {
		methods := make([]grpc.MethodInfo, 0, len(svc.desc.Methods)+len(svc.desc.Streams))
		for _, md := range svc.desc.Methods {
			methods = append(methods, grpc.MethodInfo{Name: md.MethodName})
		}
		for _, sd := range svc.desc.Streams {
			methods = append(methods, grpc.MethodInfo{
				Name:           sd.StreamName,
				IsClientStream: sd.ClientStreams,
				IsServerStream: sd.ServerStreams,
			})
		}
		result[name] = grpc.ServiceInfo{Methods: methods, Metadata: svc.desc.Metadata}
	}
	return result
}

// ForEach calls the given function for each registered handler, supplying
// the service description and the handler. This can be used to contribute
// all registered handlers to a server:
//
//	reg := wasichan.HandlerMap{}
//	testpb.RegisterTestServiceServer(reg, newTestServiceImpl())
//
//	svr := wasigrpc.NewServer()
//	reg.ForEach(svr.RegisterService)
func (r HandlerMap) ForEach(fn func(desc *grpc.ServiceDesc, svr any)) {
	for _, svc := range r {
		fn(svc.desc, svc.handler)
	}
}
