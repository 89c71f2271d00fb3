package wasichan_test

import (
	"testing"

	"google.golang.org/grpc"

	"github.com/wasilink/wasichan"
)

type pingerServer interface {
	mustEmbedUnimplementedPinger()
}

type pingerImpl struct{}

func (pingerImpl) mustEmbedUnimplementedPinger() {}

var pingerDesc = grpc.ServiceDesc{
	ServiceName: "ping.Pinger",
	HandlerType: (*pingerServer)(nil),
	Methods:     []grpc.MethodDesc{{MethodName: "Ping"}},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", ServerStreams: true},
	},
}

func TestHandlerMap(t *testing.T) {
	hm := wasichan.HandlerMap{}
	impl := pingerImpl{}
	hm.RegisterService(&pingerDesc, impl)

	desc, h := hm.QueryService("ping.Pinger")
	if desc != &pingerDesc {
		t.Fatalf("wrong descriptor returned: %v", desc)
	}
	if h != impl {
		t.Fatalf("wrong handler returned: %v", h)
	}

	desc, h = hm.QueryService("ping.Unknown")
	if desc != nil || h != nil {
		t.Fatalf("unknown service should return nils; got %v, %v", desc, h)
	}

	info := hm.GetServiceInfo()
	svcInfo, ok := info["ping.Pinger"]
	if !ok {
		t.Fatalf("service missing from info: %v", info)
	}
	if len(svcInfo.Methods) != 2 {
		t.Fatalf("wrong methods reported: %v", svcInfo.Methods)
	}

	count := 0
	hm.ForEach(func(desc *grpc.ServiceDesc, svr any) {
		count++
		if desc.ServiceName != "ping.Pinger" {
			t.Fatalf("unexpected service: %s", desc.ServiceName)
		}
	})
	if count != 1 {
		t.Fatalf("ForEach visited %d services", count)
	}
}

func TestHandlerMap_RegisterPanics(t *testing.T) {
	hm := wasichan.HandlerMap{}
	hm.RegisterService(&pingerDesc, pingerImpl{})

	assertPanics(t, "duplicate registration", func() {
		hm.RegisterService(&pingerDesc, pingerImpl{})
	})
	assertPanics(t, "wrong handler type", func() {
		wasichan.HandlerMap{}.RegisterService(&pingerDesc, struct{}{})
	})
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s should panic", name)
		}
	}()
	fn()
}
