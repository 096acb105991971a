// Package control exposes a running patrol simulation over gRPC.
//
// The service speaks protobuf well-known types only (Struct, StringValue,
// BytesValue, Empty), so no generated code is needed on either side.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "patrol.v1.ControlService"

// Full method names, as seen by interceptors.
const (
	GetStatsMethod       = "/" + ServiceName + "/GetStats"
	SetModeMethod        = "/" + ServiceName + "/SetMode"
	GetPositionMethod    = "/" + ServiceName + "/GetPosition"
	ExportVisitsMethod   = "/" + ServiceName + "/ExportVisits"
	ExchangeVisitsMethod = "/" + ServiceName + "/ExchangeVisits"
	ListAgentsMethod     = "/" + ServiceName + "/ListAgents"
)

// Server is the control API.
type Server interface {
	// GetStats returns the end-of-run style summary of one agent.
	GetStats(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// SetMode switches an agent between patrol and monitor. The request
	// carries "agent", "mode" and optionally "x" and "y" for the
	// monitoring station.
	SetMode(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// GetPosition returns the current published state of one agent.
	GetPosition(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// ExportVisits returns the msgpack visit ledger of one agent.
	ExportVisits(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	// ExchangeVisits merges the ledger of "from" into "to".
	ExchangeVisits(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListAgents returns the state of every agent.
	ListAgents(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// RegisterServer registers srv with s.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStats", func(s Server, ctx context.Context, in *wrapperspb.StringValue) (proto.Message, error) {
			return s.GetStats(ctx, in)
		}),
		unary("SetMode", func(s Server, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.SetMode(ctx, in)
		}),
		unary("GetPosition", func(s Server, ctx context.Context, in *wrapperspb.StringValue) (proto.Message, error) {
			return s.GetPosition(ctx, in)
		}),
		unary("ExportVisits", func(s Server, ctx context.Context, in *wrapperspb.StringValue) (proto.Message, error) {
			return s.ExportVisits(ctx, in)
		}),
		unary("ExchangeVisits", func(s Server, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.ExchangeVisits(ctx, in)
		}),
		unary("ListAgents", func(s Server, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.ListAgents(ctx, in)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "patrol/v1/control.proto",
}

// unary builds the method descriptor protoc-gen-go-grpc would emit for a
// unary method with request type *Req.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}](name string, call func(Server, context.Context, PReq) (proto.Message, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(Server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(Server), ctx, req.(PReq))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client is a typed client for the control API.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetStats(ctx context.Context, agent string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetStatsMethod, wrapperspb.String(agent), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SetMode switches the mode of agent. A non-nil station also moves the
// monitoring destination.
func (c *Client) SetMode(ctx context.Context, agent, mode string, station *[2]float64, opts ...grpc.CallOption) error {
	fields := map[string]any{"agent": agent, "mode": mode}
	if station != nil {
		fields["x"], fields["y"] = station[0], station[1]
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, SetModeMethod, in, new(emptypb.Empty), opts...)
}

func (c *Client) GetPosition(ctx context.Context, agent string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetPositionMethod, wrapperspb.String(agent), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ExportVisits(ctx context.Context, agent string, opts ...grpc.CallOption) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, ExportVisitsMethod, wrapperspb.String(agent), out, opts...); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

// ExchangeVisits merges the ledger of from into to and returns the number
// of edges raised.
func (c *Client) ExchangeVisits(ctx context.Context, from, to string, opts ...grpc.CallOption) (int, error) {
	in, err := structpb.NewStruct(map[string]any{"from": from, "to": to})
	if err != nil {
		return 0, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExchangeVisitsMethod, in, out, opts...); err != nil {
		return 0, err
	}
	return int(out.GetFields()["edges_raised"].GetNumberValue()), nil
}

func (c *Client) ListAgents(ctx context.Context, opts ...grpc.CallOption) ([]*structpb.Struct, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListAgentsMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	agents := make([]*structpb.Struct, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		if s := v.GetStructValue(); s != nil {
			agents = append(agents, s)
		}
	}
	return agents, nil
}
