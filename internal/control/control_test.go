package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/patrol-simulator/flight"
	"github.com/signalsfoundry/patrol-simulator/graph"
	"github.com/signalsfoundry/patrol-simulator/internal/fleet"
	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/observability"
	"github.com/signalsfoundry/patrol-simulator/internal/sim"
)

func testRunner(t *testing.T, agents ...string) *sim.Runner {
	t.Helper()
	desc := graph.Description{
		Nodes: []graph.NodeSpec{
			{ID: "base", X: 0, Y: 0, Type: graph.BaseType},
			{ID: "a", X: 100, Y: 0},
			{ID: "b", X: 100, Y: 100},
		},
		Edges: []graph.EdgeSpec{
			{From: "base", To: "a"}, {From: "a", To: "base"},
			{From: "a", To: "b"}, {From: "b", To: "a"},
			{From: "b", To: "base"}, {From: "base", To: "b"},
		},
	}
	cfg := sim.DefaultConfig()
	cfg.ExchangeInterval = 0
	r, err := sim.NewRunner(desc, cfg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	for _, id := range agents {
		if err := r.AddAgent(id); err != nil {
			t.Fatalf("AddAgent: %v", err)
		}
	}
	r.Begin()
	r.RunFor(3 * time.Minute)
	return r
}

func dial(t *testing.T, srv Server, metrics *observability.ControlCollector) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer(logging.Noop(), metrics)
	RegisterServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestControlOverGRPC(t *testing.T) {
	run := testRunner(t, "uav-1", "uav-2")
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}
	client := dial(t, NewService(run, nil, 50, 50), metrics)
	ctx := metadata.AppendToOutgoingContext(context.Background(), RequestIDMetadataKey, "req-1")

	stats, err := client.GetStats(ctx, "uav-1")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	f := stats.GetFields()
	if f["agent"].GetStringValue() != "uav-1" || f["total_edges"].GetNumberValue() != 6 {
		t.Fatalf("GetStats = %v", stats)
	}
	if f["total_visits"].GetNumberValue() == 0 {
		t.Fatalf("no visits after three minutes: %v", stats)
	}

	pos, err := client.GetPosition(ctx, "uav-2")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got := pos.GetFields()["sim_time"].GetNumberValue(); got != 180 {
		t.Fatalf("sim_time = %v, want 180", got)
	}

	agents, err := client.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 || agents[0].GetFields()["agent"].GetStringValue() != "uav-1" {
		t.Fatalf("ListAgents = %v", agents)
	}

	payload, err := client.ExportVisits(ctx, "uav-1")
	if err != nil || len(payload) == 0 {
		t.Fatalf("ExportVisits = %d bytes, %v", len(payload), err)
	}
	if _, err := client.ExchangeVisits(ctx, "uav-1", "uav-2"); err != nil {
		t.Fatalf("ExchangeVisits: %v", err)
	}
	if raised, err := client.ExchangeVisits(ctx, "uav-1", "uav-2"); err != nil || raised != 0 {
		t.Fatalf("repeated ExchangeVisits raised %d, %v; want 0", raised, err)
	}

	station := [2]float64{50, 50}
	if err := client.SetMode(ctx, "uav-1", "monitor", &station); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	pos, _ = client.GetPosition(ctx, "uav-1")
	if got := pos.GetFields()["mode"].GetStringValue(); got != flight.Monitor.String() {
		t.Fatalf("mode = %q, want monitor", got)
	}

	if got := testutil.ToFloat64(metrics.RPCRequests.WithLabelValues("ControlService", "GetStats", codes.OK.String())); got != 1 {
		t.Fatalf("GetStats request counter = %v, want 1", got)
	}
}

func TestControlErrors(t *testing.T) {
	client := dial(t, NewService(testRunner(t, "uav-1"), nil, 0, 0), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"unknown agent", func() error { _, err := client.GetStats(ctx, "ghost"); return err }, codes.NotFound},
		{"empty agent", func() error { _, err := client.GetPosition(ctx, ""); return err }, codes.InvalidArgument},
		{"bad mode", func() error { return client.SetMode(ctx, "uav-1", "loiter", nil) }, codes.InvalidArgument},
		{"self exchange", func() error { _, err := client.ExchangeVisits(ctx, "uav-1", "uav-1"); return err }, codes.InvalidArgument},
		{"unknown peer", func() error { _, err := client.ExchangeVisits(ctx, "ghost", "uav-1"); return err }, codes.NotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code := status.Code(tc.call()); code != tc.code {
				t.Fatalf("code = %v, want %v", code, tc.code)
			}
		})
	}
}

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "unknown agent", err: fmt.Errorf("%w: %q", sim.ErrUnknownAgent, "x"), code: codes.NotFound},
		{name: "invalid argument", err: ErrInvalidArgument, code: codes.InvalidArgument},
		{name: "flight config", err: flight.ErrInvalidConfig, code: codes.InvalidArgument},
		{name: "started", err: sim.ErrStarted, code: codes.FailedPrecondition},
		{name: "duplicate agent", err: fmt.Errorf("%w: %q", fleet.ErrAgentExists, "uav-1"), code: codes.AlreadyExists},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}

func TestRequestIDInterceptorPropagatesMetadata(t *testing.T) {
	var seen string
	interceptor := RequestIDUnaryServerInterceptor(nil)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "abc"))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: GetStatsMethod}, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = logging.RequestIDFromContext(ctx)
		if logging.LoggerFromContext(ctx) == nil {
			t.Fatalf("no request logger on context")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor error: %v", err)
	}
	if seen != "abc" {
		t.Fatalf("request id = %q, want abc", seen)
	}
}

func TestRequestAgent(t *testing.T) {
	byName, _ := structpb.NewStruct(map[string]any{"agent": "uav-1", "mode": "monitor"})
	exchange, _ := structpb.NewStruct(map[string]any{"from": "uav-1", "to": "uav-2"})
	tests := []struct {
		name string
		req  any
		want string
	}{
		{"string value", wrapperspb.String("uav-3"), "uav-3"},
		{"struct agent", byName, "uav-1"},
		{"exchange target", exchange, "uav-2"},
		{"empty", &emptypb.Empty{}, ""},
	}
	for _, tt := range tests {
		if got := requestAgent(tt.req); got != tt.want {
			t.Fatalf("%s: requestAgent = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestTracingInterceptorRecordsAgent(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	interceptor := TracingUnaryServerInterceptor()
	_, err := interceptor(context.Background(), wrapperspb.String("uav-1"), &grpc.UnaryServerInfo{FullMethod: GetStatsMethod},
		func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(codes.NotFound, "unknown agent")
		})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("interceptor error = %v, want NotFound", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "Control/GetStats" {
		t.Fatalf("span name = %q, want Control/GetStats", got)
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == attrAgent && kv.Value.AsString() == "uav-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("span attributes %v missing agent", spans[0].Attributes())
	}
}
