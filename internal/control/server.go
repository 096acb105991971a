package control

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/observability"
)

// NewGRPCServer returns a gRPC server with the control interceptor chain:
// request ids and loggers first, then span naming, then RPC metrics.
// metrics may be nil.
func NewGRPCServer(log logging.Logger, metrics *observability.ControlCollector, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			metrics.UnaryServerInterceptor(),
		),
	}
	return grpc.NewServer(append(base, opts...)...)
}
