package control

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/observability"
)

// RequestIDMetadataKey carries a caller-chosen request id. The server
// echoes the id it used in the response header of the same name.
const RequestIDMetadataKey = "x-request-id"

// RequestIDUnaryServerInterceptor assigns every control request an id,
// taken from inbound metadata when the caller supplied one, and installs a
// request logger tagged with the id, the method and the target agent.
// Failed requests are logged at warn level with their status code.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if id := incomingRequestID(ctx); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}

		_, method := observability.SplitMethod(info.FullMethod)
		fields := []logging.Field{logging.String("method", method)}
		if agent := requestAgent(req); agent != "" {
			fields = append(fields, logging.String("agent", agent))
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(fields...))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, logging.RequestIDFromContext(ctx)))

		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			reqLog.Warn(ctx, "control request failed",
				logging.String("code", status.Code(err).String()),
				logging.Duration("took", time.Since(start)),
				logging.Err(err),
			)
		}
		return resp, err
	}
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
