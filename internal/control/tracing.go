package control

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/observability"
)

const tracerName = "github.com/signalsfoundry/patrol-simulator/internal/control"

// Span attribute keys.
const (
	attrAgent     = attribute.Key("patrol.agent")
	attrRequestID = attribute.Key("patrol.request_id")
	attrCode      = attribute.Key("rpc.grpc.status_code")
)

// TracingUnaryServerInterceptor renames the RPC span to Control/<method>
// and tags it with the target agent, the request id and the status code.
// A server span is started when no stats handler created one.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := "Control/" + method

		span := trace.SpanFromContext(ctx)
		owned := !span.SpanContext().IsValid()
		if owned {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(name)
		}

		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)
		if agent := requestAgent(req); agent != "" {
			span.SetAttributes(attrAgent.String(agent))
		}
		if id := logging.RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attrRequestID.String(id))
		}

		resp, err := handler(ctx, req)
		st := status.Convert(err)
		span.SetAttributes(attrCode.Int(int(st.Code())))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, st.Message())
		}
		return resp, err
	}
}

// requestAgent extracts the agent a control request targets.
func requestAgent(req any) string {
	switch r := req.(type) {
	case *wrapperspb.StringValue:
		return r.GetValue()
	case *structpb.Struct:
		if a := r.GetFields()["agent"].GetStringValue(); a != "" {
			return a
		}
		return r.GetFields()["to"].GetStringValue()
	}
	return ""
}

// startAgentSpan starts a child span for work done on behalf of agent.
func startAgentSpan(ctx context.Context, name, agent string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{attrAgent.String(agent)}, extra...)
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
