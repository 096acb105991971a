package control

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/patrol-simulator/flight"
	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/internal/logging"
	"github.com/signalsfoundry/patrol-simulator/internal/sim"
	"github.com/signalsfoundry/patrol-simulator/model"
)

// Service implements Server over a sim.Runner.
type Service struct {
	run        *sim.Runner
	log        logging.Logger
	cellWidth  float64
	cellHeight float64
}

// NewService constructs a Service. Cell sizes select the grid used by the
// coverage projection of GetStats; zero disables it.
func NewService(run *sim.Runner, log logging.Logger, cellWidth, cellHeight float64) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{run: run, log: log, cellWidth: cellWidth, cellHeight: cellHeight}
}

func (s *Service) GetStats(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	agent, err := agentID(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	res, err := s.run.Result(agent, s.cellWidth, s.cellHeight)
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := structpb.NewStruct(res.Ordered().Values())
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

func (s *Service) SetMode(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	agent := fields["agent"].GetStringValue()
	if agent == "" {
		return nil, ToStatusError(fmt.Errorf("%w: agent is required", ErrInvalidArgument))
	}
	mode, err := flight.ParseMode(fields["mode"].GetStringValue())
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}

	reqLog := s.logger(ctx).With(
		logging.String("agent", agent),
		logging.String("mode", mode.String()),
	)

	x, hasX := fields["x"]
	y, hasY := fields["y"]
	if hasX != hasY {
		return nil, ToStatusError(fmt.Errorf("%w: station needs both x and y", ErrInvalidArgument))
	}
	if hasX {
		p := geom.Point{x.GetNumberValue(), y.GetNumberValue()}
		if err := s.run.SetMonitoringDestination(agent, p); err != nil {
			return nil, ToStatusError(err)
		}
		reqLog = reqLog.With(logging.Float("x", p.X()), logging.Float("y", p.Y()))
	}
	if err := s.run.SetMode(agent, mode); err != nil {
		return nil, ToStatusError(err)
	}
	reqLog.Info(ctx, "mode changed")
	return &emptypb.Empty{}, nil
}

func (s *Service) GetPosition(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	agent, err := agentID(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	st, err := s.run.Snapshot(agent)
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := structpb.NewStruct(stateFields(st))
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

func (s *Service) ExportVisits(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	agent, err := agentID(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	payload, err := s.run.MarshalVisits(agent)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return wrapperspb.Bytes(payload), nil
}

func (s *Service) ExchangeVisits(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	from := req.GetFields()["from"].GetStringValue()
	to := req.GetFields()["to"].GetStringValue()
	if from == "" || to == "" {
		return nil, ToStatusError(fmt.Errorf("%w: from and to are required", ErrInvalidArgument))
	}
	if from == to {
		return nil, ToStatusError(fmt.Errorf("%w: cannot exchange with self", ErrInvalidArgument))
	}

	ctx, span := startAgentSpan(ctx, "ControlService.ExchangeVisits", to,
		attribute.String("patrol.peer", from))
	defer span.End()

	payload, err := s.run.MarshalVisits(from)
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	raised, err := s.run.MergeVisits(to, payload)
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	span.SetAttributes(attribute.Int("edges_raised", raised))

	s.logger(ctx).Debug(ctx, "visits exchanged",
		logging.String("from", from),
		logging.String("to", to),
		logging.Int("edges_raised", raised),
		logging.Int("payload_bytes", len(payload)),
	)
	return structpb.NewStruct(map[string]any{"edges_raised": raised})
}

func (s *Service) ListAgents(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	ids := s.run.AgentIDs()
	values := make([]any, 0, len(ids))
	for _, id := range ids {
		st, err := s.run.Snapshot(id)
		if err != nil {
			continue
		}
		values = append(values, stateFields(st))
	}
	out, err := structpb.NewList(values)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// logger returns the request logger installed by the interceptor chain,
// falling back to the service logger.
func (s *Service) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

func agentID(req *wrapperspb.StringValue) (string, error) {
	if req.GetValue() == "" {
		return "", fmt.Errorf("%w: agent is required", ErrInvalidArgument)
	}
	return req.GetValue(), nil
}

func stateFields(st model.AgentState) map[string]any {
	return map[string]any{
		"agent":        st.ID,
		"state":        st.State,
		"mode":         st.Mode,
		"node":         st.Node,
		"x":            st.Position.X,
		"y":            st.Position.Y,
		"z":            st.Position.Z,
		"vx":           st.Velocity.X,
		"vy":           st.Velocity.Y,
		"vz":           st.Velocity.Z,
		"energy":       st.Energy,
		"energy_ratio": st.EnergyRatio,
		"current_a":    st.Current,
		"low_energy":   st.LowEnergy,
		"recharges":    st.Recharges,
		"sim_time":     st.SimTime,
		"updated_at":   st.UpdatedAt.Format(time.RFC3339Nano),
	}
}
