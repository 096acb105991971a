package control

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/patrol-simulator/energy"
	"github.com/signalsfoundry/patrol-simulator/flight"
	"github.com/signalsfoundry/patrol-simulator/graph"
	"github.com/signalsfoundry/patrol-simulator/internal/fleet"
	"github.com/signalsfoundry/patrol-simulator/internal/sim"
)

// ErrInvalidArgument marks malformed requests.
var ErrInvalidArgument = errors.New("invalid argument")

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, sim.ErrUnknownAgent),
		errors.Is(err, fleet.ErrAgentNotFound),
		errors.Is(err, graph.ErrUnknownNode):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, flight.ErrInvalidConfig),
		errors.Is(err, graph.ErrUnknownStrategy),
		errors.Is(err, energy.ErrInvalidParams):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, sim.ErrStarted),
		errors.Is(err, flight.ErrNotArmed):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, fleet.ErrAgentExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
