package alarm

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
	"github.com/oshokin/mqtt-alarm/internal/logger"
)

// Service abstracts the controller operations the transport layer depends on.
type Service interface {
	Status() *domain.Status
	Control(ctx context.Context, cmd domain.Command) (*domain.Status, error)
}

// Server implements the AlarmService gRPC API.
type Server struct {
	// service is the alarm controller.
	service Service
}

var _ AlarmServiceServer = (*Server)(nil)

// NewServer wires the controller into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// GetStatus returns the current alarm status.
func (s *Server) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toResponse(s.service.Status())
}

// SendCommand parses and applies a control command.
func (s *Server) SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	cmd, err := CommandFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	current, err := s.service.Control(ctx, cmd)

	switch {
	case err == nil:
		logger.InfoKV(ctx, "Command accepted over gRPC", "command", cmd.Kind.String(), "actor", cmd.Actor.String())

		return toResponse(current)
	case errors.Is(err, domain.ErrWrongCredential):
		return nil, status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		return nil, status.Error(codes.Unavailable, err.Error())
	}
}

func toResponse(current *domain.Status) (*structpb.Struct, error) {
	if current == nil {
		return nil, status.Error(codes.Unavailable, "status is not available")
	}

	document, err := StatusToStruct(current)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return document, nil
}
