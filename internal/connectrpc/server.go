package connectrpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fpt/klein-dm/internal/session"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
	"github.com/fpt/klein-dm/pkg/turn"
)

type (
	structRequest  = connect.Request[structpb.Struct]
	structResponse = connect.Response[structpb.Struct]
)

// TurnServer serves a session.Service as kleindm.v1.TurnService.
type TurnServer struct {
	service session.Service
	logger  *pkgLogger.Logger
}

func NewTurnServer(service session.Service, logger *pkgLogger.Logger) *TurnServer {
	return &TurnServer{service: service, logger: logger.WithComponent("connect-server")}
}

// Mount registers every procedure on mux
func (s *TurnServer) Mount(mux *http.ServeMux) {
	mux.Handle(SubmitProcedure, connect.NewUnaryHandler(SubmitProcedure, s.Submit))
	mux.Handle(DumpProcedure, connect.NewUnaryHandler(DumpProcedure, s.Dump))
	mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, s.Stats))
	mux.Handle(ResetProcedure, connect.NewUnaryHandler(ResetProcedure, s.Reset))
}

func (s *TurnServer) Submit(ctx context.Context, req *structRequest) (*structResponse, error) {
	var in SubmitRequest
	if err := decodeKeyed(req.Msg, &in, &in.KeyRequest); err != nil {
		return nil, err
	}
	reply, err := s.service.Submit(ctx, in.key(), in.Inputs)
	if err != nil && len(reply.Outputs) == 0 {
		s.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Submit failed", "key", in.key().String(), "error", err)
		return nil, toConnectError(err)
	}
	if err != nil && reply.Error == "" {
		reply.Error = err.Error()
	}
	return respond(reply)
}

func (s *TurnServer) Dump(ctx context.Context, req *structRequest) (*structResponse, error) {
	var in KeyRequest
	if err := decodeKeyed(req.Msg, &in, &in); err != nil {
		return nil, err
	}
	dump, err := s.service.Dump(ctx, in.key())
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(DumpResponse{Dump: dump})
}

func (s *TurnServer) Stats(ctx context.Context, req *structRequest) (*structResponse, error) {
	var in KeyRequest
	if err := decodeKeyed(req.Msg, &in, &in); err != nil {
		return nil, err
	}
	stats, err := s.service.Stats(ctx, in.key())
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(stats)
}

func (s *TurnServer) Reset(ctx context.Context, req *structRequest) (*structResponse, error) {
	var in KeyRequest
	if err := decodeKeyed(req.Msg, &in, &in); err != nil {
		return nil, err
	}
	if err := s.service.Reset(ctx, in.key()); err != nil {
		return nil, toConnectError(err)
	}
	s.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Session reset", "key", in.key().String())
	return respond(struct{}{})
}

func decodeKeyed(msg *structpb.Struct, out any, key *KeyRequest) error {
	if err := fromStruct(msg, out); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
	if key.ChannelType == "" || key.ChannelID == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("channel_type and channel_id are required"))
	}
	return nil
}

func respond(v any) (*structResponse, error) {
	msg, err := toStruct(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, turn.ErrStructural):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
