package grpc

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
	"github.com/dmitrijs2005/asyncupload/internal/server/sessions"
)

// LedgerStore is the part of ledger.Ledger the hook uses.
type LedgerStore interface {
	Untrack(ctx context.Context, sid, path string) error
	Clear(ctx context.Context, sid string) error
	List(ctx context.Context, sid string) ([]string, error)
}

type GRPCServer struct {
	address string
	ledger  LedgerStore
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, ledger LedgerStore) *GRPCServer {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		ledger:  ledger,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve is Run on an existing listener.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.sessionInterceptor))

	RegisterLedgerServiceServer(srv, s)

	hs := health.NewServer()
	hs.SetServingStatus(LedgerServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

func (s *GRPCServer) Untrack(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	sid, _ := sessions.IDFromContext(ctx)

	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}

	if err := s.ledger.Untrack(ctx, sid, req.GetValue()); err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Saved upload untracked", "session_id", sid, "path", req.GetValue())
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) Clear(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	sid, _ := sessions.IDFromContext(ctx)

	if err := s.ledger.Clear(ctx, sid); err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Ledger cleared", "session_id", sid)
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) List(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	sid, _ := sessions.IDFromContext(ctx)

	paths, err := s.ledger.List(ctx, sid)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(paths))}
	for _, p := range paths {
		out.Values = append(out.Values, structpb.NewStringValue(p))
	}
	return out, nil
}

func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	if errors.Is(err, common.ErrMissingSession) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Error(ctx, err.Error())
	return status.Error(codes.Internal, "internal error")
}
