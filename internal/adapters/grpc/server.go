package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"google.golang.org/grpc"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/safego"
)

var errGRPCDisabled = errors.New("gRPC disabled: server.grpc_port is not set")

// Server runs the notification service until the application context ends.
type Server struct {
	grpcServer *grpc.Server
	logger     domain.Logger
	cfg        config.Provider

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(appCtx context.Context, logger domain.Logger, cfg config.Provider, handler *NotificationHandler) (*Server, error) {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		CallLogInterceptor(logger),
		APIKeyInterceptor(cfg),
	))
	RegisterNotificationServiceServer(gs, handler)

	ctx, cancel := context.WithCancel(appCtx)
	return &Server{grpcServer: gs, logger: logger, cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

// Start listens on server.grpc_port. A zero port leaves gRPC off.
func (s *Server) Start() error {
	port := s.cfg.Get().Server.GRPCPort
	if port <= 0 {
		return errGRPCDisabled
	}
	lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", port, err)
	}
	s.logger.Info(s.ctx, "Serving gRPC", "address", lis.Addr().String(), "service", NotificationServiceName)
	s.Serve(lis)
	return nil
}

// Serve accepts calls on lis in the background. Cancelling the application
// context or calling GracefulStop drains in-flight calls and stops it.
func (s *Server) Serve(lis net.Listener) {
	safego.Execute(s.ctx, s.logger, "GRPCServe", func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error(s.ctx, "gRPC serve loop exited", "error", err.Error())
		}
		s.cancel()
	})
	safego.Execute(s.ctx, s.logger, "GRPCStopOnCancel", func() {
		<-s.ctx.Done()
		s.grpcServer.GracefulStop()
		s.logger.Info(context.WithoutCancel(s.ctx), "gRPC server stopped")
	})
}

func (s *Server) GracefulStop() {
	s.cancel()
}
