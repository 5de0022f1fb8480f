package rpc

import (
	"context"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/prwatch/internal/background"
	"github.com/dmitrijs2005/prwatch/internal/logging"
)

type Server struct {
	address string
	backend Backend
	logger  logging.Logger

	stopping chan struct{}
	stopOnce sync.Once
}

func NewServer(address string, backend Backend, l logging.Logger) *Server {
	return &Server{
		address:  address,
		backend:  backend,
		logger:   l.With("module", "rpc_server"),
		stopping: make(chan struct{}),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done, then stops gracefully. Open
// subscriptions are ended first so the graceful stop does not wait on them.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoverInterceptor, s.loggingInterceptor))
	srv.RegisterService(&serviceDesc, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping bridge server...")
		s.stopOnce.Do(func() { close(s.stopping) })
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting bridge server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, env *background.Envelope) (*Reply, error) {
	cmd, err := background.Decode(env)
	if err != nil {
		return nil, err
	}
	res, err := s.backend.Handle(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return encodeResult(res)
}

func (s *Server) subscribe(stream grpc.ServerStream) error {
	var req subscribeRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}

	events, cancel := s.backend.Subscribe()
	defer cancel()

	ctx := stream.Context()
	s.logger.Debug(ctx, "subscriber connected")
	defer s.logger.Debug(ctx, "subscriber gone")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopping:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&ev); err != nil {
				return err
			}
		}
	}
}
