package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/prwatch/internal/background"
)

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	var command background.CommandType
	if env, ok := req.(*background.Envelope); ok {
		command = env.Type
	}

	resp, err := handler(ctx, req)
	if err != nil {
		st := toStatus(err)
		s.logger.Warn(ctx, "command failed", "command", command, "code", st.Code().String(), "error", err)
		return nil, st.Err()
	}

	s.logger.Debug(ctx, "command handled", "command", command, "duration", time.Since(start))
	return resp, nil
}

func (s *Server) recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error(ctx, "handler panicked", "method", info.FullMethod, "panic", p)
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

// errorInterceptor turns bridge status errors back into the daemon's
// sentinel errors on the client side.
func errorInterceptor(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return fromStatus(invoker(ctx, method, req, reply, cc, opts...))
}
