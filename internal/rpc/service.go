// Package rpc is the message bridge between the daemon and its clients: a
// gRPC service with a JSON codec carrying tagged command envelopes and a
// server stream of broadcasts.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/prwatch/internal/background"
)

const ServiceName = "prwatch.Bridge"

const (
	dispatchMethod  = "/" + ServiceName + "/Dispatch"
	subscribeMethod = "/" + ServiceName + "/Subscribe"
)

// Backend handles commands and produces broadcasts. *background.Service
// implements it.
type Backend interface {
	Handle(ctx context.Context, cmd background.Command) (any, error)
	Subscribe() (<-chan background.Event, func())
}

// Reply carries a handler result as raw JSON; the caller knows its shape.
type Reply struct {
	Result json.RawMessage `json:"result,omitempty"`
}

type subscribeRequest struct{}

// bridgeServer is implemented by *Server and registered as the service
// implementation.
type bridgeServer interface {
	dispatch(ctx context.Context, env *background.Envelope) (*Reply, error)
	subscribe(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*bridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: dispatchHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "prwatch/bridge",
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(background.Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgeServer).dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: dispatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(bridgeServer).dispatch(ctx, req.(*background.Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(bridgeServer).subscribe(stream)
}

func encodeResult(v any) (*Reply, error) {
	if v == nil {
		return &Reply{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Reply{Result: raw}, nil
}
