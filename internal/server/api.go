package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "hostiotrace.v1.TraceService"

// Full method names, as used by grpc.ClientConn.Invoke.
const (
	ReconstructMethod = "/" + ServiceName + "/Reconstruct"
	DecodeMethod      = "/" + ServiceName + "/Decode"
)

// TraceServiceServer is the server API. Messages are JSON-shaped
// google.protobuf.Struct values:
//
//	Reconstruct {events: [...], nesting_ops?: [...], subject?: ""}
//	  -> {trace_id, partial, depth, events, stats, steps, issues}
//	Decode {result: [...], nesting_ops?: [...]}
//	  -> {stats, steps, events, issues}
type TraceServiceServer interface {
	Reconstruct(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Decode(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterTraceServiceServer registers srv on s.
func RegisterTraceServiceServer(s grpc.ServiceRegistrar, srv TraceServiceServer) {
	s.RegisterService(&traceServiceDesc, srv)
}

var traceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TraceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reconstruct", Handler: unaryHandler(ReconstructMethod, TraceServiceServer.Reconstruct)},
		{MethodName: "Decode", Handler: unaryHandler(DecodeMethod, TraceServiceServer.Decode)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hostiotrace/v1/trace.proto",
}

type unaryMethod func(TraceServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TraceServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TraceServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
