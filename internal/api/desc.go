// Package api exposes the daemon over gRPC on the session's Unix socket.
// The service is described by hand with protobuf well-known types, so
// payloads are google.protobuf.Struct values shaped like the Go types in
// this package.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tpost.v1.ControlService"

// MaxMessageSize bounds requests and responses; captures carry image bytes.
const MaxMessageSize = 64 << 20

// ControlServer is the server side of the control service.
type ControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncNow(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListQueue(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListTeams(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListChannels(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListMembers(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListSubFolders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetFavorite(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Logout(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Login(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
	WatchQueue(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor for a unary call.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](name string, call func(ControlServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(PReq))
			})
		},
	}
}

// serverStream builds the descriptor for a server-streaming call.
func serverStream(name string, call func(ControlServer, *emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(emptypb.Empty)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(ControlServer), in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
		},
	}
}

// ServiceDesc describes tpost.v1.ControlService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", ControlServer.GetStatus),
		unary("Submit", ControlServer.Submit),
		unary("SyncNow", ControlServer.SyncNow),
		unary("ListQueue", ControlServer.ListQueue),
		unary("ListTeams", ControlServer.ListTeams),
		unary("ListChannels", ControlServer.ListChannels),
		unary("ListMembers", ControlServer.ListMembers),
		unary("ListSubFolders", ControlServer.ListSubFolders),
		unary("SetFavorite", ControlServer.SetFavorite),
		unary("Logout", ControlServer.Logout),
	},
	Streams: []grpc.StreamDesc{
		serverStream("Login", ControlServer.Login),
		serverStream("WatchQueue", ControlServer.WatchQueue),
	},
	Metadata: "tpost/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
