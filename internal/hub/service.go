package hub

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "mcphub.v1.Supervisor"

// Full method names of the supervisor service.
const (
	MethodGetServers    = "/" + ServiceName + "/GetServers"
	MethodStartServer   = "/" + ServiceName + "/StartServer"
	MethodStopServer    = "/" + ServiceName + "/StopServer"
	MethodRestartServer = "/" + ServiceName + "/RestartServer"
	MethodStopAll       = "/" + ServiceName + "/StopAll"
	MethodInitialize    = "/" + ServiceName + "/Initialize"
	MethodListTools     = "/" + ServiceName + "/ListTools"
	MethodCallTool      = "/" + ServiceName + "/CallTool"
)

// SupervisorServer is the server API for the supervisor service. Requests and
// results are JSON objects carried as structpb.Struct.
type SupervisorServer interface {
	GetServers(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartServer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopServer(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RestartServer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Initialize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTools(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CallTool(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterSupervisorServer(s grpc.ServiceRegistrar, srv SupervisorServer) {
	s.RegisterService(&supervisorServiceDesc, srv)
}

// unary builds the method descriptor for one RPC, in the shape protoc-gen-go-grpc
// would generate it.
func unary[Req proto.Message, Resp proto.Message](
	fullMethod string,
	newReq func() Req,
	call func(SupervisorServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: fullMethod[len(ServiceName)+2:],
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SupervisorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SupervisorServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }
func newStruct() *structpb.Struct { return &structpb.Struct{} }

var supervisorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SupervisorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetServers, newEmpty, SupervisorServer.GetServers),
		unary(MethodStartServer, newStruct, SupervisorServer.StartServer),
		unary(MethodStopServer, newStruct, SupervisorServer.StopServer),
		unary(MethodRestartServer, newStruct, SupervisorServer.RestartServer),
		unary(MethodStopAll, newEmpty, SupervisorServer.StopAll),
		unary(MethodInitialize, newStruct, SupervisorServer.Initialize),
		unary(MethodListTools, newStruct, SupervisorServer.ListTools),
		unary(MethodCallTool, newStruct, SupervisorServer.CallTool),
	},
	// No file descriptor backs this service, so server reflection only
	// describes the health service.
	Streams: []grpc.StreamDesc{},
}
