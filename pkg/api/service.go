package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "alpinekube.v1.ClusterAPI"

// ClusterAPIServer is the server side of the cluster API
type ClusterAPIServer interface {
	RegisterNode(context.Context, *RegisterNodeRequest) (*RegisterNodeResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	SubmitPod(context.Context, *SubmitPodRequest) (*SubmitPodResponse, error)
	GetPod(context.Context, *GetPodRequest) (*GetPodResponse, error)
	ListNodes(context.Context, *ListNodesRequest) (*ListNodesResponse, error)
	ListPods(context.Context, *ListPodsRequest) (*ListPodsResponse, error)
	ListWaitlist(context.Context, *ListWaitlistRequest) (*ListWaitlistResponse, error)
	StreamEvents(*StreamEventsRequest, EventStream) error
}

// EventStream is the server side of a StreamEvents call
type EventStream interface {
	Send(*Event) error
	Context() context.Context
}

// FullMethod returns the gRPC method path for a method of the service
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc describes the cluster API for grpc.Server.RegisterService and
// for clients opening streams
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClusterAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterNode", Handler: unaryHandler("RegisterNode", ClusterAPIServer.RegisterNode)},
		{MethodName: "Heartbeat", Handler: unaryHandler("Heartbeat", ClusterAPIServer.Heartbeat)},
		{MethodName: "SubmitPod", Handler: unaryHandler("SubmitPod", ClusterAPIServer.SubmitPod)},
		{MethodName: "GetPod", Handler: unaryHandler("GetPod", ClusterAPIServer.GetPod)},
		{MethodName: "ListNodes", Handler: unaryHandler("ListNodes", ClusterAPIServer.ListNodes)},
		{MethodName: "ListPods", Handler: unaryHandler("ListPods", ClusterAPIServer.ListPods)},
		{MethodName: "ListWaitlist", Handler: unaryHandler("ListWaitlist", ClusterAPIServer.ListWaitlist)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "alpinekube/v1/cluster",
}

// RegisterClusterAPIServer registers srv on s
func RegisterClusterAPIServer(s grpc.ServiceRegistrar, srv ClusterAPIServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](method string, call func(ClusterAPIServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClusterAPIServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ClusterAPIServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(e *Event) error {
	return s.ServerStream.SendMsg(e)
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(StreamEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ClusterAPIServer).StreamEvents(in, &eventStream{stream})
}
