package grpc

import (
	"context"

	"google.golang.org/grpc"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

// The notification service carries google.protobuf.Struct payloads shaped
// like the HTTP notification request, so callers need no generated stubs.
const (
	NotificationServiceName = "telehealth.realtime.v1.NotificationService"
	DispatchFullMethod      = "/" + NotificationServiceName + "/Dispatch"
)

// NotificationServiceServer is implemented by NotificationHandler.
type NotificationServiceServer interface {
	Dispatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var NotificationServiceDesc = grpc.ServiceDesc{
	ServiceName: NotificationServiceName,
	HandlerType: (*NotificationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: dispatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "telehealth/realtime/v1/notification.proto",
}

func RegisterNotificationServiceServer(s grpc.ServiceRegistrar, srv NotificationServiceServer) {
	s.RegisterService(&NotificationServiceDesc, srv)
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NotificationServiceServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DispatchFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NotificationServiceServer).Dispatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// NotificationServiceClient calls Dispatch on a remote realtime service.
type NotificationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewNotificationServiceClient(cc grpc.ClientConnInterface) *NotificationServiceClient {
	return &NotificationServiceClient{cc: cc}
}

func (c *NotificationServiceClient) Dispatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DispatchFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
