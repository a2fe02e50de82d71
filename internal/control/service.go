package control

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName identifies the control RPC service on the wire.
const ServiceName = "tenex.control.Queue"

// Server is implemented by the daemon-side admin handler and invoked by the
// generated-style dispatch below.
type Server interface {
	QueueStatus(ctx context.Context, req *QueueStatusRequest) (*QueueStatusResponse, error)
	QueueForceRelease(ctx context.Context, req *QueueForceReleaseRequest) (*QueueForceReleaseResponse, error)
	QueueRemove(ctx context.Context, req *QueueRemoveRequest) (*QueueRemoveResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "QueueStatus", Handler: queueStatusHandler},
		{MethodName: "QueueForceRelease", Handler: queueForceReleaseHandler},
		{MethodName: "QueueRemove", Handler: queueRemoveHandler},
	},
}

// RegisterServer attaches impl to s under the control service name.
func RegisterServer(s grpc.ServiceRegistrar, impl Server) {
	s.RegisterService(&serviceDesc, impl)
}

func queueStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(QueueStatusRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).QueueStatus(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/QueueStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).QueueStatus(ctx, req.(*QueueStatusRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func queueForceReleaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(QueueForceReleaseRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).QueueForceRelease(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/QueueForceRelease"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).QueueForceRelease(ctx, req.(*QueueForceReleaseRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func queueRemoveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(QueueRemoveRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).QueueRemove(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/QueueRemove"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).QueueRemove(ctx, req.(*QueueRemoveRequest))
	}
	return interceptor(ctx, req, info, handler)
}
