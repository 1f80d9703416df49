package alarm

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service is declared over well-known types, so no generated code is needed.
const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "mqttalarm.v1.AlarmService"
	// GetStatusMethod is the full method name of GetStatus.
	GetStatusMethod = "/" + ServiceName + "/GetStatus"
	// SendCommandMethod is the full method name of SendCommand.
	SendCommandMethod = "/" + ServiceName + "/SendCommand"
)

// AlarmServiceServer is the server API of the alarm controller.
type AlarmServiceServer interface {
	GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes AlarmService for grpc.Server registration.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlarmServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler:    getStatusHandler,
		},
		{
			MethodName: "SendCommand",
			Handler:    sendCommandHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mqttalarm/v1/alarm.proto",
}

// RegisterAlarmServiceServer registers the implementation on the registrar.
func RegisterAlarmServiceServer(registrar grpc.ServiceRegistrar, srv AlarmServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func getStatusHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	impl, _ := srv.(AlarmServiceServer) //nolint:errcheck // HandlerType guarantees the interface.
	if interceptor == nil {
		return impl.GetStatus(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetStatusMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		request, _ := req.(*emptypb.Empty) //nolint:errcheck // Decoded above.

		return impl.GetStatus(ctx, request)
	}

	return interceptor(ctx, in, info, handler)
}

func sendCommandHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	impl, _ := srv.(AlarmServiceServer) //nolint:errcheck // HandlerType guarantees the interface.
	if interceptor == nil {
		return impl.SendCommand(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SendCommandMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		request, _ := req.(*structpb.Struct) //nolint:errcheck // Decoded above.

		return impl.SendCommand(ctx, request)
	}

	return interceptor(ctx, in, info, handler)
}

// AlarmServiceClient is the client API of the alarm controller.
type AlarmServiceClient struct {
	// conn carries the calls.
	conn grpc.ClientConnInterface
}

// NewAlarmServiceClient creates a client over the connection.
func NewAlarmServiceClient(conn grpc.ClientConnInterface) *AlarmServiceClient {
	return &AlarmServiceClient{
		conn: conn,
	}
}

// GetStatus returns the current status document.
func (c *AlarmServiceClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetStatusMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// SendCommand applies a command document and returns the resulting status.
func (c *AlarmServiceClient) SendCommand(
	ctx context.Context,
	req *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, SendCommandMethod, req, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
