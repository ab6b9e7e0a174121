package transport

import (
	"context"

	"google.golang.org/grpc"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "markbook.v1.ReportService"

	// SendReportMethod is the full method name seen by interceptors.
	SendReportMethod = "/" + ServiceName + "/SendReport"
)

// ReportServiceServer is implemented by the server-side receiver.
type ReportServiceServer interface {
	SendReport(context.Context, *Report) (*SendResponse, error)
}

// ReportServiceClient sends reports to a server.
type ReportServiceClient interface {
	SendReport(ctx context.Context, in *Report, opts ...grpc.CallOption) (*SendResponse, error)
}

// ServiceDesc describes ReportService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendReport", Handler: sendReportHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterReportServiceServer registers srv on s.
func RegisterReportServiceServer(s grpc.ServiceRegistrar, srv ReportServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func sendReportHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Report)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).SendReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendReportMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReportServiceServer).SendReport(ctx, req.(*Report))
	}
	return interceptor(ctx, in, info, handler)
}

type reportServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewReportServiceClient returns a client that calls ReportService over cc
// using the JSON codec.
func NewReportServiceClient(cc grpc.ClientConnInterface) ReportServiceClient {
	return &reportServiceClient{cc: cc}
}

func (c *reportServiceClient) SendReport(ctx context.Context, in *Report, opts ...grpc.CallOption) (*SendResponse, error) {
	out := new(SendResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, SendReportMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
