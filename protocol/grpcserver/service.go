package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/protoerror"
	"github.com/hydrogen-io/hydrogen/wire"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// gatewayService is the handler interface behind the hand-registered
// service descriptor.  *Server is the only implementation.
type gatewayService interface {
	Authenticate(ctx context.Context, req *AuthRequest) (*AuthReply, error)
	Exchange(ctx context.Context, message *wire.Message) (*wire.Message, error)
	ListDevices(ctx context.Context, req *ListDevicesRequest) (*ListDevicesReply, error)
	ExecuteCommand(ctx context.Context, req *CommandRequest) (*CommandReply, error)
	Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

const serviceName = "hydrogen.v1.Gateway"

func unaryHandler(method string, invoke func(ctx context.Context, dec func(interface{}) error, srv interface{}) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		if interceptor == nil {
			return invoke(ctx, dec, srv)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, nil, info, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return invoke(ctx, dec, srv)
		})
	}
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*gatewayService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Authenticate",
			Handler: unaryHandler("Authenticate", func(ctx context.Context, dec func(interface{}) error, srv interface{}) (interface{}, error) {
				in := new(AuthRequest)
				if err := dec(in); err != nil {
					return nil, err
				}

				return srv.(gatewayService).Authenticate(ctx, in)
			}),
		},
		{
			MethodName: "Exchange",
			Handler: unaryHandler("Exchange", func(ctx context.Context, dec func(interface{}) error, srv interface{}) (interface{}, error) {
				in := new(wire.Message)
				if err := dec(in); err != nil {
					return nil, err
				}

				return srv.(gatewayService).Exchange(ctx, in)
			}),
		},
		{
			MethodName: "ListDevices",
			Handler: unaryHandler("ListDevices", func(ctx context.Context, dec func(interface{}) error, srv interface{}) (interface{}, error) {
				in := new(ListDevicesRequest)
				if err := dec(in); err != nil {
					return nil, err
				}

				return srv.(gatewayService).ListDevices(ctx, in)
			}),
		},
		{
			MethodName: "ExecuteCommand",
			Handler: unaryHandler("ExecuteCommand", func(ctx context.Context, dec func(interface{}) error, srv interface{}) (interface{}, error) {
				in := new(CommandRequest)
				if err := dec(in); err != nil {
					return nil, err
				}

				return srv.(gatewayService).ExecuteCommand(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			ServerStreams: true,
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				in := new(SubscribeRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}

				return srv.(gatewayService).Subscribe(in, stream)
			},
		},
	},
	Metadata: "gateway.proto",
}

// statusError renders a taxonomy code as a gRPC status error.
func statusError(code protoerror.Code, message string) error {
	return status.Error(protoerror.GRPCStatus(code), message)
}

// bearerFromMetadata extracts a bearer token from incoming metadata.
func bearerFromMetadata(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}

	values := md.Get("authorization")
	if len(values) == 0 {
		return "", false
	}

	const prefix = "Bearer "
	if len(values[0]) <= len(prefix) {
		return "", false
	}

	return values[0][len(prefix):], true
}

// authorize validates the caller's token, returning the user.  Authenticate
// itself is exempt.
func (s *Server) authorize(ctx context.Context, fullMethod string) (*auth.UserInfo, error) {
	if fullMethod == "/"+serviceName+"/Authenticate" {
		return nil, nil
	}

	token, ok := bearerFromMetadata(ctx)
	if !ok {
		return nil, statusError(protoerror.AuthenticationFailed, "Missing or malformed authorization metadata")
	}

	user, ok := s.auth.ValidateToken(token)
	if !ok {
		return nil, statusError(protoerror.AuthenticationFailed, "Invalid or expired token")
	}

	return user, nil
}

func (s *Server) unaryAuthInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if _, err := s.authorize(ctx, info.FullMethod); err != nil {
		return nil, err
	}

	return handler(ctx, req)
}

func (s *Server) streamAuthInterceptor(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if _, err := s.authorize(stream.Context(), info.FullMethod); err != nil {
		return err
	}

	return handler(srv, stream)
}
