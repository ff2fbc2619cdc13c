package identity

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName はアイデンティティサービスのgRPCサービス名。
const ServiceName = "identity.v1.Identity"

// RPCのフルメソッド名
const (
	methodLogin         = "/" + ServiceName + "/Login"
	methodValidateToken = "/" + ServiceName + "/ValidateToken"
	methodGetUser       = "/" + ServiceName + "/GetUser"
	methodCreateUser    = "/" + ServiceName + "/CreateUser"
	methodGetAllUsers   = "/" + ServiceName + "/GetAllUsers"
)

// Server はアイデンティティサービスのサーバー側インターフェース。
// ゲートウェイ自身は実装しないが、契約の明示とテスト用サーバーのために定義する。
type Server interface {
	Login(ctx context.Context, req *LoginRequest) (*LoginReply, error)
	ValidateToken(ctx context.Context, req *ValidateTokenRequest) (*UserReply, error)
	GetUser(ctx context.Context, req *GetUserRequest) (*UserReply, error)
	CreateUser(ctx context.Context, req *CreateUserRequest) (*UserReply, error)
	GetAllUsers(ctx context.Context, req *GetAllUsersRequest) (*GetAllUsersReply, error)
}

// RegisterServer はgrpc.ServerにアイデンティティサービスのServerを登録する。
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

// unaryHandler はリクエストの型ごとに異なるデコードと呼び出しをまとめたgRPCハンドラーを生成する。
func unaryHandler[Req any](fullMethod string, call func(srv Server, ctx context.Context, req *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(Server), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(Server), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Login",
			Handler: unaryHandler(methodLogin, func(srv Server, ctx context.Context, req *LoginRequest) (any, error) {
				return srv.Login(ctx, req)
			}),
		},
		{
			MethodName: "ValidateToken",
			Handler: unaryHandler(methodValidateToken, func(srv Server, ctx context.Context, req *ValidateTokenRequest) (any, error) {
				return srv.ValidateToken(ctx, req)
			}),
		},
		{
			MethodName: "GetUser",
			Handler: unaryHandler(methodGetUser, func(srv Server, ctx context.Context, req *GetUserRequest) (any, error) {
				return srv.GetUser(ctx, req)
			}),
		},
		{
			MethodName: "CreateUser",
			Handler: unaryHandler(methodCreateUser, func(srv Server, ctx context.Context, req *CreateUserRequest) (any, error) {
				return srv.CreateUser(ctx, req)
			}),
		},
		{
			MethodName: "GetAllUsers",
			Handler: unaryHandler(methodGetAllUsers, func(srv Server, ctx context.Context, req *GetAllUsersRequest) (any, error) {
				return srv.GetAllUsers(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "identity/v1/identity.proto",
}
