package server

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"study-planner/backend/internal/server/interceptors"
)

// CurrentUserMethod is the full method name of the session introspection RPC.
const CurrentUserMethod = "/studyplanner.auth.v1.SessionIntrospection/CurrentUser"

const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthWatchMethod = "/grpc.health.v1.Health/Watch"
)

// GRPCDeps holds what the internal gRPC endpoint needs.
type GRPCDeps struct {
	// Resolver validates Bearer access tokens for every non-health RPC.
	Resolver interceptors.Resolver
	// Health is the standard health service; its status is kept current by health.Checker.Sync.
	Health *health.Server
	Log    *zap.Logger
}

// NewGRPCServer returns a gRPC server with the health service and session introspection
// registered. RPCs are traced by otelgrpc, logged, and authenticated in that order.
func NewGRPCServer(deps GRPCDeps, opts ...grpc.ServerOption) *grpc.Server {
	public := map[string]bool{
		healthCheckMethod: true,
		healthWatchMethod: true,
	}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(deps.Log, public),
			interceptors.AuthUnary(deps.Resolver, public),
		),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the health and session introspection services with s.
func RegisterServices(s grpc.ServiceRegistrar, deps GRPCDeps) {
	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
	s.RegisterService(&sessionIntrospectionDesc, introspectionServer{})
}

// SessionIntrospectionServer resolves the caller of an authenticated RPC. Internal services call
// it with the user's access token instead of holding the signing secret themselves.
type SessionIntrospectionServer interface {
	CurrentUser(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

type introspectionServer struct{}

// CurrentUser returns the claims AuthUnary stored in ctx.
func (introspectionServer) CurrentUser(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	u, ok := interceptors.GetCurrentUser(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	fields := map[string]interface{}{
		"userId":              u.UserID,
		"email":               u.Email,
		"role":                u.Role,
		"sessionId":           u.SessionID,
		"deviceId":            u.DeviceID,
		"onboardingCompleted": u.OnboardingCompleted,
	}
	if u.ImpersonatorID != "" {
		fields["impersonatorId"] = u.ImpersonatorID
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode caller")
	}
	return out, nil
}

func currentUserHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionIntrospectionServer).CurrentUser(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CurrentUserMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionIntrospectionServer).CurrentUser(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var sessionIntrospectionDesc = grpc.ServiceDesc{
	ServiceName: "studyplanner.auth.v1.SessionIntrospection",
	HandlerType: (*SessionIntrospectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CurrentUser", Handler: currentUserHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "studyplanner/auth/v1/introspection.proto",
}
