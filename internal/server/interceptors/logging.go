package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs each RPC after it completes.
// skipMethods is the set of full method names not to log (e.g. health checks).
func LoggingUnary(log *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", ClientIP(ctx)),
		}
		if userID, ok := GetUserID(ctx); ok {
			fields = append(fields, zap.String("user_id", userID))
		}
		switch code {
		case codes.OK, codes.Unauthenticated, codes.NotFound, codes.PermissionDenied:
			log.Info("grpc request", fields...)
		default:
			log.Warn("grpc request", fields...)
		}
		return resp, err
	}
}
