package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	identitydomain "study-planner/backend/internal/identity/domain"
)

const bearerPrefix = "bearer "

// Resolver turns an access token into the caller. It never fails; an unusable token is (nil, false).
type Resolver interface {
	CurrentUser(accessToken string) (*identitydomain.CurrentUser, bool)
}

// AuthUnary returns a unary server interceptor that validates the Bearer access token from
// gRPC metadata and stores the caller in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token (e.g. health checks).
func AuthUnary(resolver Resolver, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		public := publicMethods[info.FullMethod]
		token := extractBearer(ctx)
		if token == "" || resolver == nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		user, ok := resolver.CurrentUser(token)
		if !ok {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		return handler(WithCurrentUser(ctx, user), req)
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value, or "".
func BearerToken(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return BearerToken(vals[0])
}
