package interceptors

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestLoggingUnary(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	interceptor := LoggingUnary(zap.New(core), map[string]bool{"/grpc.health.v1.Health/Check": true})

	ok := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	failed := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Internal, "boom")
	}

	if _, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, ok); err != nil {
		t.Fatalf("health: %v", err)
	}
	if logs.Len() != 0 {
		t.Fatalf("skipped method logged %d entries", logs.Len())
	}

	if _, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/A"}, ok); err != nil {
		t.Fatalf("A: %v", err)
	}
	if _, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/B"}, failed); status.Code(err) != codes.Internal {
		t.Fatalf("B code = %v", status.Code(err))
	}

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[0].ContextMap()["method"] != "/svc/A" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Level != zap.WarnLevel || entries[1].ContextMap()["code"] != "Internal" {
		t.Errorf("second entry = %+v", entries[1])
	}
}
