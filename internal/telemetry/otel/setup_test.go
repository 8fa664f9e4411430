package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Options{Endpoint: endpoint, ServiceName: "study-planner-test"})
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatalf("NewProviders(%q): providers should not be nil", endpoint)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be no-op for empty endpoint, got error: %v", err)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("second shutdown: %v", err)
		}
	}
}

func TestNewProviders_InvalidURL(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name     string
		endpoint string
	}{
		{"invalid characters", "://invalid"},
		{"malformed URL", "http://[invalid"},
		{"missing host", "http://"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProviders(ctx, Options{Endpoint: tc.endpoint, ServiceName: "study-planner-test"}); err == nil {
				t.Errorf("NewProviders(%q) should return error", tc.endpoint)
			}
		})
	}
}

func TestSetGlobal_WithProviders(t *testing.T) {
	providers, err := NewProviders(context.Background(), Options{ServiceName: "study-planner-test"})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTP := otel.GetTracerProvider()
	oldMP := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()

	providers.SetGlobal()

	if otel.GetTracerProvider() == oldTP {
		t.Error("TracerProvider should be updated")
	}
	if otel.GetMeterProvider() == oldMP {
		t.Error("MeterProvider should be updated")
	}
}

func TestSetGlobal_PartialProviders(t *testing.T) {
	ctx := context.Background()
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(ctx) }()

	providers := &Providers{TracerProvider: tp, Shutdown: func(context.Context) error { return nil }}
	oldTP := otel.GetTracerProvider()
	oldMP := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()

	providers.SetGlobal()

	if otel.GetMeterProvider() != oldMP {
		t.Error("MeterProvider should not be updated when nil")
	}
}

func TestCollectorTarget(t *testing.T) {
	cases := []struct {
		endpoint      string
		wantTarget    string
		wantPlaintext bool
	}{
		{"localhost:4317", "localhost:4317", true},
		{"http://collector:4317", "collector:4317", true},
		{"https://collector:4317/v1/traces", "collector:4317", false},
		{"  https://collector:4317  ", "collector:4317", false},
	}
	for _, tc := range cases {
		target, plaintext, err := collectorTarget(tc.endpoint)
		if err != nil {
			t.Fatalf("collectorTarget(%q): %v", tc.endpoint, err)
		}
		if target != tc.wantTarget || plaintext != tc.wantPlaintext {
			t.Errorf("collectorTarget(%q) = %q, %v; want %q, %v", tc.endpoint, target, plaintext, tc.wantTarget, tc.wantPlaintext)
		}
	}
}

func TestShutdownStack_ReverseOrderOnce(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	var stack shutdownStack
	for i := 1; i <= 3; i++ {
		stack.push(func(context.Context) error {
			order = append(order, i)
			if i == 2 {
				return boom
			}
			return nil
		})
	}
	if err := stack.unwind(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("unwind error = %v, want boom", err)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("order = %v, want [3 2 1]", order)
	}
	if err := stack.unwind(context.Background()); err != nil {
		t.Errorf("second unwind: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("second unwind ran shutdowns again: %v", order)
	}
}

func TestServiceResource(t *testing.T) {
	res, err := serviceResource("study-planner-test", "staging")
	if err != nil {
		t.Fatalf("serviceResource: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != "study-planner-test" {
		t.Errorf("service.name = %q", got["service.name"])
	}
	if got["deployment.environment.name"] != "staging" {
		t.Errorf("deployment.environment.name = %q", got["deployment.environment.name"])
	}
}
