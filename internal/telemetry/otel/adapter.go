package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"study-planner/backend/internal/telemetry"
	"study-planner/backend/internal/telemetry/domain"
)

const instrumentationName = "study-planner.security"

// recordEmitter is the subset of otellog.Logger the adapter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends security events as OTel log records via provider
// and counts them in the security_events_total counter on meter. If provider is nil, returns a no-op emitter.
// meter may be nil, in which case no counter is recorded.
func NewEventEmitter(provider *sdklog.LoggerProvider, meter metric.Meter) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return newEmitter(provider.Logger(instrumentationName), meter)
}

// NewEventEmitterWithLogger builds an emitter around an existing record sink. Used in tests.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return newEmitter(logger, nil)
}

func newEmitter(logger recordEmitter, meter metric.Meter) *otelEmitter {
	e := &otelEmitter{logger: logger}
	if meter != nil {
		counter, err := meter.Int64Counter("security_events_total",
			metric.WithDescription("Security events emitted, by type."))
		if err == nil {
			e.counter = counter
		}
	}
	return e
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.SecurityEvent) error { return nil }

type otelEmitter struct {
	logger  recordEmitter
	counter metric.Int64Counter
}

// Emit converts the event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetBody(otellog.StringValue(string(event.Type)))
	rec.SetSeverity(severityFor(event.Type))
	rec.AddAttributes(otellog.String("event_type", string(event.Type)))
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.ActorID != "" {
		rec.AddAttributes(otellog.String("actor_id", event.ActorID))
	}
	if event.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", event.SessionID))
	}
	if event.IPAddress != "" {
		rec.AddAttributes(otellog.String("ip_address", event.IPAddress))
	}
	if event.Detail != "" {
		rec.AddAttributes(otellog.String("detail", event.Detail))
	}
	e.logger.Emit(ctx, rec)
	if e.counter != nil {
		e.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(event.Type))))
	}
	return nil
}

func severityFor(t domain.EventType) otellog.Severity {
	switch t {
	case domain.EventDeviceMismatch, domain.EventImpersonationStarted:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
