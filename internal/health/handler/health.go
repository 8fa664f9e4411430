package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 2 * time.Second

// Pinger is used for readiness (e.g. *sqlx.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the access policy evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker reports readiness over HTTP (/healthz) and through the standard gRPC health service.
type Checker struct {
	pinger Pinger
	policy PolicyChecker
	log    *zap.Logger
}

// NewChecker returns a Checker. A nil pinger or policy checker is skipped.
func NewChecker(pinger Pinger, policy PolicyChecker, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{pinger: pinger, policy: policy, log: log}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Policy   string `json:"policy,omitempty"`
}

func (c *Checker) check(ctx context.Context) healthResponse {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	resp := healthResponse{Status: "ok"}
	if c.pinger != nil {
		resp.Database = "ok"
		if err := c.pinger.PingContext(ctx); err != nil {
			c.log.Warn("health: database ping failed", zap.Error(err))
			resp.Database, resp.Status = "unavailable", "unavailable"
		}
	}
	if c.policy != nil {
		resp.Policy = "ok"
		if err := c.policy.HealthCheck(ctx); err != nil {
			c.log.Warn("health: policy check failed", zap.Error(err))
			resp.Policy, resp.Status = "unavailable", "unavailable"
		}
	}
	return resp
}

// Ready reports whether every dependency is reachable.
func (c *Checker) Ready(ctx context.Context) bool {
	return c.check(ctx).Status == "ok"
}

// ServeHTTP answers 200 when ready and 503 otherwise. Failure details stay in the log.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := c.check(r.Context())
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Sync sets the overall serving status of hs from Ready every interval until ctx is done.
func (c *Checker) Sync(ctx context.Context, hs *health.Server, interval time.Duration) {
	if hs == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c.update(ctx, hs)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.update(ctx, hs)
		}
	}
}

func (c *Checker) update(ctx context.Context, hs *health.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if !c.Ready(ctx) {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
}
