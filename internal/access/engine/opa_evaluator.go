// Package engine decides subscription access with an embedded Rego policy.
package engine

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"study-planner/backend/internal/access/domain"
)

const decisionQuery = "data.studyplanner.access.decision"

//go:embed policy.rego
var accessPolicy string

// SubscriptionGetter loads a user's subscription; (nil, nil) means none.
type SubscriptionGetter interface {
	GetByUser(ctx context.Context, userID string) (*domain.Subscription, error)
}

// OPAEvaluator evaluates the access policy against a user's subscription row.
// The policy is compiled once at construction.
type OPAEvaluator struct {
	subs  SubscriptionGetter
	query rego.PreparedEvalQuery
	log   *zap.Logger
	now   func() time.Time
}

// NewOPAEvaluator compiles the access policy. It fails only if the embedded policy does not compile.
func NewOPAEvaluator(ctx context.Context, subs SubscriptionGetter, log *zap.Logger) (*OPAEvaluator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	q, err := rego.New(
		rego.Query(decisionQuery),
		rego.Module("access.rego", accessPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile access policy: %w", err)
	}
	return &OPAEvaluator{subs: subs, query: q, log: log.Named("access"), now: time.Now}, nil
}

// SetClock overrides the evaluation time. Tests only.
func (e *OPAEvaluator) SetClock(now func() time.Time) {
	e.now = now
}

// HealthCheck evaluates the prepared policy for a synthetic admin. Does not touch the database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	st, err := e.decide(ctx, buildInput("ADMIN", nil, e.now()))
	if err != nil {
		return err
	}
	if !st.IsActive {
		return fmt.Errorf("access policy: unexpected health decision %q", st.Reason)
	}
	return nil
}

// Evaluate returns the access status of userID. Admins are always active. On a lookup or
// evaluation failure it returns an inactive status together with the error.
func (e *OPAEvaluator) Evaluate(ctx context.Context, userID, role string) (domain.Status, error) {
	var sub *domain.Subscription
	if role != "ADMIN" {
		s, err := e.subs.GetByUser(ctx, userID)
		if err != nil {
			return domain.Status{Reason: domain.ReasonNoSubscription}, fmt.Errorf("load subscription: %w", err)
		}
		sub = s
	}
	st, err := e.decide(ctx, buildInput(role, sub, e.now()))
	if err != nil {
		e.log.Error("access policy evaluation failed", zap.String("user_id", userID), zap.Error(err))
		return domain.Status{Reason: domain.ReasonNoSubscription}, err
	}
	return st, nil
}

func buildInput(role string, sub *domain.Subscription, now time.Time) map[string]interface{} {
	input := map[string]interface{}{
		"now":  now.Unix(),
		"user": map[string]interface{}{"role": role},
	}
	if sub != nil {
		s := map[string]interface{}{
			"status":     string(sub.Status),
			"grace_days": sub.GraceDays,
		}
		if sub.TrialEndsAt != nil {
			s["trial_ends_at"] = sub.TrialEndsAt.Unix()
		}
		if sub.CurrentPeriodEnd != nil {
			s["current_period_end"] = sub.CurrentPeriodEnd.Unix()
		}
		input["subscription"] = s
	}
	return input
}

func (e *OPAEvaluator) decide(ctx context.Context, input map[string]interface{}) (domain.Status, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.Status{}, fmt.Errorf("eval access policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return domain.Status{}, fmt.Errorf("access policy returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return domain.Status{}, fmt.Errorf("access policy returned %T", rs[0].Expressions[0].Value)
	}
	st := domain.Status{}
	st.IsActive, _ = obj["is_active"].(bool)
	st.IsInTrial, _ = obj["is_in_trial"].(bool)
	st.IsInGracePeriod, _ = obj["is_in_grace_period"].(bool)
	st.Reason, _ = obj["reason"].(string)
	return st, nil
}
