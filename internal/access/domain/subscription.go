package domain

import "time"

// SubscriptionStatus is the billing state of a user's plan.
type SubscriptionStatus string

const (
	StatusTrial    SubscriptionStatus = "TRIAL"
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusPastDue  SubscriptionStatus = "PAST_DUE"
	StatusCanceled SubscriptionStatus = "CANCELED"
)

// Subscription is the billing row the access gate reads. Billing itself lives elsewhere.
type Subscription struct {
	UserID           string
	Status           SubscriptionStatus
	TrialEndsAt      *time.Time
	CurrentPeriodEnd *time.Time
	GraceDays        int
	UpdatedAt        time.Time
}

// Reasons reported in Status.
const (
	ReasonAdmin          = "admin"
	ReasonActive         = "active"
	ReasonTrial          = "trial"
	ReasonGracePeriod    = "grace_period"
	ReasonNoSubscription = "no_subscription"
	ReasonExpired        = "expired"
)

// Status is the access decision for one user.
type Status struct {
	IsActive        bool   `json:"isActive"`
	IsInTrial       bool   `json:"isInTrial"`
	IsInGracePeriod bool   `json:"isInGracePeriod"`
	Reason          string `json:"reason"`
}
