package domain

// Tier is a subscriber's subscription level
type Tier string

// Subscription tiers
const (
	TierFree       Tier = "free"
	TierTrial      Tier = "trial"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Action is a quota-gated kind of work
type Action string

// Quota-gated actions
const (
	ActionApplications Action = "applications"
	ActionMatches      Action = "matches"
	ActionSearches     Action = "searches"
)

// Unlimited is the limit-table sentinel for an uncapped action
const Unlimited = -1

// ActionFor returns the quota action gating jobs of type t. Types without a
// gate return false.
func ActionFor(t JobType) (Action, bool) {
	switch t {
	case JobTypeApplication:
		return ActionApplications, true
	case JobTypeMatching:
		return ActionMatches, true
	case JobTypeScraping:
		return ActionSearches, true
	default:
		return "", false
	}
}

// UsageDecision is the outcome of a limiter check
type UsageDecision struct {
	Allowed      bool `json:"allowed"`
	CurrentUsage int  `json:"current_usage"`
	Limit        int  `json:"limit"`
	Remaining    int  `json:"remaining"`
}
