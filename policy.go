package creditledger

import "fmt"

// Tier identifies a subscription tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
	TierPro  Tier = "pro"
)

// Period is the allocation reset period of a tier.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// AllocationPolicy describes how a tier's limited credits are granted.
type AllocationPolicy struct {
	// Amount is the fresh allocation granted each period.
	Amount int64 `yaml:"amount" json:"amount"`

	Period Period `yaml:"period" json:"period"`

	// AllowCarryover rolls unused fresh allocation into the next period.
	// Only meaningful for monthly tiers.
	AllowCarryover bool `yaml:"allow_carryover" json:"allow_carryover"`

	// AllowPurchase permits permanently purchased credits on this tier.
	AllowPurchase bool `yaml:"allow_purchase" json:"allow_purchase"`

	// AllowedModelTiers is the set of model tiers the subscription may use.
	AllowedModelTiers []ModelTier `yaml:"allowed_model_tiers" json:"allowed_model_tiers"`
}

// AllowsModel reports whether the policy permits the given model tier.
func (p AllocationPolicy) AllowsModel(mt ModelTier) bool {
	for _, m := range p.AllowedModelTiers {
		if m == mt {
			return true
		}
	}
	return false
}

// PolicyTable is the static tier → allocation policy mapping. Every reset
// and permission check consults it; it is never bypassed.
type PolicyTable map[Tier]AllocationPolicy

// PolicyFor looks up the policy for a tier.
func (t PolicyTable) PolicyFor(tier Tier) (AllocationPolicy, error) {
	pol, ok := t[tier]
	if !ok {
		return AllocationPolicy{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return pol, nil
}

// CanUseModel reports whether a tier may use a model tier.
// Unknown tiers are denied.
func (t PolicyTable) CanUseModel(tier Tier, mt ModelTier) bool {
	pol, ok := t[tier]
	if !ok {
		return false
	}
	return pol.AllowsModel(mt)
}
