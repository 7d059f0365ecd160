package plan

import "strings"

// ProviderRef identifies a paid plan at a payment provider.
// Implementations are StripePrice and PayPalPlan.
type ProviderRef interface {
	providerRef()
}

// StripePrice references a Stripe recurring price.
type StripePrice struct {
	PriceID string
}

// PayPalPlan references a PayPal billing plan.
type PayPalPlan struct {
	PlanID string
}

func (StripePrice) providerRef() {}
func (PayPalPlan) providerRef()  {}

// ProviderIDs are the deployment-specific provider identifiers of the paid tiers.
type ProviderIDs struct {
	StripePricePro        string
	StripePriceEnterprise string
	PayPalPlanPro         string
	PayPalPlanEnterprise  string
}

// Catalog resolves tiers to plans and provider identifiers to tiers.
type Catalog struct {
	stripe map[string]Tier
	paypal map[string]Tier
	ids    ProviderIDs
}

// NewCatalog builds a catalog. Empty ids are left unmapped.
func NewCatalog(ids ProviderIDs) *Catalog {
	c := &Catalog{
		stripe: make(map[string]Tier),
		paypal: make(map[string]Tier),
		ids:    ids,
	}
	put := func(m map[string]Tier, id string, t Tier) {
		if id != "" {
			m[id] = t
		}
	}
	put(c.stripe, ids.StripePricePro, TierPro)
	put(c.stripe, ids.StripePriceEnterprise, TierEnterprise)
	put(c.paypal, ids.PayPalPlanPro, TierPro)
	put(c.paypal, ids.PayPalPlanEnterprise, TierEnterprise)
	return c
}

// Plan returns the definition for tier, falling back to FREE.
func (c *Catalog) Plan(tier Tier) Plan {
	if p, ok := definitions[tier]; ok {
		return p
	}
	return definitions[TierFree]
}

// Plans returns every plan in tier order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(definitions))
	for _, t := range Tiers() {
		out = append(out, definitions[t])
	}
	return out
}

// AvailableUpgrades returns the tiers strictly above t, ascending.
func (c *Catalog) AvailableUpgrades(t Tier) []Tier {
	var out []Tier
	for _, candidate := range Tiers() {
		if CompareTiers(candidate, t) > 0 {
			out = append(out, candidate)
		}
	}
	return out
}

// TierFromProviderRef resolves a provider identifier to a tier.
func (c *Catalog) TierFromProviderRef(ref ProviderRef) (Tier, bool) {
	var (
		t  Tier
		ok bool
	)
	switch r := ref.(type) {
	case StripePrice:
		t, ok = c.stripe[r.PriceID]
	case PayPalPlan:
		t, ok = c.paypal[r.PlanID]
	}
	return t, ok
}

// TierFromMetadata reads the tier from checkout metadata. The "tier" key
// takes precedence over the legacy "plan" key.
func (c *Catalog) TierFromMetadata(md map[string]string) (Tier, bool) {
	for _, key := range []string{"tier", "plan"} {
		v := strings.ToUpper(strings.TrimSpace(md[key]))
		if v == "" {
			continue
		}
		if IsValidTier(v) {
			return Tier(v), true
		}
		return "", false
	}
	return "", false
}

// StripePriceID returns the Stripe price for a paid tier.
func (c *Catalog) StripePriceID(t Tier) (string, bool) {
	var id string
	switch t {
	case TierPro:
		id = c.ids.StripePricePro
	case TierEnterprise:
		id = c.ids.StripePriceEnterprise
	}
	return id, id != ""
}

// PayPalPlanID returns the PayPal plan for a paid tier.
func (c *Catalog) PayPalPlanID(t Tier) (string, bool) {
	var id string
	switch t {
	case TierPro:
		id = c.ids.PayPalPlanPro
	case TierEnterprise:
		id = c.ids.PayPalPlanEnterprise
	}
	return id, id != ""
}
