package plan

import "github.com/shopspring/decimal"

// CapabilityPricing maps a metered capability name to its unit cost.
type CapabilityPricing map[string]decimal.Decimal

// defaultCapabilityCost applies to capabilities without an explicit price.
var defaultCapabilityCost = decimal.NewFromFloat(0.01)

// UnitCost returns the per-call cost of a capability.
// Unknown capabilities fall back to the default cost.
// This is a PURE function.
func (cp CapabilityPricing) UnitCost(capability string) decimal.Decimal {
	if cost, ok := cp[capability]; ok {
		return cost
	}
	return defaultCapabilityCost
}

// CallCost returns the full unit cost of one call: the plan's base
// price per call plus the capability surcharge.
// This is a PURE function.
func CallCost(p Plan, pricing CapabilityPricing, capability string) decimal.Decimal {
	return p.PricePerCall.Add(pricing.UnitCost(capability))
}

// DefaultCapabilityPricing returns the built-in capability price table.
func DefaultCapabilityPricing() CapabilityPricing {
	return CapabilityPricing{
		"growth_advisory":    decimal.NewFromFloat(0.02),
		"interview_job":      decimal.NewFromFloat(0.015),
		"coder":              decimal.NewFromFloat(0.025),
		"content_detection":  decimal.NewFromFloat(0.03),
		"medical_advice":     decimal.NewFromFloat(0.04),
		"multi_gpt":          decimal.NewFromFloat(0.035),
		"housing":            decimal.NewFromFloat(0.02),
		"person_matching":    decimal.NewFromFloat(0.025),
		"teacher_coach":      decimal.NewFromFloat(0.02),
		"traveling":          decimal.NewFromFloat(0.02),
		"product_search":     decimal.NewFromFloat(0.015),
		"clothing":           decimal.NewFromFloat(0.02),
		"restaurant_food":    decimal.NewFromFloat(0.02),
		"content_generation": decimal.NewFromFloat(0.05),
		"anti_ai_protection": decimal.NewFromFloat(0.10),
	}
}
