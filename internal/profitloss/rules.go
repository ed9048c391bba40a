package profitloss

import (
	"fmt"
	"strings"
)

// RTOPolicy decides the profit of rows returned to origin.
type RTOPolicy string

const (
	// RTOPolicyNegativeCost books the full cost of the order as a loss.
	RTOPolicyNegativeCost RTOPolicy = "negative_cost"
	// RTOPolicyZero books no profit or loss.
	RTOPolicyZero RTOPolicy = "zero"
)

// ParseRTOPolicy validates a configured policy name. Empty selects the default.
func ParseRTOPolicy(s string) (RTOPolicy, error) {
	switch RTOPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RTOPolicyNegativeCost:
		return RTOPolicyNegativeCost, nil
	case RTOPolicyZero:
		return RTOPolicyZero, nil
	}
	return "", fmt.Errorf("profitloss: unknown rto policy %q", s)
}

// NormalizeStatus maps free-text sheet status to a bucket. Unknown text is
// treated as delivered.
func NormalizeStatus(text string) Status {
	s := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(s, "rto"):
		return StatusRTO
	case strings.Contains(s, "rpu"), strings.Contains(s, "rtu"), strings.Contains(s, "return"):
		return StatusRPU
	}
	return StatusDelivered
}

// ComputeProfit applies the status sign rule per unit:
// delivered (payment-cost)*qty, rpu -(payment-cost)*qty, rto -cost*qty.
func ComputeProfit(status Status, payment, cost, qty float64) float64 {
	switch status {
	case StatusRTO:
		return -cost * qty
	case StatusRPU:
		return -(payment - cost) * qty
	}
	return (payment - cost) * qty
}

// ProfitRules applies the configured RTO policy on top of ComputeProfit.
type ProfitRules struct {
	RTO RTOPolicy
}

// LineProfit computes profit from line totals. A sheet-supplied profit is
// authoritative except for rto rows, which always follow the policy.
func (r ProfitRules) LineProfit(status Status, paymentTotal, costTotal float64, sheetProfit *float64) float64 {
	if status == StatusRTO {
		if r.RTO == RTOPolicyZero {
			return 0
		}
		return ComputeProfit(StatusRTO, paymentTotal, costTotal, 1)
	}
	if sheetProfit != nil {
		return *sheetProfit
	}
	return ComputeProfit(status, paymentTotal, costTotal, 1)
}
