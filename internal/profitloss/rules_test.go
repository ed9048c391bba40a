package profitloss

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"Delivered":         StatusDelivered,
		"":                  StatusDelivered,
		"shipped":           StatusDelivered,
		"RTO":               StatusRTO,
		"rto_complete":      StatusRTO,
		"RPU":               StatusRPU,
		"RTU":               StatusRPU,
		"Customer Return":   StatusRPU,
		"  returned  ":      StatusRPU,
		"RTO - return lost": StatusRTO,
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeStatus(in), in)
	}
}

func TestComputeProfitSigns(t *testing.T) {
	require.Equal(t, 400.0, ComputeProfit(StatusDelivered, 500, 300, 2))
	require.Equal(t, -400.0, ComputeProfit(StatusRPU, 500, 300, 2))
	require.Equal(t, -600.0, ComputeProfit(StatusRTO, 500, 300, 2))
	require.Equal(t, -100.0, ComputeProfit(StatusDelivered, 200, 300, 1))
}

func TestLineProfitSheetOverride(t *testing.T) {
	rules := ProfitRules{RTO: RTOPolicyNegativeCost}
	sheet := 42.0

	require.Equal(t, 42.0, rules.LineProfit(StatusDelivered, 500, 300, &sheet))
	require.Equal(t, 42.0, rules.LineProfit(StatusRPU, 500, 300, &sheet))
	require.Equal(t, -300.0, rules.LineProfit(StatusRTO, 500, 300, &sheet))
	require.Equal(t, 200.0, rules.LineProfit(StatusDelivered, 500, 300, nil))
}

func TestLineProfitZeroPolicy(t *testing.T) {
	rules := ProfitRules{RTO: RTOPolicyZero}
	require.Zero(t, rules.LineProfit(StatusRTO, 500, 300, nil))
	require.Equal(t, -200.0, rules.LineProfit(StatusRPU, 500, 300, nil))
}

func TestParseRTOPolicy(t *testing.T) {
	p, err := ParseRTOPolicy("")
	require.NoError(t, err)
	require.Equal(t, RTOPolicyNegativeCost, p)

	p, err = ParseRTOPolicy(" ZERO ")
	require.NoError(t, err)
	require.Equal(t, RTOPolicyZero, p)

	_, err = ParseRTOPolicy("half")
	require.Error(t, err)
}
