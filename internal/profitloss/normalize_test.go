package profitloss

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
	}{
		{"currency and separators", "₹1,234.50", 1234.5},
		{"dollar", "$ 99", 99},
		{"negative", "-42.5", -42.5},
		{"parenthesised", "(50.00)", -50},
		{"empty", "", 0},
		{"garbage", "abc", 0},
		{"nil", nil, 0},
		{"bool", true, 0},
		{"int", 7, 7},
		{"float", 12.25, 12.25},
		{"json number", json.Number("3.5"), 3.5},
		{"nan", math.NaN(), 0},
		{"infinity", math.Inf(1), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ParseNumber(tc.in))
		})
	}
}

func TestParseNumberIdempotent(t *testing.T) {
	for _, in := range []any{"₹1,234.50", "(12)", "abc", 99.99, "-0.5"} {
		once := ParseNumber(in)
		require.Equal(t, once, ParseNumber(once))
	}
}

func TestParseDateSerial(t *testing.T) {
	got, ok := ParseDate(45000.0)
	require.True(t, ok)
	require.Equal(t, time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC), got)

	got, ok = ParseDate("45000")
	require.True(t, ok)
	require.Equal(t, 2023, got.Year())

	_, ok = ParseDate(0)
	require.False(t, ok)
	_, ok = ParseDate(-5)
	require.False(t, ok)
}

func TestParseDateText(t *testing.T) {
	want := time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2023-03-15", "15/03/2023", "15-03-2023", "03/15/2023", "15.03.23", "15 Mar 2023"} {
		got, ok := ParseDate(in)
		require.True(t, ok, in)
		require.True(t, want.Equal(got), "%s parsed as %s", in, got)
	}

	got, ok := ParseDate("05/04/2024")
	require.True(t, ok)
	require.Equal(t, time.April, got.Month(), "day-first is the default")
	require.Equal(t, 5, got.Day())

	got, ok = ParseDate("15/03/2023 14:05")
	require.True(t, ok)
	require.Equal(t, 14, got.Hour())
}

func TestParseDateRejects(t *testing.T) {
	for _, in := range []any{"", "not a date", "31/02/2023", "COMBO-1", nil, false, time.Time{}} {
		_, ok := ParseDate(in)
		require.False(t, ok, "%v", in)
	}
}

func TestRound2(t *testing.T) {
	require.Equal(t, 1.01, Round2(1.005))
	require.Equal(t, -2.5, Round2(-2.499999))
	require.Equal(t, 0.0, Round2(math.NaN()))
}
