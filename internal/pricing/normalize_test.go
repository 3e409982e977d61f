package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"$1,234.50", "1234.5"},
		{"  $19.99 ", "19.99"},
		{"1,000", "1000"},
		{"€ 7.00", "7"},
		{"0.5", "0.5"},
		{"£2,500,000.01", "2500000.01"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got := Normalize(tc.in)
			require.True(t, got.Valid)
			require.True(t, got.Decimal.Equal(decimal.RequireFromString(tc.want)), "got %s", got.Decimal)
		})
	}
}

func TestNormalizeMatchesManualStripping(t *testing.T) {
	t.Parallel()

	got := Normalize("$1,234.50")
	require.True(t, got.Decimal.Equal(decimal.RequireFromString("1234.50")))
	require.Equal(t, "1234.50", Format(got))
}

func TestNormalizeUnparseable(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "$", "Currently unavailable", "12.3.4", "$--"} {
		require.False(t, Normalize(in).Valid, "input %q", in)
	}
}

func TestFromFloat(t *testing.T) {
	t.Parallel()

	got := FromFloat(19.99)
	require.True(t, got.Valid)
	require.Equal(t, "19.99", got.Decimal.String())
	require.Equal(t, "n/a", Format(Unparseable))
}
