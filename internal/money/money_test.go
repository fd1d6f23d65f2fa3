package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/velo-automation/velo/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLineTotalFullPrecision(t *testing.T) {
	got, err := LineTotal(d("3"), d("0.333"), d("0.19"))
	require.NoError(t, err)
	require.True(t, got.Equal(d("1.18881")), "got %s", got)
}

func TestInvoiceTotalRoundsOnce(t *testing.T) {
	// Each line is 0.11305 gross; rounding per line would give 0.11 × 3 = 0.33.
	lines := []Line{
		{Quantity: d("1"), UnitPrice: d("0.095"), TaxRate: d("0.19")},
		{Quantity: d("1"), UnitPrice: d("0.095"), TaxRate: d("0.19")},
		{Quantity: d("1"), UnitPrice: d("0.095"), TaxRate: d("0.19")},
	}
	total, err := InvoiceTotal(lines)
	require.NoError(t, err)
	require.Equal(t, "0.34", total.StringFixed(2))
}

func TestInvoiceTotalMatchesOriginalGenerator(t *testing.T) {
	lines := []Line{
		{Quantity: d("10"), UnitPrice: d("85"), TaxRate: d("0.19")},
		{Quantity: d("1"), UnitPrice: d("200"), TaxRate: d("0.19")},
	}
	total, err := InvoiceTotal(lines)
	require.NoError(t, err)
	require.Equal(t, "1249.50", total.StringFixed(2))
}

func TestRoundCurrencyHalfUp(t *testing.T) {
	require.Equal(t, "0.13", RoundCurrency(d("0.125")).StringFixed(2))
	require.Equal(t, "2.68", RoundCurrency(d("2.675")).StringFixed(2))
	require.Equal(t, "2.67", RoundCurrency(d("2.6749")).StringFixed(2))
}

func TestRejectsNegativeAmounts(t *testing.T) {
	cases := []Line{
		{Quantity: d("-1"), UnitPrice: d("10"), TaxRate: d("0.19")},
		{Quantity: d("1"), UnitPrice: d("-10"), TaxRate: d("0.19")},
		{Quantity: d("1"), UnitPrice: d("10"), TaxRate: d("-0.19")},
	}
	for _, c := range cases {
		_, err := InvoiceTotal([]Line{c})
		require.ErrorIs(t, err, shared.ErrInvalidAmount)
	}
}

func TestParse(t *testing.T) {
	v, err := Parse("150.00")
	require.NoError(t, err)
	require.True(t, v.Equal(d("150")))

	_, err = Parse("NaN")
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestFormat(t *testing.T) {
	out := Format(d("155"))
	require.Contains(t, out, "155")
	require.Contains(t, out, "€")
	require.Equal(t, "EUR", CurrencyCode())
}

func TestSum(t *testing.T) {
	require.True(t, Sum(d("1.10"), d("2.20"), d("3.30")).Equal(d("6.60")))
	require.True(t, Sum().IsZero())
}
