// Package money implements the fixed-point arithmetic used for invoice totals,
// VAT and dunning fees.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/shared"
)

// Places is the number of fractional digits kept for stored amounts.
const Places int32 = 2

// DefaultVATRate is the flat VAT applied when a line item does not carry a rate.
var DefaultVATRate = decimal.RequireFromString("0.19")

// Line is the minimal view of a line item needed for totals.
type Line struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
}

// Validate rejects negative quantities, prices and tax rates.
func Validate(quantity, unitPrice, taxRate decimal.Decimal) error {
	switch {
	case quantity.IsNegative():
		return fmt.Errorf("quantity %s: %w", quantity, shared.ErrInvalidAmount)
	case unitPrice.IsNegative():
		return fmt.Errorf("unit price %s: %w", unitPrice, shared.ErrInvalidAmount)
	case taxRate.IsNegative():
		return fmt.Errorf("tax rate %s: %w", taxRate, shared.ErrInvalidAmount)
	}
	return nil
}

// LineTotal returns quantity × unitPrice × (1 + taxRate) at full precision.
func LineTotal(quantity, unitPrice, taxRate decimal.Decimal) (decimal.Decimal, error) {
	if err := Validate(quantity, unitPrice, taxRate); err != nil {
		return decimal.Zero, err
	}
	return quantity.Mul(unitPrice).Mul(decimal.NewFromInt(1).Add(taxRate)), nil
}

// InvoiceTotal sums the exact line totals and rounds once.
func InvoiceTotal(lines []Line) (decimal.Decimal, error) {
	sum := decimal.Zero
	for i, l := range lines {
		gross, err := LineTotal(l.Quantity, l.UnitPrice, l.TaxRate)
		if err != nil {
			return decimal.Zero, fmt.Errorf("line %d: %w", i+1, err)
		}
		sum = sum.Add(gross)
	}
	return RoundCurrency(sum), nil
}

// RoundCurrency rounds half-up to two decimals. Amounts in this domain are
// non-negative, where decimal's half-away-from-zero rounding is half-up.
func RoundCurrency(x decimal.Decimal) decimal.Decimal {
	return x.Round(Places)
}

// Sum adds amounts without rounding.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Parse reads a decimal from user input.
func Parse(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %q: %w", raw, shared.ErrInvalidAmount)
	}
	return d, nil
}
