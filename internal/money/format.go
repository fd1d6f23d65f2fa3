package money

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Currency is the only currency handled by the receivables core.
var Currency = currency.EUR

var printer = message.NewPrinter(language.German)

// Format renders an amount the way German invoices print it, e.g. "1.250,00 €".
func Format(amount decimal.Decimal) string {
	return printer.Sprintf("%.2f €", RoundCurrency(amount).InexactFloat64())
}

// CurrencyCode returns the ISO 4217 code, e.g. "EUR".
func CurrencyCode() string {
	return Currency.String()
}
