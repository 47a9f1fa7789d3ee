package money

import (
	"fmt"
	"strings"
)

// zeroDecimalCurrencies have no minor unit; their amounts are already whole.
var zeroDecimalCurrencies = map[string]bool{
	"jpy": true,
	"krw": true,
	"vnd": true,
}

// Format renders an integer minor-unit amount as a decimal major-unit string
// for presentation, e.g. Format(12999, "usd") == "129.99". Amounts are stored
// and transported in minor units everywhere else; this is the serialization
// edge where the conversion happens.
func Format(amountCents int64, currency string) string {
	currency = strings.ToLower(currency)
	if zeroDecimalCurrencies[currency] {
		return fmt.Sprintf("%d", amountCents)
	}

	sign := ""
	if amountCents < 0 {
		sign = "-"
		amountCents = -amountCents
	}
	return fmt.Sprintf("%s%d.%02d", sign, amountCents/100, amountCents%100)
}

// FormatWithSymbol prepends the currency symbol for the common cases and
// falls back to an uppercase currency-code prefix.
func FormatWithSymbol(amountCents int64, currency string) string {
	amount := Format(amountCents, currency)
	switch strings.ToLower(currency) {
	case "usd":
		return "$" + amount
	case "eur":
		return "€" + amount
	case "gbp":
		return "£" + amount
	case "inr":
		return "₹" + amount
	default:
		return strings.ToUpper(currency) + " " + amount
	}
}
