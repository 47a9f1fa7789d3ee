package money

import "testing"

func TestFormat(t *testing.T) {
	cases := []struct {
		amount   int64
		currency string
		want     string
	}{
		{12999, "usd", "129.99"},
		{100, "usd", "1.00"},
		{5, "usd", "0.05"},
		{0, "usd", "0.00"},
		{-2550, "usd", "-25.50"},
		{4999, "EUR", "49.99"},
		{1500, "jpy", "1500"}, // zero-decimal currency
	}
	for _, tc := range cases {
		if got := Format(tc.amount, tc.currency); got != tc.want {
			t.Errorf("Format(%d, %q) = %q, want %q", tc.amount, tc.currency, got, tc.want)
		}
	}
}

func TestFormatWithSymbol(t *testing.T) {
	cases := []struct {
		amount   int64
		currency string
		want     string
	}{
		{12999, "usd", "$129.99"},
		{4999, "eur", "€49.99"},
		{4999, "gbp", "£49.99"},
		{4999, "aud", "AUD 49.99"},
	}
	for _, tc := range cases {
		if got := FormatWithSymbol(tc.amount, tc.currency); got != tc.want {
			t.Errorf("FormatWithSymbol(%d, %q) = %q, want %q", tc.amount, tc.currency, got, tc.want)
		}
	}
}
