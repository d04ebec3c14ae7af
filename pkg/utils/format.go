// Package utils provides number formatting shared by reports and the CLI.
package utils

import (
	"fmt"
	"math"
	"strings"
)

// currencySymbols maps ISO codes to the symbol printed before amounts.
var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"INR": "₹",
	"JPY": "¥",
}

// FormatAmount formats a statement amount with thousands separators and the
// currency symbol, e.g. 1234567.5 USD → "$1,234,567.50". INR amounts use the
// Indian grouping (₹12,34,567.50). Unknown currencies are printed as a
// suffix code; an empty currency prints the bare number.
func FormatAmount(amount float64, currency string) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "n/a"
	}
	currency = strings.ToUpper(currency)

	negative := amount < 0
	amount = math.Abs(amount)
	cents := math.Round(amount * 100)
	intPart := int64(cents / 100)
	decPart := int64(cents) % 100

	var grouped string
	if currency == "INR" {
		grouped = formatIndianNumber(intPart)
	} else {
		grouped = formatWesternNumber(intPart)
	}
	formatted := fmt.Sprintf("%s.%02d", grouped, decPart)

	sign := ""
	if negative {
		sign = "-"
	}
	if sym, ok := currencySymbols[currency]; ok {
		return sign + sym + formatted
	}
	if currency != "" {
		return sign + formatted + " " + currency
	}
	return sign + formatted
}

// FormatRatio formats an index ratio to three decimals. Non-finite values,
// which only permissive scoring produces, print as "NaN", "+Inf" or "-Inf".
func FormatRatio(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return fmt.Sprintf("%.3f", v)
}

// FormatScore formats an M-Score with its sign, e.g. -2.211902 → "-2.21".
func FormatScore(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return FormatRatio(v)
	}
	return fmt.Sprintf("%+.2f", v)
}

// FormatPct formats a percentage value with one decimal: 30.368 → "30.4%".
func FormatPct(pct float64) string {
	if math.IsNaN(pct) {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", pct)
}

func formatWesternNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatIndianNumber formats an integer with Indian grouping (last 3, then 2s).
func formatIndianNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	s := fmt.Sprintf("%d", n)
	length := len(s)

	result := s[length-3:]
	remaining := s[:length-3]

	for len(remaining) > 0 {
		if len(remaining) > 2 {
			result = remaining[len(remaining)-2:] + "," + result
			remaining = remaining[:len(remaining)-2]
		} else {
			result = remaining + "," + result
			remaining = ""
		}
	}

	return result
}
