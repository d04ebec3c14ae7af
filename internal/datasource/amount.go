package datasource

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.New(1, 3)
	lakh     = decimal.New(1, 5)
	million  = decimal.New(1, 6)
	crore    = decimal.New(1, 7)
	billion  = decimal.New(1, 9)
)

// suffixes are matched longest first, case-insensitively.
var amountSuffixes = []struct {
	suffix string
	scale  decimal.Decimal
}{
	{"crores", crore},
	{"lakhs", lakh},
	{"crore", crore},
	{"lakh", lakh},
	{"lac", lakh},
	{"bn", billion},
	{"mn", million},
	{"cr", crore},
	{"k", thousand},
	{"m", million},
	{"b", billion},
	{"l", lakh},
}

var currencyMarks = []string{"$", "€", "£", "₹", "¥", "USD", "EUR", "GBP", "INR", "Rs.", "Rs"}

// blankAmounts are the placeholders statements use for "nothing reported".
var blankAmounts = map[string]bool{
	"": true, "-": true, "—": true, "–": true, "n/a": true, "na": true, "nil": true,
}

// ParseAmount parses a statement amount as printed in filings and
// spreadsheets: "1,234.5", "(1,200)" for negatives, "$ 3.2m", "12.5 Cr".
// ok is false for blanks and dash placeholders. Suffixes scale the value
// (k, m/mn, b/bn, l/lakh, cr/crore).
//
// Arithmetic is done in decimal so "1,234.56 m" converts without binary
// rounding before the final float conversion.
func ParseAmount(s string) (v float64, ok bool, err error) {
	raw := s
	s = strings.TrimSpace(s)
	if blankAmounts[strings.ToLower(s)] {
		return 0, false, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	for _, mark := range currencyMarks {
		s = strings.ReplaceAll(s, mark, "")
	}
	s = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "_", "").Replace(s)

	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	if strings.HasSuffix(s, "%") {
		return 0, false, fmt.Errorf("parse amount %q: percentages are not amounts", raw)
	}

	scale := decimal.NewFromInt(1)
	lower := strings.ToLower(s)
	for _, sfx := range amountSuffixes {
		if strings.HasSuffix(lower, sfx.suffix) {
			s = s[:len(s)-len(sfx.suffix)]
			s = strings.TrimSuffix(s, ".")
			scale = sfx.scale
			break
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	d = d.Mul(scale)
	if negative {
		d = d.Neg()
	}
	return d.InexactFloat64(), true, nil
}

// NormalizeUnit maps the free-text unit captions statements carry ("in
// thousands", "Rs. in Crores", "$000s") to a canonical unit name. ok is false
// when no unit is recognized.
func NormalizeUnit(caption string) (unit string, ok bool) {
	c := strings.ToLower(caption)
	switch {
	case strings.Contains(c, "crore"):
		return "crores", true
	case strings.Contains(c, "lakh"):
		return "lakhs", true
	case strings.Contains(c, "billion"):
		return "billions", true
	case strings.Contains(c, "million"):
		return "millions", true
	case strings.Contains(c, "thousand"), strings.Contains(c, "000s"), strings.Contains(c, "'000"):
		return "thousands", true
	}
	return "", false
}
