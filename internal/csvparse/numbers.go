package csvparse

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/types"
)

// Number formats accepted by ParseNumber.
const (
	FormatUS      = "us"       // 1,234.56
	FormatEU      = "eu"       // 1.234,56
	FormatEUSpace = "eu_space" // 1 234,56
)

// ParseNumber parses a bank-formatted amount. Currency symbols are
// stripped; parentheses mean negative.
func ParseNumber(raw, format string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, types.E(types.KindParse, "empty number")
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.TrimRight(s, "$€£ ")

	switch format {
	case FormatEU:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case FormatEUSpace:
		s = strings.ReplaceAll(s, " ", "")
		s = strings.ReplaceAll(s, "\u00a0", "")
		s = strings.ReplaceAll(s, ",", ".")
	default: // FormatUS and unset
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, types.WrapErr(types.KindParse, err, "parsing number %q", raw)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
