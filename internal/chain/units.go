package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the fixed-point precision of every amount the contract handles.
const Decimals = 18

var ErrInvalidAmount = errors.New("invalid amount")

// ParseUnits converts a decimal string such as "1.5" into an integer scaled
// by 10^decimals. Negative values parse so callers can reject them.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" || s == "." {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > decimals {
		if strings.Trim(frac[decimals:], "0") != "" {
			return nil, fmt.Errorf("%w: more than %d decimals", ErrInvalidAmount, decimals)
		}
		frac = frac[:decimals]
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))

	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// FormatUnits renders v scaled down by 10^decimals without trailing zeros.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	s := new(big.Int).Abs(v).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
