package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FormatMinorAmount renders an amount held in minor units as the gateway's
// two-decimal string form, e.g. 10000 -> "100.00".
func FormatMinorAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseMinorAmount converts the gateway's decimal string form back into
// minor units. At most two fractional digits are accepted.
func ParseMinorAmount(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("amount is empty")
	}
	whole, frac, found := strings.Cut(trimmed, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if !found {
		return units * 100, nil
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q: more than two fractional digits", value)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if units < 0 || strings.HasPrefix(whole, "-") {
		return units*100 - cents, nil
	}
	return units*100 + cents, nil
}
