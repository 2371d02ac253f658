package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAmount    = errors.New("empty amount")
	ErrNonPositive    = errors.New("amount must be greater than zero")
	currencyMarkerRex = regexp.MustCompile(`(?i)^(ngn|naira|₦|n)\s*|\s*(ngn|naira)$`)
	plainNumberRex    = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// NormalizeAmount turns a notification amount such as "NGN 5,000.00" or
// "₦5,000" into a decimal. Zero and negative amounts are rejected.
func NormalizeAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	for {
		stripped := strings.TrimSpace(currencyMarkerRex.ReplaceAllString(s, ""))
		if stripped == s {
			break
		}
		s = stripped
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}
	if strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrNonPositive
	}
	if !plainNumberRex.MatchString(s) {
		return decimal.Zero, fmt.Errorf("amount %q is not numeric", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", raw, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrNonPositive
	}
	return d, nil
}
