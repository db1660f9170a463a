// Package fixtures provides test data builders and helpers.
package fixtures

import (
	"time"

	"github.com/shopspring/decimal"
)

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to the given time.Time.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// DecimalPtr returns a pointer to the given decimal.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// Dec parses s as a decimal and panics on malformed input. Test-only.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
