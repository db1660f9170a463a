package pricing

import (
	"regexp"

	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	// MoneyPlaces is the fixed scale of every monetary amount
	MoneyPlaces = 2
	// UnitPricePlaces is the stored scale of a unit price
	UnitPricePlaces = 4
	// QuantityPlaces is the stored scale of a harvested quantity
	QuantityPlaces = 3
)

// plain decimal: optional sign, digits, optional fraction. No exponent, grouping or locale separators.
var amountPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Price returns round(quantity * unitPrice, 2), rounding half away from zero.
// Rounding happens exactly once, here; batch totals are sums of these values.
func Price(quantity, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if quantity.IsNegative() {
		return decimal.Zero, domain.InvalidPricingInput("quantity must not be negative").
			WithDetail("quantity", quantity.String())
	}
	if !unitPrice.IsPositive() {
		return decimal.Zero, domain.InvalidPricingInput("unit price must be greater than zero").
			WithDetail("unit_price", unitPrice.String())
	}
	// The stored value must reproduce the total, so no digit may be lost on write.
	if !unitPrice.Equal(unitPrice.Truncate(UnitPricePlaces)) {
		return decimal.Zero, domain.InvalidPricingInput("unit price has more than 4 decimal places").
			WithDetail("unit_price", unitPrice.String())
	}
	if !quantity.Equal(quantity.Truncate(QuantityPlaces)) {
		return decimal.Zero, domain.InvalidPricingInput("quantity has more than 3 decimal places").
			WithDetail("quantity", quantity.String())
	}

	return quantity.Mul(unitPrice).Round(MoneyPlaces), nil
}

// ParseAmount converts a boundary string into a decimal. Values such as "NaN",
// "1e3" or "1.234,50" are rejected rather than guessed at.
func ParseAmount(field, value string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(value) {
		return decimal.Zero, domain.InvalidPricingInput(field + " is not a plain decimal number").
			WithDetail(field, value)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, domain.InvalidPricingInput(field + " is not a decimal number").
			WithDetail(field, value)
	}
	return d, nil
}

// Sum adds already-rounded record values without re-rounding
func Sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
