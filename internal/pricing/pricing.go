// Package pricing computes line item unit prices from catalog base prices.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"pizzeria-service/internal/models"
)

// Size multipliers applied to the catalog base price. The base price is the
// medium price, so MEDIUM is exactly 1.
var (
	smallMultiplier  = decimal.NewFromFloat(0.67)
	mediumMultiplier = decimal.NewFromInt(1)
	largeMultiplier  = decimal.NewFromFloat(1.33)
)

// UnitPrice returns the price of a single pizza of the given size, rounded to
// 2 fraction digits. It is a pure function with no side effects. Passing an
// unknown size is a programming error and panics.
func UnitPrice(basePrice decimal.Decimal, size models.PizzaSize) decimal.Decimal {
	var m decimal.Decimal
	switch size {
	case models.SizeSmall:
		m = smallMultiplier
	case models.SizeMedium:
		m = mediumMultiplier
	case models.SizeLarge:
		m = largeMultiplier
	default:
		panic(fmt.Sprintf("pricing: unknown pizza size %q", size))
	}
	return basePrice.Mul(m).Round(2)
}
