package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"pizzeria-service/internal/models"
)

func TestUnitPriceMediumEqualsBase(t *testing.T) {
	base := decimal.RequireFromString("10.00")
	assert.True(t, UnitPrice(base, models.SizeMedium).Equal(base))
}

func TestUnitPriceMultipliers(t *testing.T) {
	tests := []struct {
		name string
		base string
		size models.PizzaSize
		want string
	}{
		{"small", "10.00", models.SizeSmall, "6.70"},
		{"large", "10.00", models.SizeLarge, "13.30"},
		{"small rounds", "9.99", models.SizeSmall, "6.69"},
		{"large rounds", "9.99", models.SizeLarge, "13.29"},
		{"small cheap", "1.00", models.SizeSmall, "0.67"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnitPrice(decimal.RequireFromString(tt.base), tt.size)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestUnitPriceDeterministic(t *testing.T) {
	base := decimal.RequireFromString("12.34")
	first := UnitPrice(base, models.SizeLarge)
	for i := 0; i < 10; i++ {
		assert.True(t, first.Equal(UnitPrice(base, models.SizeLarge)))
	}
}

func TestUnitPricePanicsOnUnknownSize(t *testing.T) {
	assert.Panics(t, func() {
		UnitPrice(decimal.NewFromInt(10), models.PizzaSize("FAMILY"))
	})
}
