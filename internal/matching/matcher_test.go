package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/astraquant/workbench/internal/model"
)

func bar(open, high, low, close float64) model.Bar {
	return model.Bar{
		Open:  decimal.NewFromFloat(open),
		High:  decimal.NewFromFloat(high),
		Low:   decimal.NewFromFloat(low),
		Close: decimal.NewFromFloat(close),
	}
}

func TestLimitBuyFillsWhenLowEqualsPrice(t *testing.T) {
	o := model.Order{Side: model.SideBuy, Type: model.Limit, Price: decimal.NewFromInt(10), Quantity: 100}
	fill, ok := TryFillAgainstBar(o, bar(11, 12, 10, 11), 0.0003, 0)
	assert.True(t, ok)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(10)))
}

func TestLimitBuyRejectsWhenLowAbovePrice(t *testing.T) {
	o := model.Order{Side: model.SideBuy, Type: model.Limit, Price: decimal.NewFromInt(10), Quantity: 100}
	_, ok := TryFillAgainstBar(o, bar(11, 12, 10.5, 11), 0.0003, 0)
	assert.False(t, ok)
}

func TestLimitSellFillsWhenHighEqualsPrice(t *testing.T) {
	o := model.Order{Side: model.SideSell, Type: model.Limit, Price: decimal.NewFromInt(12), Quantity: 100}
	fill, ok := TryFillAgainstBar(o, bar(11, 12, 10, 11), 0.0003, 0)
	assert.True(t, ok)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(12)))
}

func TestLimitSellRejectsWhenHighBelowPrice(t *testing.T) {
	o := model.Order{Side: model.SideSell, Type: model.Limit, Price: decimal.NewFromInt(13), Quantity: 100}
	_, ok := TryFillAgainstBar(o, bar(11, 12, 10, 11), 0.0003, 0)
	assert.False(t, ok)
}

func TestMarketFillsAtOpen(t *testing.T) {
	o := model.Order{Side: model.SideBuy, Type: model.Market, Quantity: 100}
	fill, ok := TryFillAgainstBar(o, bar(11, 12, 10, 11), 0.0003, 0)
	assert.True(t, ok)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(11)))
}

func TestLimitBuyUsesMinOfPriceAndOpenWithSlippage(t *testing.T) {
	o := model.Order{Side: model.SideBuy, Type: model.Limit, Price: decimal.NewFromInt(15), Quantity: 100}
	fill, ok := TryFillAgainstBar(o, bar(11, 16, 10, 11), 0.0003, 0.01)
	assert.True(t, ok)
	// min(15, 11) * 1.01 = 11.11
	assert.True(t, fill.Price.Equal(decimal.NewFromFloat(11.11)))
}

func TestCommissionAppliesStampDutyOnSellOnly(t *testing.T) {
	price := decimal.NewFromInt(10)
	buyCommission := Commission(price, 1000, 0.0003, model.SideBuy)
	sellCommission := Commission(price, 1000, 0.0003, model.SideSell)

	assert.True(t, buyCommission.Equal(decimal.NewFromFloat(3)))
	assert.True(t, sellCommission.Equal(decimal.NewFromFloat(3+10)))
}

func TestTryFillAgainstPriceMarketUsesReference(t *testing.T) {
	o := model.Order{Side: model.SideBuy, Type: model.Market, Quantity: 100}
	fill, ok := TryFillAgainstPrice(o, decimal.NewFromInt(20), 0.0003, 0)
	assert.True(t, ok)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(20)))
}

func TestTryFillAgainstPriceLimitSellRequiresAtOrAbove(t *testing.T) {
	o := model.Order{Side: model.SideSell, Type: model.Limit, Price: decimal.NewFromInt(20), Quantity: 100}
	_, ok := TryFillAgainstPrice(o, decimal.NewFromInt(19), 0.0003, 0)
	assert.False(t, ok)

	fill, ok := TryFillAgainstPrice(o, decimal.NewFromInt(21), 0.0003, 0)
	assert.True(t, ok)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(20)))
}
