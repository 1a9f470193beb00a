// Package matching holds the deterministic fill rules shared by the
// backtest engine (§4.C) and the simulated broker (§4.E.1) — the spec
// calls these out explicitly as one rule set used by both.
package matching

import (
	"github.com/shopspring/decimal"

	"github.com/astraquant/workbench/internal/model"
)

// Fill is the outcome of matching one order against one bar or reference
// price.
type Fill struct {
	Price      decimal.Decimal
	Commission decimal.Decimal
}

// TryFillAgainstBar applies the §4.C matcher rules for LIMIT orders:
// LIMIT BUY fills when bar.Low <= price, fill = min(price, bar.Open)*(1+slippage);
// LIMIT SELL fills when bar.High >= price, fill = max(price, bar.Open)*(1-slippage).
// MARKET orders always fill at bar.Open. Partial fills are never modeled.
func TryFillAgainstBar(order model.Order, bar model.Bar, commissionRate, slippage float64) (Fill, bool) {
	slip := decimal.NewFromFloat(slippage)
	one := decimal.NewFromInt(1)

	var price decimal.Decimal
	switch {
	case order.Type == model.Market:
		price = bar.Open
	case order.Side == model.SideBuy:
		if bar.Low.GreaterThan(order.Price) {
			return Fill{}, false
		}
		price = decimal.Min(order.Price, bar.Open).Mul(one.Add(slip))
	default: // LIMIT SELL
		if bar.High.LessThan(order.Price) {
			return Fill{}, false
		}
		price = decimal.Max(order.Price, bar.Open).Mul(one.Sub(slip))
	}
	return Fill{Price: price, Commission: Commission(price, order.Quantity, commissionRate, order.Side)}, true
}

// TryFillAgainstPrice is the simulator's equivalent using a live
// reference price instead of a bar (MARKET fills at the reference;
// LIMIT fills only at-or-better than the reference).
func TryFillAgainstPrice(order model.Order, refPrice decimal.Decimal, commissionRate, slippage float64) (Fill, bool) {
	slip := decimal.NewFromFloat(slippage)
	one := decimal.NewFromInt(1)

	var price decimal.Decimal
	switch {
	case order.Type == model.Market:
		price = refPrice
	case order.Side == model.SideBuy:
		if refPrice.GreaterThan(order.Price) {
			return Fill{}, false
		}
		price = order.Price.Mul(one.Add(slip))
	default:
		if refPrice.LessThan(order.Price) {
			return Fill{}, false
		}
		price = order.Price.Mul(one.Sub(slip))
	}
	return Fill{Price: price, Commission: Commission(price, order.Quantity, commissionRate, order.Side)}, true
}

// Commission is fill_price*qty*commission_rate, plus a 0.1% stamp duty on
// SELL regardless of market, applied at matcher time even in backtest.
func Commission(price decimal.Decimal, qty int64, commissionRate float64, side model.Side) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(qty))
	c := notional.Mul(decimal.NewFromFloat(commissionRate))
	if side == model.SideSell {
		c = c.Add(notional.Mul(decimal.NewFromFloat(0.001)))
	}
	return c
}
