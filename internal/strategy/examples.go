package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/astraquant/workbench/internal/indicators"
	"github.com/astraquant/workbench/internal/model"
)

// sizeQty converts a percent-of-equity sizing request into a 100-lot
// quantity at the given price.
func sizeQty(totalValue decimal.Decimal, sizePct float64, price decimal.Decimal) int64 {
	if price.IsZero() || sizePct <= 0 {
		return 0
	}
	budget := totalValue.Mul(decimal.NewFromFloat(sizePct / 100))
	qty := budget.Div(price).IntPart()
	return model.NormalizeQuantity(qty)
}

// DualMA buys on a fast/slow MA golden cross and sells on a death cross.
// Grounded on original_source/strategies/dual_ma_strategy.py.
type DualMA struct {
	NoopHooks
	Fast, Slow int
	SizePct    float64
}

func (s *DualMA) OnBar(b *Base, bar model.Bar) {
	closes := b.GetCloseSeries(s.Slow + 5)
	if len(closes) < s.Slow {
		return
	}
	fast := indicators.MA(closes, s.Fast)
	slow := indicators.MA(closes, s.Slow)
	i := len(closes) - 1
	switch {
	case indicators.CrossOver(fast, slow)[i] && b.Position().Quantity == 0:
		qty := sizeQty(b.TotalValue(), s.SizePct, bar.Close)
		if qty > 0 {
			b.Buy(bar.Close, qty, model.Limit)
		}
	case indicators.CrossUnder(fast, slow)[i] && b.Position().Quantity > 0:
		b.Sell(bar.Close, b.Position().Quantity, model.Limit)
	}
}

// MACDStrategy trades MACD histogram sign flips.
// Grounded on original_source/strategies/macd_strategy.py.
type MACDStrategy struct {
	NoopHooks
	Fast, Slow, Signal int
	SizePct            float64
}

func (s *MACDStrategy) OnBar(b *Base, bar model.Bar) {
	closes := b.GetCloseSeries(s.Slow + s.Signal + 5)
	if len(closes) < s.Slow+s.Signal {
		return
	}
	res := indicators.MACD(closes, s.Fast, s.Slow, s.Signal)
	i := len(closes) - 1
	if i < 1 {
		return
	}
	prev, cur := res.Hist[i-1], res.Hist[i]
	switch {
	case prev <= 0 && cur > 0 && b.Position().Quantity == 0:
		qty := sizeQty(b.TotalValue(), s.SizePct, bar.Close)
		if qty > 0 {
			b.Buy(bar.Close, qty, model.Limit)
		}
	case prev >= 0 && cur < 0 && b.Position().Quantity > 0:
		b.Sell(bar.Close, b.Position().Quantity, model.Limit)
	}
}

// KDJStrategy buys when J is below Oversold while flat and sells the
// whole position when J is above Overbought.
// Grounded on original_source/strategies/kdj_strategy.py.
type KDJStrategy struct {
	NoopHooks
	N, M1, M2          int
	Oversold, Overbought float64
	SizePct            float64
}

func (s *KDJStrategy) OnBar(b *Base, bar model.Bar) {
	window := b.GetBarWindow(s.N + 5)
	if len(window) < s.N {
		return
	}
	high, low, close := barsToHLC(window)
	res := indicators.KDJ(high, low, close, s.N, s.M1, s.M2)
	i := len(close) - 1
	switch {
	case res.J[i] < s.Oversold && b.Position().Quantity == 0:
		qty := sizeQty(b.TotalValue(), s.SizePct, bar.Close)
		if qty > 0 {
			b.Buy(bar.Close, qty, model.Limit)
		}
	case res.J[i] > s.Overbought && b.Position().Quantity > 0:
		b.Sell(bar.Close, b.Position().Quantity, model.Limit)
	}
}

// RSIStrategy buys on oversold RSI and sells on overbought RSI.
// Grounded on original_source/strategies/rsi_strategy.py.
type RSIStrategy struct {
	NoopHooks
	Period               int
	Oversold, Overbought float64
	SizePct              float64
}

func (s *RSIStrategy) OnBar(b *Base, bar model.Bar) {
	closes := b.GetCloseSeries(s.Period + 5)
	if len(closes) <= s.Period {
		return
	}
	rsi := indicators.RSI(closes, s.Period)
	i := len(closes) - 1
	switch {
	case rsi[i] < s.Oversold && b.Position().Quantity == 0:
		qty := sizeQty(b.TotalValue(), s.SizePct, bar.Close)
		if qty > 0 {
			b.Buy(bar.Close, qty, model.Limit)
		}
	case rsi[i] > s.Overbought && b.Position().Quantity > 0:
		b.Sell(bar.Close, b.Position().Quantity, model.Limit)
	}
}

// BollStrategy buys when price closes below the lower band (mean
// reversion entry) and sells when price closes above the upper band.
// Grounded on original_source/strategies/boll_strategy.py.
type BollStrategy struct {
	NoopHooks
	Period  int
	K       float64
	SizePct float64
}

func (s *BollStrategy) OnBar(b *Base, bar model.Bar) {
	closes := b.GetCloseSeries(s.Period + 5)
	if len(closes) < s.Period {
		return
	}
	res := indicators.BOLL(closes, s.Period, s.K)
	i := len(closes) - 1
	switch {
	case closes[i] < res.Lower[i] && b.Position().Quantity == 0:
		qty := sizeQty(b.TotalValue(), s.SizePct, bar.Close)
		if qty > 0 {
			b.Buy(bar.Close, qty, model.Limit)
		}
	case closes[i] > res.Upper[i] && b.Position().Quantity > 0:
		b.Sell(bar.Close, b.Position().Quantity, model.Limit)
	}
}

func barsToHLC(bars []model.Bar) (high, low, close []float64) {
	high = make([]float64, len(bars))
	low = make([]float64, len(bars))
	close = make([]float64, len(bars))
	for i, bar := range bars {
		high[i], _ = bar.High.Float64()
		low[i], _ = bar.Low.Float64()
		close[i], _ = bar.Close.Float64()
	}
	return
}
