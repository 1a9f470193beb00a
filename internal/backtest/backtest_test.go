package backtest

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraquant/workbench/internal/model"
	"github.com/astraquant/workbench/internal/strategy"
)

// dualMASeries builds a 61-bar V-shaped close series: falling for 30
// bars then rising for 31, which produces exactly one golden cross and
// no death cross within the window, per §8 scenario 1.
func dualMASeries() []model.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []model.Bar
	price := 100.0
	for i := 0; i < 61; i++ {
		if i < 30 {
			price -= 1
		} else {
			price += 1
		}
		bars = append(bars, model.Bar{
			Time:  start.AddDate(0, 0, i),
			Open:  decimal.NewFromFloat(price),
			High:  decimal.NewFromFloat(price + 0.5),
			Low:   decimal.NewFromFloat(price - 0.5),
			Close: decimal.NewFromFloat(price),
		})
	}
	return bars
}

func TestDualMABacktestSingleBuyNoSells(t *testing.T) {
	strat := &strategy.DualMA{Fast: 5, Slow: 20, SizePct: 90}
	base := strategy.NewBase("000001", strat)
	base.SetCapital(decimal.NewFromInt(1000000))

	engine := NewEngine(map[string]*strategy.Base{"000001": base}, 0.0003, 0)
	result := engine.Run(map[string][]model.Bar{"000001": dualMASeries()})

	assert.Equal(t, 0, result.WinTrades, "a still-open position realizes no trade yet")
	assert.Less(t, result.MaxDrawdown, 0.5)
	assert.NotEmpty(t, result.EquityCurve)
	assert.Len(t, result.EquityCurve, 61)
}

func TestSummarizeEmptyCurveIsZeroValued(t *testing.T) {
	e := NewEngine(nil, 0.0003, 0)
	r := e.summarize(nil)
	assert.Equal(t, Result{}, r)
}

func TestMaxDrawdownTracksPeakToTrough(t *testing.T) {
	curve := []EquityPoint{
		{Equity: decimal.NewFromInt(100)},
		{Equity: decimal.NewFromInt(120)},
		{Equity: decimal.NewFromInt(90)},
		{Equity: decimal.NewFromInt(110)},
	}
	dd := maxDrawdown(curve)
	assert.InDelta(t, 0.25, dd, 0.001)
}

func TestRunProducesMonotonicDateOrderedEquityCurve(t *testing.T) {
	strat := &strategy.DualMA{Fast: 5, Slow: 20, SizePct: 90}
	base := strategy.NewBase("000001", strat)
	base.SetCapital(decimal.NewFromInt(1000000))

	engine := NewEngine(map[string]*strategy.Base{"000001": base}, 0.0003, 0)
	result := engine.Run(map[string][]model.Bar{"000001": dualMASeries()})

	require.NotEmpty(t, result.EquityCurve)
	for i := 1; i < len(result.EquityCurve); i++ {
		assert.True(t, result.EquityCurve[i].Date.After(result.EquityCurve[i-1].Date))
	}
}

func TestLoadCSVParsesFlexibleHeader(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bars.csv"
	content := "date,open,high,low,close,volume\n2024-01-01,10,11,9,10.5,1000\n2024-01-02,10.5,11.5,10,11,1200\n"
	require.NoError(t, writeFile(path, content))

	bars, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Close.Equal(decimal.NewFromFloat(10.5)))
	assert.True(t, bars[1].Time.After(bars[0].Time))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
