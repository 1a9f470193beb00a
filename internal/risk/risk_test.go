package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraquant/workbench/internal/model"
)

func newTestGate(cfg model.RiskConfig) *Gate {
	return New(cfg, "", zerolog.Nop())
}

func TestDrawdownCutOut(t *testing.T) {
	cfg := model.DefaultRiskConfig()
	cfg.MaxDrawdownPct = 20
	g := newTestGate(cfg)

	var stopReason string
	g.OnStopTrading = func(reason string) { stopReason = reason }

	g.UpdatePeakValue(decimal.NewFromInt(100000))
	breached := g.CheckDrawdown(decimal.NewFromInt(75000))

	require.True(t, breached)
	assert.False(t, g.GetRiskSummary(nil, decimal.NewFromInt(75000)).TradingAllowed)
	assert.NotEmpty(t, stopReason)

	critical := model.RiskCritical
	alerts := g.GetAlerts(&critical)
	assert.Len(t, alerts, 1)
}

func TestPriceDeviationBoundary(t *testing.T) {
	cfg := model.DefaultRiskConfig()
	cfg.MaxPriceDeviation = 3.0
	g := newTestGate(cfg)

	order := model.Order{Code: "000001", Side: model.SideBuy, Price: decimal.NewFromFloat(10.3), Quantity: 100}
	allowed, _ := g.CheckOrder(order, nil, decimal.NewFromInt(100000), decimal.NewFromInt(100000), decimal.NewFromInt(10))
	assert.True(t, allowed, "exactly at the limit must be allowed")

	order.Price = decimal.NewFromFloat(10.31)
	allowed, reason := g.CheckOrder(order, nil, decimal.NewFromInt(100000), decimal.NewFromInt(100000), decimal.NewFromInt(10))
	assert.False(t, allowed)
	assert.Contains(t, reason, "deviation")
}

func TestDailyTradeLimitRejects(t *testing.T) {
	cfg := model.DefaultRiskConfig()
	cfg.MaxDailyTrades = 1
	g := newTestGate(cfg)
	g.OnTradeCompleted()

	order := model.Order{Code: "000001", Side: model.SideBuy, Price: decimal.NewFromInt(10), Quantity: 100}
	allowed, reason := g.CheckOrder(order, nil, decimal.NewFromInt(100000), decimal.NewFromInt(100000), decimal.NewFromInt(10))
	assert.False(t, allowed)
	assert.Contains(t, reason, "daily trade limit")
}

func TestPositionCapRejectsOversizedBuy(t *testing.T) {
	cfg := model.DefaultRiskConfig()
	cfg.MaxPositionPct = 10
	g := newTestGate(cfg)

	order := model.Order{Code: "000001", Side: model.SideBuy, Price: decimal.NewFromInt(10), Quantity: 2000}
	allowed, reason := g.CheckOrder(order, map[string]model.Position{}, decimal.NewFromInt(100000), decimal.NewFromInt(100000), decimal.NewFromInt(10))
	assert.False(t, allowed)
	assert.Contains(t, reason, "exceed")
}

func TestCheckPositionAdvisoryAlerts(t *testing.T) {
	cfg := model.DefaultRiskConfig()
	cfg.StopLossPct = 5
	cfg.TakeProfitPct = 10
	g := newTestGate(cfg)

	losing := model.Position{Code: "000001", Quantity: 100, AverageCost: decimal.NewFromInt(10), Price: decimal.NewFromFloat(9.4)}
	alerts := g.CheckPosition(losing)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.RiskHigh, alerts[0].Level)
}

func TestResetDailyReenablesTrading(t *testing.T) {
	cfg := model.DefaultRiskConfig()
	cfg.MaxDrawdownPct = 1
	g := newTestGate(cfg)
	g.UpdatePeakValue(decimal.NewFromInt(100000))
	g.CheckDrawdown(decimal.NewFromInt(90000))
	require.False(t, g.GetRiskSummary(nil, decimal.Zero).TradingAllowed)

	g.ResetDaily()
	assert.True(t, g.GetRiskSummary(nil, decimal.Zero).TradingAllowed)
}
