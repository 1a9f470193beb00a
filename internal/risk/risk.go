// Package risk implements the Risk Gate of §4.F: pre-trade checks,
// post-trade accumulators, drawdown/daily-loss cut-outs, and the
// append-only CSV alert journal. Grounded directly on
// original_source/core/risk/risk_manager.py (RiskManager), translated
// into Go's mutex-guarded-state idiom the way the teacher guards
// Trader/broker caches in trader.go.
package risk

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/astraquant/workbench/internal/metrics"
	"github.com/astraquant/workbench/internal/model"
)

// Gate is the Risk Gate. All exported methods are safe for concurrent
// use; external callers must never hold their own lock while invoking
// one, matching §5's shared-resource policy.
type Gate struct {
	mu sync.Mutex

	cfg         model.RiskConfig
	journalPath string
	log         zerolog.Logger
	now         func() time.Time

	alerts         []model.RiskAlert
	peakValue      decimal.Decimal
	dailyTrades    int
	dailyLoss      decimal.Decimal
	lastTradeTime  time.Time
	tradingAllowed bool

	OnAlert       func(model.RiskAlert)
	OnStopTrading func(reason string)
}

// New builds a Gate. journalPath may be empty, in which case alerts are
// kept in memory only (best-effort persistence, per §4.F).
func New(cfg model.RiskConfig, journalPath string, log zerolog.Logger) *Gate {
	return &Gate{
		cfg:            cfg,
		journalPath:    journalPath,
		log:            log,
		now:            time.Now,
		tradingAllowed: true,
	}
}

// ResetDaily zeros the daily counters and re-enables trading.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyTrades = 0
	g.dailyLoss = decimal.Zero
	g.tradingAllowed = true
	metrics.SetTradingAllowed(true)
}

// UpdatePeakValue advances peak_value monotonically (invariant §8.4).
func (g *Gate) UpdatePeakValue(totalValue decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if totalValue.GreaterThan(g.peakValue) {
		g.peakValue = totalValue
	}
}

// CheckOrder is the pre-trade gate (§4.F). Order of checks matches
// original_source's check_order exactly: trading-allowed, daily trade
// count, minimum interval, price deviation, then (BUY only) cash
// coverage, per-code cap, total cap.
func (g *Gate) CheckOrder(order model.Order, positions map[string]model.Position, cash, totalValue, currentPrice decimal.Decimal) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.tradingAllowed {
		return false, "trading suspended by risk gate"
	}
	if g.dailyTrades >= g.cfg.MaxDailyTrades {
		g.addAlertLocked(model.RiskHigh, "daily trade limit reached", order.Code)
		return false, "daily trade limit reached"
	}
	if !g.lastTradeTime.IsZero() {
		elapsed := g.now().Sub(g.lastTradeTime)
		minGap := time.Duration(g.cfg.MinTradeIntervalSec) * time.Second
		if elapsed < minGap {
			remaining := minGap - elapsed
			return false, fmt.Sprintf("trade interval too short, wait %.0fs", remaining.Seconds())
		}
	}
	if currentPrice.IsPositive() {
		deviation := order.Price.Sub(currentPrice).Abs().Div(currentPrice).Mul(decimal.NewFromInt(100))
		if deviation.GreaterThan(decimal.NewFromFloat(g.cfg.MaxPriceDeviation)) {
			g.addAlertLocked(model.RiskMedium, fmt.Sprintf("order price deviates %.2f%% from market", dfloat(deviation)), order.Code)
			return false, fmt.Sprintf("price deviation too large: %.2f%%", dfloat(deviation))
		}
	}

	if order.Side == model.SideBuy {
		orderValue := order.Price.Mul(decimal.NewFromInt(order.Quantity))
		if orderValue.GreaterThan(cash) {
			return false, "insufficient cash"
		}
		existingValue := decimal.Zero
		if pos, ok := positions[order.Code]; ok {
			existingValue = pos.MarketValue()
		}
		if totalValue.IsPositive() {
			newPositionPct := existingValue.Add(orderValue).Div(totalValue).Mul(decimal.NewFromInt(100))
			if newPositionPct.GreaterThan(decimal.NewFromFloat(g.cfg.MaxPositionPct)) {
				g.addAlertLocked(model.RiskMedium, fmt.Sprintf("single-code position would exceed %.2f%%", g.cfg.MaxPositionPct), order.Code)
				return false, fmt.Sprintf("single-code position would exceed %.2f%%", g.cfg.MaxPositionPct)
			}
			totalPosition := decimal.Zero
			for _, pos := range positions {
				totalPosition = totalPosition.Add(pos.MarketValue())
			}
			newTotalPct := totalPosition.Add(orderValue).Div(totalValue).Mul(decimal.NewFromInt(100))
			if newTotalPct.GreaterThan(decimal.NewFromFloat(g.cfg.MaxTotalPositionPct)) {
				g.addAlertLocked(model.RiskMedium, fmt.Sprintf("total position would exceed %.2f%%", g.cfg.MaxTotalPositionPct), order.Code)
				return false, fmt.Sprintf("total position would exceed %.2f%%", g.cfg.MaxTotalPositionPct)
			}
		}
	}

	return true, ""
}

// CheckPosition emits advisory stop-loss/take-profit alerts; the gate
// never auto-closes positions.
func (g *Gate) CheckPosition(pos model.Position) []model.RiskAlert {
	if pos.Quantity <= 0 {
		return nil
	}
	profitPct := dfloat(pos.ProfitPct())

	g.mu.Lock()
	defer g.mu.Unlock()

	var out []model.RiskAlert
	switch {
	case profitPct <= -g.cfg.StopLossPct:
		a := g.addAlertLocked(model.RiskHigh, fmt.Sprintf("stop-loss triggered: down %.2f%%", -profitPct), pos.Code)
		out = append(out, a)
	case profitPct >= g.cfg.TakeProfitPct:
		a := g.addAlertLocked(model.RiskMedium, fmt.Sprintf("take-profit triggered: up %.2f%%", profitPct), pos.Code)
		out = append(out, a)
	}
	return out
}

// CheckDrawdown compares totalValue against the monotonic peak and, on
// breach, emits a CRITICAL alert, suspends trading, and invokes
// OnStopTrading.
func (g *Gate) CheckDrawdown(totalValue decimal.Decimal) bool {
	g.mu.Lock()
	if g.peakValue.IsZero() || !g.peakValue.IsPositive() {
		g.mu.Unlock()
		return false
	}
	drawdown := g.peakValue.Sub(totalValue).Div(g.peakValue).Mul(decimal.NewFromInt(100))
	breach := drawdown.GreaterThanOrEqual(decimal.NewFromFloat(g.cfg.MaxDrawdownPct))
	var reason string
	var hook func(string)
	if breach {
		reason = fmt.Sprintf("max drawdown breached: %.2f%%", dfloat(drawdown))
		g.addAlertLocked(model.RiskCritical, reason, "")
		g.tradingAllowed = false
		metrics.SetTradingAllowed(false)
		hook = g.OnStopTrading
	}
	g.mu.Unlock()
	if hook != nil {
		hook(reason)
	}
	return breach
}

// CheckDailyLoss accumulates loss and, on breaching max_daily_loss,
// emits CRITICAL, suspends trading, and invokes OnStopTrading.
func (g *Gate) CheckDailyLoss(loss decimal.Decimal) bool {
	g.mu.Lock()
	g.dailyLoss = g.dailyLoss.Add(loss)
	breach := g.dailyLoss.GreaterThanOrEqual(decimal.NewFromFloat(g.cfg.MaxDailyLoss))
	var reason string
	var hook func(string)
	if breach {
		reason = fmt.Sprintf("max daily loss breached: %s", g.dailyLoss.StringFixed(2))
		g.addAlertLocked(model.RiskCritical, reason, "")
		g.tradingAllowed = false
		metrics.SetTradingAllowed(false)
		hook = g.OnStopTrading
	}
	g.mu.Unlock()
	if hook != nil {
		hook(reason)
	}
	return breach
}

// OnTradeCompleted bumps the daily trade counter and last-trade clock.
func (g *Gate) OnTradeCompleted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyTrades++
	g.lastTradeTime = g.now()
}

// addAlertLocked appends, persists, and notifies; caller must hold mu.
func (g *Gate) addAlertLocked(level model.RiskLevel, message, code string) model.RiskAlert {
	a := model.RiskAlert{Level: level, Message: message, Timestamp: g.now(), Code: code}
	g.alerts = append(g.alerts, a)
	metrics.RiskAlertsTotal.WithLabelValues(level.String()).Inc()
	if err := g.persistAlert(a); err != nil {
		g.log.Warn().Err(err).Msg("risk journal write failed; continuing with in-memory alert only")
	}
	if g.OnAlert != nil {
		g.OnAlert(a)
	}
	return a
}

func (g *Gate) persistAlert(a model.RiskAlert) error {
	if g.journalPath == "" {
		return nil
	}
	if dir := filepath.Dir(g.journalPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	_, statErr := os.Stat(g.journalPath)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(g.journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write([]string{"timestamp", "level", "code", "message"}); err != nil {
			return err
		}
	}
	if err := w.Write([]string{a.Timestamp.Format(time.RFC3339), a.Level.String(), a.Code, a.Message}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// GetAlerts returns all alerts, or only those matching level when non-nil.
func (g *Gate) GetAlerts(level *model.RiskLevel) []model.RiskAlert {
	g.mu.Lock()
	defer g.mu.Unlock()
	if level == nil {
		out := make([]model.RiskAlert, len(g.alerts))
		copy(out, g.alerts)
		return out
	}
	var out []model.RiskAlert
	for _, a := range g.alerts {
		if a.Level == *level {
			out = append(out, a)
		}
	}
	return out
}

// ClearAlerts wipes the in-memory buffer without touching the journal.
func (g *Gate) ClearAlerts() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alerts = nil
}

// Summary is the risk-gate snapshot exposed by the Strategy Runtime's
// summary getter (§4.G).
type Summary struct {
	DrawdownPct      float64
	MaxDrawdownPct   float64
	PositionPct      float64
	MaxPositionPct   float64
	DailyTrades      int
	MaxDailyTrades   int
	DailyLoss        float64
	MaxDailyLoss     float64
	StopLossCount    int
	TakeProfitCount  int
	TradingAllowed   bool
	AlertCount       int
}

// GetRiskSummary mirrors original_source's get_risk_summary.
func (g *Gate) GetRiskSummary(positions map[string]model.Position, totalValue decimal.Decimal) Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	drawdown := 0.0
	if g.peakValue.IsPositive() {
		drawdown = dfloat(g.peakValue.Sub(totalValue).Div(g.peakValue).Mul(decimal.NewFromInt(100)))
	}
	totalPosition := decimal.Zero
	for _, pos := range positions {
		totalPosition = totalPosition.Add(pos.MarketValue())
	}
	positionPct := 0.0
	if totalValue.IsPositive() {
		positionPct = dfloat(totalPosition.Div(totalValue).Mul(decimal.NewFromInt(100)))
	}
	stopLossCount, takeProfitCount := 0, 0
	for _, pos := range positions {
		pct := dfloat(pos.ProfitPct())
		switch {
		case pct <= -g.cfg.StopLossPct:
			stopLossCount++
		case pct >= g.cfg.TakeProfitPct:
			takeProfitCount++
		}
	}
	return Summary{
		DrawdownPct:     drawdown,
		MaxDrawdownPct:  g.cfg.MaxDrawdownPct,
		PositionPct:     positionPct,
		MaxPositionPct:  g.cfg.MaxTotalPositionPct,
		DailyTrades:     g.dailyTrades,
		MaxDailyTrades:  g.cfg.MaxDailyTrades,
		DailyLoss:       dfloat(g.dailyLoss),
		MaxDailyLoss:    g.cfg.MaxDailyLoss,
		StopLossCount:   stopLossCount,
		TakeProfitCount: takeProfitCount,
		TradingAllowed:  g.tradingAllowed,
		AlertCount:      len(g.alerts),
	}
}

func dfloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
