// Package backtest implements the deterministic replay engine of §4.C:
// same matcher rules as the simulated broker (internal/matching), same
// Strategy Abstraction (internal/strategy), producing a BacktestResult
// with the time series and scalar metrics enumerated in §4.C.
//
// Grounded on the teacher's backtest.go (loadCSV/parseTimeFlexible/
// runBacktest walk-forward split), generalized from a single-code
// 70/30 split into the spec's multi-code date-union replay with full
// performance metrics.
package backtest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/astraquant/workbench/internal/matching"
	"github.com/astraquant/workbench/internal/model"
	"github.com/astraquant/workbench/internal/strategy"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Date   time.Time
	Equity decimal.Decimal
}

// Result is the BacktestResult shape of §4.C, suitable for external
// serialization (§6).
type Result struct {
	EquityCurve  []EquityPoint
	DailyReturns []float64

	TotalReturn         float64
	AnnualizedReturn     float64
	MaxDrawdown          float64
	VolatilityAnnualized float64
	Sharpe               float64
	Calmar               float64

	TotalTrades     int
	WinTrades       int
	LossTrades      int
	WinRate         float64
	AvgProfit       float64
	AvgLoss         float64
	MaxProfit       float64
	MaxLoss         float64
	ProfitLossRatio float64
}

type buyLotFIFO struct {
	price      decimal.Decimal
	qty        int64
	commission decimal.Decimal // BUY commission still owed by the remaining qty
}

// Engine replays bars through one strategy instance per code.
type Engine struct {
	Strategies     map[string]*strategy.Base
	CommissionRate float64
	Slippage       float64

	pending map[string][]model.Order // code -> submitted orders awaiting a match
	fifo    map[string][]buyLotFIFO  // code -> FIFO queue of open BUY lots
	realized []float64                // realized P&L per closed lot (backtest-only bookkeeping)
}

// NewEngine wires onOrderIntent callbacks on every strategy so that
// Buy/Sell calls land in the engine's pending-order book instead of a
// live broker.
func NewEngine(strategies map[string]*strategy.Base, commissionRate, slippage float64) *Engine {
	e := &Engine{
		Strategies:     strategies,
		CommissionRate: commissionRate,
		Slippage:       slippage,
		pending:        make(map[string][]model.Order),
		fifo:           make(map[string][]buyLotFIFO),
	}
	for code, s := range strategies {
		code := code
		s.SetCallbacks(func(o model.Order) {
			e.pending[code] = append(e.pending[code], o)
		}, nil, nil)
	}
	return e
}

// Run executes the §4.C replay algorithm over bars (code -> date-indexed
// series, assumed pre-sorted ascending per code) and returns the result.
func (e *Engine) Run(bars map[string][]model.Bar) Result {
	dateSet := make(map[int64]time.Time)
	byCodeByDate := make(map[string]map[int64]model.Bar)
	for code, series := range bars {
		byCodeByDate[code] = make(map[int64]model.Bar)
		for _, b := range series {
			key := b.Time.Unix()
			dateSet[key] = b.Time
			byCodeByDate[code][key] = b
		}
	}
	dates := make([]int64, 0, len(dateSet))
	for k := range dateSet {
		dates = append(dates, k)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })

	var equityCurve []EquityPoint
	for _, key := range dates {
		for code, s := range e.Strategies {
			bar, ok := byCodeByDate[code][key]
			if !ok {
				continue
			}
			e.matchPending(code, bar)
			s.DeliverBar(bar)
		}
		equityCurve = append(equityCurve, EquityPoint{Date: dateSet[key], Equity: e.totalEquity()})
	}

	return e.summarize(equityCurve)
}

func (e *Engine) totalEquity() decimal.Decimal {
	total := decimal.Zero
	for _, s := range e.Strategies {
		total = total.Add(s.TotalValue())
	}
	return total
}

func (e *Engine) matchPending(code string, bar model.Bar) {
	still := e.pending[code][:0]
	for _, o := range e.pending[code] {
		fill, ok := matching.TryFillAgainstBar(o, bar, e.CommissionRate, e.Slippage)
		if !ok {
			still = append(still, o)
			continue
		}
		o.Status = model.Filled
		o.FilledQuantity = o.Quantity
		o.FilledAvgPrice = fill.Price
		o.UpdatedAt = bar.Time

		trade := model.Trade{
			OrderID:    o.ID,
			Code:       code,
			Side:       o.Side,
			Price:      fill.Price,
			Quantity:   o.Quantity,
			Commission: fill.Commission,
			ExecutedAt: bar.Time,
		}
		e.trackFIFO(code, o, trade)
		e.Strategies[code].DeliverFill(o, trade)
	}
	e.pending[code] = still
}

// trackFIFO maintains the per-code FIFO BUY queue for realized-P&L
// metrics: each SELL pops the oldest BUY and records
// (sell-buy)*qty - both commissions.
func (e *Engine) trackFIFO(code string, o model.Order, t model.Trade) {
	if o.Side == model.SideBuy {
		e.fifo[code] = append(e.fifo[code], buyLotFIFO{price: t.Price, qty: t.Quantity, commission: t.Commission})
		return
	}
	remaining := t.Quantity
	queue := e.fifo[code]
	for remaining > 0 && len(queue) > 0 {
		lot := queue[0]
		qty := remaining
		if lot.qty < qty {
			qty = lot.qty
		}
		// Both commissions are prorated by the share of each trade matched here.
		q := decimal.NewFromInt(qty)
		buyCommission := lot.commission.Mul(q).Div(decimal.NewFromInt(lot.qty))
		sellCommission := t.Commission.Mul(q).Div(decimal.NewFromInt(t.Quantity))
		pnl := t.Price.Sub(lot.price).Mul(q).Sub(buyCommission).Sub(sellCommission)
		f, _ := pnl.Float64()
		e.realized = append(e.realized, f)
		lot.commission = lot.commission.Sub(buyCommission)
		lot.qty -= qty
		remaining -= qty
		if lot.qty == 0 {
			queue = queue[1:]
		} else {
			queue[0] = lot
		}
	}
	e.fifo[code] = queue
}

func (e *Engine) summarize(equityCurve []EquityPoint) Result {
	r := Result{EquityCurve: equityCurve}
	if len(equityCurve) == 0 {
		return r
	}
	initial := equityCurve[0].Equity
	final := equityCurve[len(equityCurve)-1].Equity

	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev, _ := equityCurve[i-1].Equity.Float64()
		cur, _ := equityCurve[i].Equity.Float64()
		if prev != 0 {
			returns = append(returns, (cur-prev)/prev)
		}
	}
	r.DailyReturns = returns

	if !initial.IsZero() {
		tr, _ := final.Sub(initial).Div(initial).Float64()
		r.TotalReturn = tr
	}
	n := len(equityCurve)
	if n > 1 {
		r.AnnualizedReturn = math.Pow(1+r.TotalReturn, 252.0/float64(n)) - 1
	}
	r.VolatilityAnnualized = stdev(returns) * math.Sqrt(252)
	r.MaxDrawdown = maxDrawdown(equityCurve)
	if r.VolatilityAnnualized > 0 {
		r.Sharpe = (r.AnnualizedReturn - 0.03) / r.VolatilityAnnualized
	}
	if r.MaxDrawdown > 0 {
		r.Calmar = r.AnnualizedReturn / r.MaxDrawdown
	}

	var wins, losses []float64
	for _, pnl := range e.realized {
		if pnl > 0 {
			wins = append(wins, pnl)
		} else if pnl < 0 {
			losses = append(losses, pnl)
		}
	}
	r.TotalTrades = len(e.realized)
	r.WinTrades = len(wins)
	r.LossTrades = len(losses)
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinTrades) / float64(r.TotalTrades)
	}
	r.AvgProfit, r.MaxProfit = meanMax(wins)
	r.AvgLoss, r.MaxLoss = meanMin(losses)
	if r.AvgLoss != 0 {
		r.ProfitLossRatio = math.Abs(r.AvgProfit / r.AvgLoss)
	}
	return r
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sumSq float64
	for _, x := range xs {
		sumSq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func maxDrawdown(curve []EquityPoint) float64 {
	peak := curve[0].Equity
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if peak.IsPositive() {
			dd, _ := peak.Sub(p.Equity).Div(peak).Float64()
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func meanMax(xs []float64) (mean, max float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	max = xs[0]
	for _, x := range xs {
		mean += x
		if x > max {
			max = x
		}
	}
	return mean / float64(len(xs)), max
}

func meanMin(xs []float64) (mean, min float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	min = xs[0]
	for _, x := range xs {
		mean += x
		if x < min {
			min = x
		}
	}
	return mean / float64(len(xs)), min
}

// LoadCSV loads OHLCV rows for one code from a CSV file with a flexible
// header (time|date, open, high, low, close, volume, turnover?).
// Grounded on the teacher's backtest.go loadCSV/parseTimeFlexible.
func LoadCSV(path string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("backtest: %s has no data rows", path)
	}
	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	col := func(names ...string) (int, bool) {
		for _, n := range names {
			if i, ok := idx[n]; ok {
				return i, true
			}
		}
		return 0, false
	}
	timeIdx, _ := col("time", "date", "datetime")
	openIdx, _ := col("open")
	highIdx, _ := col("high")
	lowIdx, _ := col("low")
	closeIdx, _ := col("close")
	volIdx, _ := col("volume", "vol")
	turnIdx, hasTurn := col("turnover", "amount")

	var bars []model.Bar
	for _, row := range rows[1:] {
		t, err := parseTimeFlexible(row[timeIdx])
		if err != nil {
			continue
		}
		bar := model.Bar{
			Time:   t,
			Open:   parseDecimal(row[openIdx]),
			High:   parseDecimal(row[highIdx]),
			Low:    parseDecimal(row[lowIdx]),
			Close:  parseDecimal(row[closeIdx]),
			Volume: parseDecimal(row[volIdx]),
		}
		if hasTurn {
			bar.Turnover = parseDecimal(row[turnIdx])
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseTimeFlexible accepts RFC3339, "YYYY-MM-DD[ HH:MM:SS]", or epoch
// seconds, matching the parsing tolerances of §4.E.2 carried into the
// CSV ingestion path too.
func parseTimeFlexible(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.UnixMilli(sec).UTC(), nil
		}
		return time.Unix(sec, 0).UTC(), nil
	}
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}
