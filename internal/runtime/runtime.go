// Package runtime implements the Strategy Runtime of §4.G: the glue that
// turns a per-symbol strategy assignment into a running live session,
// wiring internal/fanout, internal/strategy, internal/broker, and
// internal/risk together.
//
// Grounded directly on original_source/core/runtime/strategy_runner.py
// (StrategyRunner): the same eight-step start sequence, the same
// order_id -> strategy cross-reference, the same risk-then-broker
// routing order for on_strategy_order, restated in the teacher's
// mutex-guarded-state idiom instead of a GUI-callback object.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/astraquant/workbench/internal/broker"
	"github.com/astraquant/workbench/internal/fanout"
	"github.com/astraquant/workbench/internal/model"
	"github.com/astraquant/workbench/internal/risk"
	"github.com/astraquant/workbench/internal/strategy"
)

// StrategyFactory builds a fresh strategy.UserStrategy for the given
// strategy name, bound by the caller to code in the returned Base.
type StrategyFactory func(code, name string) (strategy.UserStrategy, error)

// BrokerFactory builds the broker.Broker the session will trade through.
type BrokerFactory func() (broker.Broker, error)

// SourceFactory builds the fanout.Source that will drive hub for the
// given set of subscribed codes.
type SourceFactory func(codes []string, hub *fanout.Hub) (fanout.Source, error)

// Config configures a Runtime. All factory fields are required before
// calling Start.
type Config struct {
	Hub *fanout.Hub

	StrategyFactory StrategyFactory
	BrokerFactory   BrokerFactory
	SourceFactory   SourceFactory

	InitialCapital decimal.Decimal
	RiskConfig     model.RiskConfig
	RiskJournal    string

	// AutoExecute mirrors config's strategy_auto_execute (§6): when
	// false, accepted order intents are parked as PENDING and handed to
	// OnSemiAutoOrder instead of being routed to the broker.
	AutoExecute bool

	// SummaryInterval drives the periodic risk/account refresh ticker of
	// §5's "Strategy Runtime periodic timer" (~2s default).
	SummaryInterval time.Duration

	Log zerolog.Logger
}

// Runtime is the Strategy Runtime of §4.G.
type Runtime struct {
	cfg Config

	mu               sync.Mutex
	running          bool
	riskPausedReason string

	risk       *risk.Gate
	engine     *broker.Engine
	source     fanout.Source
	snapshotCB int

	strategies   map[string]*strategy.Base
	latestPrices map[string]decimal.Decimal
	positions    map[string]model.Position
	lastAccount  model.AccountInfo
	codes        []string

	// orderOwner cross-references a broker order id to the code whose
	// strategy emitted it (strategy_runner.py's _order_strategy_map).
	orderOwner map[string]string
	// orders mirrors strategy_runner.py's _order_map: the runtime's own
	// copy of an order, kept in sync as broker callbacks arrive.
	orders map[string]model.Order

	cancel context.CancelFunc
	done   chan struct{}

	// OnSemiAutoOrder is the UI signal sink for semi-auto mode (§4.G step
	// 3 of on_strategy_order): invoked instead of routing to the broker
	// when AutoExecute is false.
	OnSemiAutoOrder func(model.Order)
	// OnRiskAlert forwards risk.Gate alerts, e.g. to a notification bus.
	OnRiskAlert func(model.RiskAlert)
}

// New builds a Runtime from cfg. Start must be called before it does
// anything.
func New(cfg Config) *Runtime {
	if cfg.SummaryInterval <= 0 {
		cfg.SummaryInterval = 2 * time.Second
	}
	return &Runtime{
		cfg:          cfg,
		engine:       broker.NewEngine(),
		strategies:   make(map[string]*strategy.Base),
		latestPrices: make(map[string]decimal.Decimal),
		positions:    make(map[string]model.Position),
		orderOwner:   make(map[string]string),
		orders:       make(map[string]model.Order),
	}
}

// IsRunning reports whether a session is active.
func (r *Runtime) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start implements §4.G's eight-step sequence: build strategies, connect
// the broker, connect and subscribe the data source, and begin
// delivering bars.
func (r *Runtime) Start(ctx context.Context, assignments map[string]string) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("%w: runtime already running", model.ErrState)
	}
	if len(assignments) == 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: at least one code assignment is required", model.ErrValidation)
	}
	r.mu.Unlock()

	// Step 2: fresh Risk Gate.
	gate := risk.New(r.cfg.RiskConfig, r.cfg.RiskJournal, r.cfg.Log)
	gate.OnAlert = r.handleRiskAlert
	gate.OnStopTrading = r.handleRiskStop

	strategies := make(map[string]*strategy.Base, len(assignments))
	codes := make([]string, 0, len(assignments))

	// Step 3: build a strategy instance per (code, name).
	for code, name := range assignments {
		user, err := r.cfg.StrategyFactory(code, name)
		if err != nil {
			return fmt.Errorf("%w: strategy %q for %s: %v", model.ErrValidation, name, code, err)
		}
		base := strategy.NewBase(code, user)
		base.SetCapital(r.cfg.InitialCapital)
		base.SetCallbacks(
			func(o model.Order) { r.onStrategyOrder(code, o) },
			func(o model.Order, t model.Trade) { r.onStrategyTrade(t) },
			func(msg string) { r.cfg.Log.Info().Str("code", code).Msg(msg) },
		)
		strategies[code] = base
		codes = append(codes, code)
	}

	// Step 4: build and connect the broker.
	brk, err := r.cfg.BrokerFactory()
	if err != nil {
		return fmt.Errorf("%w: building broker: %v", model.ErrState, err)
	}
	r.engine = broker.NewEngine()
	r.engine.SetBroker(brk)
	r.engine.OnOrder = r.onBrokerOrder
	r.engine.OnTrade = r.onBrokerTrade
	r.engine.OnPosition = r.onBrokerPosition
	r.engine.OnAccount = r.onBrokerAccount

	// Step 5: connect, login, start trading; snapshot initial state.
	if err := r.engine.Connect(ctx); err != nil {
		return fmt.Errorf("%w: broker connect: %v", model.ErrState, err)
	}
	if err := r.engine.Login(ctx); err != nil {
		return fmt.Errorf("%w: broker login: %v", model.ErrState, err)
	}
	r.engine.StartTrading()
	r.refreshPositions(ctx)
	if acc, err := r.engine.Account(ctx); err == nil {
		r.updateAccountState(acc)
	}

	// Step 6: build, connect, and start the data source; subscribe codes.
	hub := r.cfg.Hub
	if hub == nil {
		hub = fanout.New(r.cfg.Log)
	}
	source, err := r.cfg.SourceFactory(codes, hub)
	if err != nil {
		r.engine.Disconnect()
		return fmt.Errorf("%w: building data source: %v", model.ErrState, err)
	}
	if err := source.Connect(ctx); err != nil {
		r.engine.Disconnect()
		return fmt.Errorf("%w: data source connect: %v", model.ErrState, err)
	}
	for _, code := range codes {
		hub.Subscribe(code)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := source.Start(runCtx); err != nil {
		cancel()
		r.engine.Disconnect()
		return fmt.Errorf("%w: data source start: %v", model.ErrState, err)
	}

	// Step 7: register the snapshot callback.
	snapshotCB := hub.AddSnapshotCallback("", func(code string, snap model.Snapshot) {
		r.onSnapshot(code, snap)
	})

	r.mu.Lock()
	r.risk = gate
	r.strategies = strategies
	r.codes = codes
	r.cfg.Hub = hub
	r.source = source
	r.snapshotCB = snapshotCB
	r.cancel = cancel
	r.running = true
	r.riskPausedReason = ""
	r.orders = make(map[string]model.Order)
	r.orderOwner = make(map[string]string)
	r.latestPrices = make(map[string]decimal.Decimal)
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	for _, base := range strategies {
		base.Start()
	}

	go r.summaryLoop(runCtx, done)

	// Step 8.
	r.cfg.Log.Info().Strs("codes", codes).Msg("strategy runtime started")
	return nil
}

// Stop implements §4.G's Stop: unsubscribe, stop the data source,
// stop+disconnect the broker, clear session tables.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	hub := r.cfg.Hub
	source := r.source
	snapshotCB := r.snapshotCB
	codes := r.codes
	cancel := r.cancel
	done := r.done
	strategies := r.strategies
	r.running = false
	r.mu.Unlock()

	if hub != nil {
		hub.RemoveCallback(snapshotCB)
		for _, code := range codes {
			hub.Unsubscribe(code)
		}
	}
	if source != nil {
		_ = source.Stop()
		_ = source.Disconnect()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	for _, base := range strategies {
		base.Stop()
	}

	r.engine.StopTrading()
	_ = r.engine.Disconnect()

	r.mu.Lock()
	r.strategies = make(map[string]*strategy.Base)
	r.codes = nil
	r.orders = make(map[string]model.Order)
	r.orderOwner = make(map[string]string)
	r.mu.Unlock()

	r.cfg.Log.Info().Msg("strategy runtime stopped")
}

// onSnapshot is §4.G step 7's registered callback: cache latest price,
// update the matching Position's current price, run the risk gate's
// position check, build a Bar and deliver it to the owning strategy.
func (r *Runtime) onSnapshot(code string, snap model.Snapshot) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.latestPrices[code] = snap.Last
	gate := r.risk
	pos, hasPos := r.positions[code]
	if hasPos {
		pos.Price = snap.Last
		r.positions[code] = pos
	}
	base := r.strategies[code]
	r.mu.Unlock()

	if hasPos && gate != nil {
		for _, a := range gate.CheckPosition(pos) {
			r.handleRiskAlert(a)
		}
	}
	if base != nil {
		base.DeliverBar(snap.ToBar())
	}
}

// onStrategyOrder implements §4.G's on_strategy_order.
func (r *Runtime) onStrategyOrder(code string, order model.Order) {
	r.mu.Lock()
	running := r.running
	gate := r.risk
	autoExecute := r.cfg.AutoExecute
	r.mu.Unlock()

	if !running || !r.engine.IsTrading() {
		r.cfg.Log.Info().Str("code", code).Msg("trading not started, dropping order intent")
		return
	}

	allowed, reason := r.checkRiskBeforeOrder(gate, order)
	if !allowed {
		order.Status = model.Rejected
		order.RejectReason = reason
		r.cfg.Log.Warn().Str("code", code).Str("reason", reason).Msg("risk gate rejected order")
		return
	}

	if !autoExecute {
		order.Status = model.Pending
		r.cfg.Log.Info().Str("code", code).Msg("order parked pending manual confirmation (semi-auto mode)")
		if r.OnSemiAutoOrder != nil {
			r.OnSemiAutoOrder(order)
		}
		return
	}

	price, _ := order.Price.Float64()
	var result model.OrderResult
	if order.Side == model.SideBuy {
		result = r.engine.Buy(context.Background(), code, price, order.Quantity, order.Type)
	} else {
		result = r.engine.Sell(context.Background(), code, price, order.Quantity, order.Type)
	}

	if !result.Success {
		order.Status = model.Rejected
		order.RejectReason = result.Message
		r.cfg.Log.Warn().Str("code", code).Str("reason", result.Message).Msg("broker rejected order")
		return
	}

	if result.Order != nil {
		order.ID = result.Order.ID
		r.mu.Lock()
		r.orders[order.ID] = order
		r.orderOwner[order.ID] = code
		r.mu.Unlock()
	}
	r.cfg.Log.Info().Str("code", code).Str("side", order.Side.String()).Int64("qty", order.Quantity).Msg("strategy order submitted")
}

// checkRiskBeforeOrder mirrors _check_risk_before_order: a T+1
// sellable-quantity check ahead of the general risk_manager.check_order
// (grounded on strategy_runner.py's separate sellable_qty guard).
func (r *Runtime) checkRiskBeforeOrder(gate *risk.Gate, order model.Order) (bool, string) {
	if order.Side == model.SideSell {
		if r.engine.SellableQuantity(order.Code) < order.Quantity {
			return false, "T+1 restriction: shares bought today are not sellable until the next trading day"
		}
	}
	if gate == nil {
		return true, ""
	}

	r.mu.Lock()
	cash := r.lastAccount.Cash
	totalValue := r.lastAccount.TotalValue
	positions := make(map[string]model.Position, len(r.positions))
	for c, p := range r.positions {
		if price, ok := r.latestPrices[c]; ok {
			p.Price = price
		}
		positions[c] = p
	}
	currentPrice := r.latestPrices[order.Code]
	r.mu.Unlock()

	if totalValue.IsZero() || totalValue.IsNegative() {
		total := cash
		for _, p := range positions {
			total = total.Add(p.MarketValue())
		}
		totalValue = total
	}
	if currentPrice.IsZero() {
		currentPrice = order.Price
	}
	return gate.CheckOrder(order, positions, cash, totalValue, currentPrice)
}

// onStrategyTrade handles a strategy-side trade confirmation: bump the
// risk gate's trade counter, then refresh positions/account.
func (r *Runtime) onStrategyTrade(model.Trade) {
	r.mu.Lock()
	gate := r.risk
	r.mu.Unlock()
	if gate != nil {
		gate.OnTradeCompleted()
	}
	r.refreshPositions(context.Background())
	if acc, err := r.engine.Account(context.Background()); err == nil {
		r.updateAccountState(acc)
	}
}

// onBrokerOrder mirrors a broker order-status callback onto the
// runtime's own order-id-keyed copy.
func (r *Runtime) onBrokerOrder(o model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.orders[o.ID]; ok {
		existing.Status = o.Status
		existing.FilledQuantity = o.FilledQuantity
		existing.FilledAvgPrice = o.FilledAvgPrice
		existing.UpdatedAt = o.UpdatedAt
		r.orders[o.ID] = existing
	}
}

// onBrokerTrade finds the owning strategy by order id and delivers the
// fill, then refreshes positions/account.
func (r *Runtime) onBrokerTrade(t model.Trade) {
	r.mu.Lock()
	order, hasOrder := r.orders[t.OrderID]
	code := r.orderOwner[t.OrderID]
	if code == "" {
		code = t.Code
	}
	base := r.strategies[code]
	delete(r.orderOwner, t.OrderID)
	r.mu.Unlock()

	if base != nil && hasOrder {
		base.DeliverFill(order, t)
	}

	r.cfg.Log.Info().Str("code", t.Code).Str("side", t.Side.String()).
		Str("price", t.Price.StringFixed(2)).Int64("qty", t.Quantity).Msg("trade executed")

	r.refreshPositions(context.Background())
	if acc, err := r.engine.Account(context.Background()); err == nil {
		r.updateAccountState(acc)
	}
}

func (r *Runtime) onBrokerPosition(p model.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Quantity <= 0 {
		delete(r.positions, p.Code)
		return
	}
	if price, ok := r.latestPrices[p.Code]; ok {
		p.Price = price
	}
	r.positions[p.Code] = p
}

func (r *Runtime) onBrokerAccount(a model.AccountInfo) {
	r.updateAccountState(a)
}

func (r *Runtime) refreshPositions(ctx context.Context) {
	positions, err := r.engine.Positions(ctx)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = make(map[string]model.Position, len(positions))
	for _, p := range positions {
		r.positions[p.Code] = p
	}
}

// updateAccountState mirrors _update_account_state: record the account,
// advance the risk gate's peak value, and check drawdown.
func (r *Runtime) updateAccountState(acc model.AccountInfo) {
	r.mu.Lock()
	r.lastAccount = acc
	gate := r.risk
	positions := make(map[string]model.Position, len(r.positions))
	for c, p := range r.positions {
		positions[c] = p
	}
	r.mu.Unlock()
	if gate == nil {
		return
	}

	totalValue := acc.TotalValue
	if totalValue.IsZero() || totalValue.IsNegative() {
		total := acc.Cash
		for _, p := range positions {
			total = total.Add(p.MarketValue())
		}
		totalValue = total
	}
	gate.UpdatePeakValue(totalValue)
	gate.CheckDrawdown(totalValue)
}

func (r *Runtime) handleRiskAlert(a model.RiskAlert) {
	r.cfg.Log.Warn().Str("level", a.Level.String()).Str("code", a.Code).Msg(a.Message)
	if r.OnRiskAlert != nil {
		r.OnRiskAlert(a)
	}
}

// handleRiskStop is the hard-stop hook: a breached drawdown or daily
// loss cut-out stops the whole session, mirroring
// strategy_runner.py's _handle_risk_stop.
func (r *Runtime) handleRiskStop(reason string) {
	r.mu.Lock()
	r.riskPausedReason = reason
	r.mu.Unlock()
	r.cfg.Log.Error().Str("reason", reason).Msg("risk gate triggered a full stop")
	// The hook fires on the summary-loop or broker-callback goroutine,
	// which Stop waits on; stopping from a fresh goroutine avoids waiting
	// on itself.
	go r.Stop()
}

// summaryLoop is §5's "Strategy Runtime periodic timer" (~2s): refreshes
// the risk summary and logs a human-readable equity line, picking up
// drift between push-driven account updates when running against a
// REST broker without real push notifications.
func (r *Runtime) summaryLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.SummaryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if acc, err := r.engine.Account(ctx); err == nil {
				r.updateAccountState(acc)
			}
			summary := r.GetSummary()
			r.cfg.Log.Debug().
				Str("equity", humanize.Commaf(dfloat(summary.LastAccount.TotalValue))).
				Float64("drawdown_pct", summary.Risk.DrawdownPct).
				Int("daily_trades", summary.Risk.DailyTrades).
				Msg("periodic risk/account refresh")
		}
	}
}

// Summary is the §4.G state snapshot getter.
type Summary struct {
	Running          bool
	RiskPausedReason string
	LatestPrices     map[string]decimal.Decimal
	Positions        map[string]model.Position
	LastAccount      model.AccountInfo
	Risk             risk.Summary
}

// GetSummary returns the current runtime snapshot, mirroring
// strategy_runner.py's get_risk_summary.
func (r *Runtime) GetSummary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	prices := make(map[string]decimal.Decimal, len(r.latestPrices))
	for k, v := range r.latestPrices {
		prices[k] = v
	}
	positions := make(map[string]model.Position, len(r.positions))
	for k, v := range r.positions {
		positions[k] = v
	}

	var riskSummary risk.Summary
	if r.risk != nil {
		totalValue := r.lastAccount.TotalValue
		if totalValue.IsZero() {
			total := r.lastAccount.Cash
			for _, p := range positions {
				total = total.Add(p.MarketValue())
			}
			totalValue = total
		}
		riskSummary = r.risk.GetRiskSummary(positions, totalValue)
	}

	return Summary{
		Running:          r.running,
		RiskPausedReason: r.riskPausedReason,
		LatestPrices:     prices,
		Positions:        positions,
		LastAccount:      r.lastAccount,
		Risk:             riskSummary,
	}
}

func dfloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
