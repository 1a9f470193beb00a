package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraquant/workbench/internal/broker"
	"github.com/astraquant/workbench/internal/fanout"
	"github.com/astraquant/workbench/internal/model"
	"github.com/astraquant/workbench/internal/strategy"
)

// fakeBroker is a deterministic, in-test stand-in for broker.Broker:
// SendOrder is fully scripted rather than matched against a market
// price, so order-routing and risk-gate wiring can be asserted without
// depending on the simulated matcher's background tick.
type fakeBroker struct {
	cb              broker.Callbacks
	connected       bool
	loggedIn        bool
	sellable        int64
	sendResult      model.OrderResult
	sentOrders      []model.Order
	account         model.AccountInfo
	positions       []model.Position
}

func (f *fakeBroker) Connect(context.Context) error { f.connected = true; return nil }
func (f *fakeBroker) Disconnect() error              { f.connected, f.loggedIn = false, false; return nil }
func (f *fakeBroker) Login(context.Context) error   { f.loggedIn = true; return nil }
func (f *fakeBroker) Logout()                       { f.loggedIn = false }
func (f *fakeBroker) IsConnected() bool             { return f.connected }
func (f *fakeBroker) IsLoggedIn() bool              { return f.loggedIn }
func (f *fakeBroker) SetCallbacks(cb broker.Callbacks) { f.cb = cb }

func (f *fakeBroker) SendOrder(_ context.Context, code string, side model.Side, price float64, qty int64, orderType model.OrderType) model.OrderResult {
	o := model.Order{ID: "fake1", Code: code, Side: side, Price: decimal.NewFromFloat(price), Quantity: qty, Type: orderType, Status: model.Submitted}
	f.sentOrders = append(f.sentOrders, o)
	if f.sendResult.Order == nil {
		f.sendResult.Order = &o
		f.sendResult.Success = true
	}
	return f.sendResult
}
func (f *fakeBroker) CancelOrder(string) bool                          { return true }
func (f *fakeBroker) ModifyOrder(string, *float64, *int64) bool        { return false }
func (f *fakeBroker) QueryAccount(context.Context) (model.AccountInfo, error) {
	return f.account, nil
}
func (f *fakeBroker) QueryPositions(context.Context) ([]model.Position, error) {
	return f.positions, nil
}
func (f *fakeBroker) QueryOrders(context.Context, *model.OrderStatus) ([]model.Order, error) {
	return nil, nil
}
func (f *fakeBroker) QueryTrades(context.Context) ([]model.Trade, error) { return nil, nil }
func (f *fakeBroker) SellableQuantity(string) int64                     { return f.sellable }

var _ broker.Broker = (*fakeBroker)(nil)

// buyOnFirstBar is a minimal test strategy: it buys once, on the first
// bar it ever sees, and never again.
type buyOnFirstBar struct {
	strategy.NoopHooks
	bought bool
}

func (s *buyOnFirstBar) OnBar(b *strategy.Base, bar model.Bar) {
	if s.bought {
		return
	}
	s.bought = true
	b.Buy(bar.Close, 100, model.Market)
}

// sellOnFirstBar books a 100-share fill into its own ledger and then
// sells those shares, so Base.Sell lets the SELL through to the runtime.
type sellOnFirstBar struct{ strategy.NoopHooks }

func (s *sellOnFirstBar) OnBar(b *strategy.Base, bar model.Bar) {
	b.DeliverFill(model.Order{ID: "seed", Code: b.Code, Side: model.SideBuy, Quantity: 100},
		model.Trade{OrderID: "seed", Code: b.Code, Side: model.SideBuy, Price: bar.Close, Quantity: 100})
	b.Sell(bar.Close, 100, model.Market)
}

func testConfig(t *testing.T, fb *fakeBroker, userStrategy strategy.UserStrategy) Config {
	t.Helper()
	hub := fanout.New(zerolog.Nop())
	return Config{
		Hub: hub,
		StrategyFactory: func(code, name string) (strategy.UserStrategy, error) {
			return userStrategy, nil
		},
		BrokerFactory: func() (broker.Broker, error) { return fb, nil },
		SourceFactory: func(codes []string, hub *fanout.Hub) (fanout.Source, error) {
			bars := []model.Bar{{Time: time.Unix(0, 0), Open: decimal.NewFromInt(10), High: decimal.NewFromInt(10), Low: decimal.NewFromInt(10), Close: decimal.NewFromInt(10)}}
			return fanout.NewCSVReplay(hub, codes[0], bars, 1000, false), nil
		},
		InitialCapital:  decimal.NewFromInt(1000000),
		RiskConfig:      model.DefaultRiskConfig(),
		AutoExecute:     true,
		SummaryInterval: time.Hour,
		Log:             zerolog.Nop(),
	}
}

func TestStartRejectsEmptyAssignments(t *testing.T) {
	rt := New(testConfig(t, &fakeBroker{}, &buyOnFirstBar{}))
	err := rt.Start(context.Background(), map[string]string{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestStartRejectsWhenAlreadyRunning(t *testing.T) {
	fb := &fakeBroker{}
	rt := New(testConfig(t, fb, &buyOnFirstBar{}))
	require.NoError(t, rt.Start(context.Background(), map[string]string{"000001": "buy-on-first-bar"}))
	defer rt.Stop()

	err := rt.Start(context.Background(), map[string]string{"000001": "buy-on-first-bar"})
	assert.ErrorIs(t, err, model.ErrState)
}

// TestStrategyOrderRoutesThroughBrokerAfterRiskGate drives a single CSV
// bar through a strategy that buys on its first bar and asserts the
// order reaches the broker exactly once.
func TestStrategyOrderRoutesThroughBrokerAfterRiskGate(t *testing.T) {
	fb := &fakeBroker{sellable: 0}
	rt := New(testConfig(t, fb, &buyOnFirstBar{}))
	require.NoError(t, rt.Start(context.Background(), map[string]string{"000001": "buy-on-first-bar"}))
	defer rt.Stop()

	require.Eventually(t, func() bool { return len(fb.sentOrders) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, model.SideBuy, fb.sentOrders[0].Side)
	assert.Equal(t, int64(100), fb.sentOrders[0].Quantity)
}

// TestSemiAutoModeParksOrderInsteadOfRouting verifies §4.G step 3: when
// AutoExecute is false the order never reaches the broker, and the
// semi-auto sink is invoked instead.
func TestSemiAutoModeParksOrderInsteadOfRouting(t *testing.T) {
	fb := &fakeBroker{}
	cfg := testConfig(t, fb, &buyOnFirstBar{})
	cfg.AutoExecute = false
	rt := New(cfg)

	var parked []model.Order
	rt.OnSemiAutoOrder = func(o model.Order) { parked = append(parked, o) }

	require.NoError(t, rt.Start(context.Background(), map[string]string{"000001": "buy-on-first-bar"}))
	defer rt.Stop()

	require.Eventually(t, func() bool { return len(parked) == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, fb.sentOrders)
	assert.Equal(t, model.Pending, parked[0].Status)
}

// TestSellRejectedByT1WhenSellableQuantityInsufficient verifies the
// runtime's own pre-broker T+1 guard (mirroring
// strategy_runner.py's _check_risk_before_order sellable-quantity check).
func TestSellRejectedByT1WhenSellableQuantityInsufficient(t *testing.T) {
	fb := &fakeBroker{sellable: 0}
	cfg := testConfig(t, fb, &sellOnFirstBar{})
	// With no minimum interval the gate itself would pass the SELL, so
	// only the sellable-quantity check keeps it from the broker.
	cfg.RiskConfig.MinTradeIntervalSec = 0
	rt := New(cfg)
	require.NoError(t, rt.Start(context.Background(), map[string]string{"000001": "sell-on-first-bar"}))
	defer rt.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, fb.sentOrders)
}

func TestGetSummaryReflectsRunningState(t *testing.T) {
	fb := &fakeBroker{account: model.AccountInfo{Cash: decimal.NewFromInt(1000000), TotalValue: decimal.NewFromInt(1000000)}}
	rt := New(testConfig(t, fb, &buyOnFirstBar{}))
	require.NoError(t, rt.Start(context.Background(), map[string]string{"000001": "buy-on-first-bar"}))

	summary := rt.GetSummary()
	assert.True(t, summary.Running)

	rt.Stop()
	summary = rt.GetSummary()
	assert.False(t, summary.Running)
	assert.Empty(t, summary.RiskPausedReason)
}
