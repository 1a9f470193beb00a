// Package broker implements the Broker Abstraction of §4.E: a uniform
// interface over a simulated matcher and REST gateways to real
// counterparties, plus the trading-engine supervisor that wires a
// broker's upward callbacks into the rest of the workbench.
//
// Grounded on original_source/core/trader/broker.py (BrokerTrader,
// SimulatedBroker, TradingEngine) and rest_client.py (RestBrokerBase),
// restated as Go interfaces/structs in the teacher's concurrency idiom
// (mutex-guarded state, callback fan-out, background goroutines
// instead of daemon threads).
package broker

import (
	"context"

	"github.com/astraquant/workbench/internal/model"
)

// Broker is the uniform trading surface the Strategy Runtime drives.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Login(ctx context.Context) error
	Logout()

	SendOrder(ctx context.Context, code string, side model.Side, price float64, quantity int64, orderType model.OrderType) model.OrderResult
	CancelOrder(orderID string) bool
	ModifyOrder(orderID string, price *float64, quantity *int64) bool

	QueryAccount(ctx context.Context) (model.AccountInfo, error)
	QueryPositions(ctx context.Context) ([]model.Position, error)
	QueryOrders(ctx context.Context, status *model.OrderStatus) ([]model.Order, error)
	QueryTrades(ctx context.Context) ([]model.Trade, error)

	SellableQuantity(code string) int64

	IsConnected() bool
	IsLoggedIn() bool

	SetCallbacks(cb Callbacks)
}

// Callbacks are the upward notifications a Broker emits. Every field is
// optional; a nil callback is simply not invoked.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnLogin        func()
	OnLogout       func()
	OnOrderUpdate  func(model.Order)
	OnTradeUpdate  func(model.Trade)
	OnPositionUpdate func(model.Position)
	OnAccountUpdate func(model.AccountInfo)
	OnError        func(string)
}

func (c Callbacks) fireConnected() {
	if c.OnConnected != nil {
		c.OnConnected()
	}
}

func (c Callbacks) fireDisconnected() {
	if c.OnDisconnected != nil {
		c.OnDisconnected()
	}
}

func (c Callbacks) fireLogin() {
	if c.OnLogin != nil {
		c.OnLogin()
	}
}

func (c Callbacks) fireLogout() {
	if c.OnLogout != nil {
		c.OnLogout()
	}
}

func (c Callbacks) notifyOrder(o model.Order) {
	if c.OnOrderUpdate != nil {
		c.OnOrderUpdate(o)
	}
}

func (c Callbacks) notifyTrade(t model.Trade) {
	if c.OnTradeUpdate != nil {
		c.OnTradeUpdate(t)
	}
}

func (c Callbacks) notifyPosition(p model.Position) {
	if c.OnPositionUpdate != nil {
		c.OnPositionUpdate(p)
	}
}

func (c Callbacks) notifyAccount(a model.AccountInfo) {
	if c.OnAccountUpdate != nil {
		c.OnAccountUpdate(a)
	}
}

func (c Callbacks) notifyError(msg string) {
	if c.OnError != nil {
		c.OnError(msg)
	}
}

// Engine is the trading-engine supervisor of §4.E.3: it owns exactly
// one Broker and re-exposes its operations gated on a running flag, so
// a paused runtime simply stops calling through rather than needing a
// broker-level pause primitive.
type Engine struct {
	broker  Broker
	trading bool

	OnOrder    func(model.Order)
	OnTrade    func(model.Trade)
	OnPosition func(model.Position)
	OnAccount  func(model.AccountInfo)
}

func NewEngine() *Engine {
	return &Engine{}
}

// SetBroker wires broker's callbacks into the engine's own re-exposed
// callbacks.
func (e *Engine) SetBroker(b Broker) {
	e.broker = b
	b.SetCallbacks(Callbacks{
		OnOrderUpdate:    func(o model.Order) { e.dispatchOrder(o) },
		OnTradeUpdate:    func(t model.Trade) { e.dispatchTrade(t) },
		OnPositionUpdate: func(p model.Position) { e.dispatchPosition(p) },
		OnAccountUpdate:  func(a model.AccountInfo) { e.dispatchAccount(a) },
	})
}

func (e *Engine) dispatchOrder(o model.Order) {
	if e.OnOrder != nil {
		e.OnOrder(o)
	}
}

func (e *Engine) dispatchTrade(t model.Trade) {
	if e.OnTrade != nil {
		e.OnTrade(t)
	}
}

func (e *Engine) dispatchPosition(p model.Position) {
	if e.OnPosition != nil {
		e.OnPosition(p)
	}
}

func (e *Engine) dispatchAccount(a model.AccountInfo) {
	if e.OnAccount != nil {
		e.OnAccount(a)
	}
}

func (e *Engine) Connect(ctx context.Context) error {
	if e.broker == nil {
		return model.ErrState
	}
	return e.broker.Connect(ctx)
}

func (e *Engine) Login(ctx context.Context) error {
	if e.broker == nil {
		return model.ErrState
	}
	return e.broker.Login(ctx)
}

func (e *Engine) Disconnect() error {
	if e.broker == nil {
		return nil
	}
	return e.broker.Disconnect()
}

func (e *Engine) StartTrading() { e.trading = true }
func (e *Engine) StopTrading()  { e.trading = false }
func (e *Engine) IsTrading() bool { return e.trading }

func (e *Engine) Buy(ctx context.Context, code string, price float64, qty int64, orderType model.OrderType) model.OrderResult {
	return e.order(ctx, code, model.SideBuy, price, qty, orderType)
}

func (e *Engine) Sell(ctx context.Context, code string, price float64, qty int64, orderType model.OrderType) model.OrderResult {
	return e.order(ctx, code, model.SideSell, price, qty, orderType)
}

func (e *Engine) order(ctx context.Context, code string, side model.Side, price float64, qty int64, orderType model.OrderType) model.OrderResult {
	if !e.trading {
		return model.OrderResult{Success: false, Message: "trading not started"}
	}
	if e.broker == nil || !e.broker.IsLoggedIn() {
		return model.OrderResult{Success: false, Message: "not logged in"}
	}
	return e.broker.SendOrder(ctx, code, side, price, qty, orderType)
}

func (e *Engine) Cancel(orderID string) bool {
	if e.broker == nil {
		return false
	}
	return e.broker.CancelOrder(orderID)
}

func (e *Engine) Account(ctx context.Context) (model.AccountInfo, error) {
	if e.broker == nil {
		return model.AccountInfo{}, model.ErrState
	}
	return e.broker.QueryAccount(ctx)
}

func (e *Engine) Positions(ctx context.Context) ([]model.Position, error) {
	if e.broker == nil {
		return nil, model.ErrState
	}
	return e.broker.QueryPositions(ctx)
}

func (e *Engine) SellableQuantity(code string) int64 {
	if e.broker == nil {
		return 0
	}
	return e.broker.SellableQuantity(code)
}
