// Package strategy implements the Strategy Abstraction of §4.B: the
// capability surface (buy/sell/cancel, history access, callbacks) that
// the Strategy Runtime drives and that user strategies build on.
//
// Per §9's design note on dynamic user-code loading, the workbench picks
// option (a): strategies are statically-linked Go types implementing
// UserStrategy, not compiled from arbitrary source text at runtime.
// Per §9's open question on `_current_code`, Base is single-code: the
// Strategy Runtime creates one instance per code (internal/runtime).
package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/astraquant/workbench/internal/model"
)

// maxBarHistory bounds the rolling bar window (§5: "bound it, e.g. last
// 2000 entries, to prevent unbounded growth in long sessions").
const maxBarHistory = 2000

// UserStrategy is what user-written strategies implement. Only OnBar is
// mandatory; the rest are optional hooks a strategy may no-op.
type UserStrategy interface {
	OnBar(b *Base, bar model.Bar)
	OnTrade(b *Base, order model.Order, trade model.Trade)
	OnOrder(b *Base, order model.Order)
	OnStart(b *Base)
	OnStop(b *Base)
}

// NoopHooks can be embedded by strategies that only care about OnBar.
type NoopHooks struct{}

func (NoopHooks) OnTrade(*Base, model.Order, model.Trade) {}
func (NoopHooks) OnOrder(*Base, model.Order)              {}
func (NoopHooks) OnStart(*Base)                           {}
func (NoopHooks) OnStop(*Base)                            {}

// Base implements the §4.B capability surface. It is single-code: one
// Base instance is bound to exactly one code for its lifetime.
type Base struct {
	mu sync.Mutex

	Code   string
	Params map[string]float64

	cash       decimal.Decimal
	totalValue decimal.Decimal
	position   model.Position
	bars       []model.Bar

	pendingOrders map[string]model.Order

	onOrderIntent   func(model.Order)
	onTradeConfirm  func(model.Order, model.Trade)
	onLog           func(string)

	user UserStrategy
	now  func() time.Time
}

// NewBase builds a Base bound to code, delegating bar/trade/order
// lifecycle hooks to user.
func NewBase(code string, user UserStrategy) *Base {
	return &Base{
		Code:          code,
		Params:        make(map[string]float64),
		pendingOrders: make(map[string]model.Order),
		user:          user,
		now:           time.Now,
	}
}

// SetCapital establishes initial cash and total_value.
func (b *Base) SetCapital(cash decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash = cash
	b.totalValue = cash
}

// SetCallbacks wires the externally-injected sinks.
func (b *Base) SetCallbacks(onOrderIntent func(model.Order), onTradeConfirmed func(model.Order, model.Trade), onLog func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onOrderIntent = onOrderIntent
	b.onTradeConfirm = onTradeConfirmed
	b.onLog = onLog
}

// Start invokes the user's on_start hook, if any.
func (b *Base) Start() {
	if b.user != nil {
		b.user.OnStart(b)
	}
}

// Stop invokes the user's on_stop hook, if any.
func (b *Base) Stop() {
	if b.user != nil {
		b.user.OnStop(b)
	}
}

// DeliverBar pushes a bar into the rolling history (bounded to
// maxBarHistory) and invokes the user callback.
func (b *Base) DeliverBar(bar model.Bar) {
	b.mu.Lock()
	b.bars = append(b.bars, bar)
	if len(b.bars) > maxBarHistory {
		b.bars = b.bars[len(b.bars)-maxBarHistory:]
	}
	if !b.position.Price.Equal(bar.Close) {
		b.position.Price = bar.Close
	}
	b.mu.Unlock()

	if b.user != nil {
		b.user.OnBar(b, bar)
	}
}

// DeliverFill updates cash and the position on a fill and drops the order
// from the locally tracked pending set. It does not change the Status of
// the order it is given; callbacks receive that order as passed in.
// BUY subtracts price*qty+commission; SELL adds price*qty-commission.
// Position uses weighted-average cost on add, deletion (zeroing) on
// reaching zero quantity.
func (b *Base) DeliverFill(order model.Order, trade model.Trade) {
	b.mu.Lock()
	cost := trade.Price.Mul(decimal.NewFromInt(trade.Quantity))
	switch order.Side {
	case model.SideBuy:
		b.cash = b.cash.Sub(cost).Sub(trade.Commission)
		if b.position.Quantity == 0 {
			b.position = model.Position{Code: b.Code, Quantity: trade.Quantity, AverageCost: trade.Price, Price: trade.Price}
		} else {
			totalCost := b.position.AverageCost.Mul(decimal.NewFromInt(b.position.Quantity)).Add(cost)
			newQty := b.position.Quantity + trade.Quantity
			b.position.AverageCost = totalCost.Div(decimal.NewFromInt(newQty))
			b.position.Quantity = newQty
			b.position.Price = trade.Price
		}
	case model.SideSell:
		b.cash = b.cash.Add(cost).Sub(trade.Commission)
		b.position.Quantity -= trade.Quantity
		b.position.Price = trade.Price
		if b.position.Quantity <= 0 {
			b.position = model.Position{}
		}
	}
	b.totalValue = b.cash.Add(b.position.MarketValue())
	delete(b.pendingOrders, order.ID)
	b.mu.Unlock()

	if b.onTradeConfirm != nil {
		b.onTradeConfirm(order, trade)
	}
	if b.user != nil {
		b.user.OnTrade(b, order, trade)
	}
}

func (b *Base) log(format string, args ...any) {
	if b.onLog != nil {
		b.onLog(fmt.Sprintf(format, args...))
	}
}

// Buy normalizes qty to a 100-lot multiple, pre-checks cash, builds a
// SUBMITTED order with a locally-unique id, and emits it through
// onOrderIntent. Rejections are logged and return nothing (the strategy
// never sees an error value — matching §4.B's "Rejections are logged and
// return nothing").
func (b *Base) Buy(price decimal.Decimal, qty int64, orderType model.OrderType) {
	b.order(model.SideBuy, price, qty, orderType)
}

// Sell mirrors Buy for the sell side.
func (b *Base) Sell(price decimal.Decimal, qty int64, orderType model.OrderType) {
	b.order(model.SideSell, price, qty, orderType)
}

func (b *Base) order(side model.Side, price decimal.Decimal, qty int64, orderType model.OrderType) {
	normalized := model.NormalizeQuantity(qty)
	if normalized <= 0 {
		b.log("order rejected: quantity %d normalizes to 0 (below 100-lot)", qty)
		return
	}

	b.mu.Lock()
	if side == model.SideBuy {
		needed := price.Mul(decimal.NewFromInt(normalized))
		if needed.GreaterThan(b.cash) {
			b.mu.Unlock()
			b.log("order rejected: insufficient cash for BUY %d@%s", normalized, price.String())
			return
		}
	} else {
		if normalized > b.position.Quantity {
			b.mu.Unlock()
			b.log("order rejected: SELL %d exceeds held position %d", normalized, b.position.Quantity)
			return
		}
	}

	now := b.now()
	o := model.Order{
		ID:        uuid.NewString(),
		Code:      b.Code,
		Side:      side,
		Price:     price,
		Quantity:  normalized,
		Type:      orderType,
		Status:    model.Submitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.pendingOrders[o.ID] = o
	cb := b.onOrderIntent
	b.mu.Unlock()

	if cb != nil {
		cb(o)
	}
}

// Cancel transitions a locally-tracked SUBMITTED order to CANCELLED.
func (b *Base) Cancel(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.pendingOrders[orderID]
	if !ok || o.Status.Terminal() {
		return false
	}
	o.Status = model.Cancelled
	o.UpdatedAt = b.now()
	b.pendingOrders[orderID] = o
	return true
}

// Position returns the current holding for this strategy's code.
func (b *Base) Position() model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

// TotalValue returns cash + position market value.
func (b *Base) TotalValue() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalValue
}

// Cash returns current available cash.
func (b *Base) Cash() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// GetCloseSeries returns up to the last n closes, oldest first.
func (b *Base) GetCloseSeries(n int) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	window := lastN(b.bars, n)
	out := make([]float64, len(window))
	for i, bar := range window {
		out[i], _ = bar.Close.Float64()
	}
	return out
}

// GetBarWindow returns up to the last n bars, oldest first.
func (b *Base) GetBarWindow(n int) []model.Bar {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lastN(b.bars, n)
}

func lastN(bars []model.Bar, n int) []model.Bar {
	if n <= 0 || len(bars) == 0 {
		return nil
	}
	if n > len(bars) {
		n = len(bars)
	}
	out := make([]model.Bar, n)
	copy(out, bars[len(bars)-n:])
	return out
}
