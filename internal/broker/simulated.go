package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/astraquant/workbench/internal/matching"
	"github.com/astraquant/workbench/internal/model"
)

// buyLot is one day's BUY settlement record: quantity bought on
// TradeDate, not sellable until a later calendar day (§4.E.1's T+1
// rule). Grounded on original_source's _position_lots/_record_buy_lot/
// _get_sellable_quantity/_consume_sell_quantity.
type buyLot = model.BuyLot

// Simulated is the in-process matcher of §4.E.1: it ticks pending
// orders against injected market prices roughly 10x/sec using the
// shared internal/matching rules, and enforces T+1 settlement via a
// per-code FIFO lot ledger.
type Simulated struct {
	mu sync.Mutex

	cash            decimal.Decimal
	initialCapital  decimal.Decimal
	commissionRate  float64
	slippage        float64

	marketPrices map[string]decimal.Decimal
	positions    map[string]model.Position
	orders       map[string]model.Order
	trades       []model.Trade
	lots         map[string][]buyLot

	orderSeq int
	tradeSeq int

	connected bool
	loggedIn  bool

	cb Callbacks

	today  func() time.Time // injectable "current trading day" for deterministic T+1 tests
	cancel context.CancelFunc
	group  *errgroup.Group

	log zerolog.Logger
}

func NewSimulated(initialCapital decimal.Decimal, commissionRate, slippage float64, log zerolog.Logger) *Simulated {
	return &Simulated{
		cash:           initialCapital,
		initialCapital: initialCapital,
		commissionRate: commissionRate,
		slippage:       slippage,
		marketPrices:   make(map[string]decimal.Decimal),
		positions:      make(map[string]model.Position),
		orders:         make(map[string]model.Order),
		lots:           make(map[string][]buyLot),
		today:          time.Now,
		log:            log,
	}
}

func (s *Simulated) SetCallbacks(cb Callbacks) { s.cb = cb }

// SetMarketPrice feeds the reference price the background matcher uses
// for this code; it is also what a fanout subscriber would push in.
func (s *Simulated) SetMarketPrice(code string, price decimal.Decimal) {
	s.mu.Lock()
	s.marketPrices[code] = price
	s.mu.Unlock()
}

func (s *Simulated) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.log.Info().Msg("connected to simulated broker")
	s.cb.fireConnected()
	return nil
}

func (s *Simulated) Disconnect() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
	s.mu.Lock()
	s.connected = false
	s.loggedIn = false
	s.mu.Unlock()
	s.cb.fireDisconnected()
	return nil
}

func (s *Simulated) Login(ctx context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return model.ErrState
	}
	s.loggedIn = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	s.group = group
	group.Go(func() error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.processPending()
			}
		}
	})

	s.cb.fireLogin()
	return nil
}

func (s *Simulated) Logout() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
	s.cb.fireLogout()
}

func (s *Simulated) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulated) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// SendOrder validates quantity/cash/holdings (including the T+1
// sellable check) and submits synchronously; fills happen later via
// the background matcher or via ProcessPendingNow in tests.
func (s *Simulated) SendOrder(ctx context.Context, code string, side model.Side, price float64, quantity int64, orderType model.OrderType) model.OrderResult {
	qty := model.NormalizeQuantity(quantity)
	if qty <= 0 {
		return model.OrderResult{Success: false, Message: "quantity must normalize to a positive 100-lot"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loggedIn {
		return model.OrderResult{Success: false, Message: "not logged in"}
	}

	priceDec := decimal.NewFromFloat(price)
	if side == model.SideBuy {
		required := priceDec.Mul(decimal.NewFromInt(qty)).Mul(decimal.NewFromFloat(1 + s.commissionRate))
		if required.GreaterThan(s.cash) {
			return model.OrderResult{Success: false, Message: fmt.Sprintf("insufficient cash: need %s, have %s", required.String(), s.cash.String())}
		}
	} else {
		pos, ok := s.positions[code]
		if !ok || pos.Quantity < qty {
			return model.OrderResult{Success: false, Message: "insufficient position"}
		}
		if s.sellableQuantityLocked(code) < qty {
			return model.OrderResult{Success: false, Message: "T+1 restriction: shares bought today are not sellable until the next trading day"}
		}
	}

	s.orderSeq++
	now := time.Now()
	order := model.Order{
		ID:        fmt.Sprintf("SIM%08d", s.orderSeq),
		Code:      code,
		Side:      side,
		Price:     priceDec,
		Quantity:  qty,
		Type:      orderType,
		Status:    model.Submitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.orders[order.ID] = order
	s.cb.notifyOrder(order)
	return model.OrderResult{Success: true, Order: &order, Message: "submitted"}
}

func (s *Simulated) CancelOrder(orderID string) bool {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok || o.Status.Terminal() {
		s.mu.Unlock()
		return false
	}
	o.Status = model.Cancelled
	o.UpdatedAt = time.Now()
	s.orders[orderID] = o
	s.mu.Unlock()
	s.cb.notifyOrder(o)
	return true
}

// ModifyOrder is unsupported by the simulator (matching §4.E.1: cancel
// and resubmit instead).
func (s *Simulated) ModifyOrder(string, *float64, *int64) bool { return false }

func (s *Simulated) QueryAccount(context.Context) (model.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marketValue := decimal.Zero
	for _, p := range s.positions {
		marketValue = marketValue.Add(p.MarketValue())
	}
	total := s.cash.Add(marketValue)
	profit := total.Sub(s.initialCapital)
	pct := decimal.Zero
	if !s.initialCapital.IsZero() {
		pct = profit.Div(s.initialCapital).Mul(decimal.NewFromInt(100))
	}
	acc := model.AccountInfo{
		BrokerID:        "SIM001",
		Cash:            s.cash,
		MarketValue:     marketValue,
		TotalValue:      total,
		IntradayProfit:  profit,
		IntradayPercent: pct,
	}
	s.cb.notifyAccount(acc)
	return acc, nil
}

func (s *Simulated) QueryPositions(context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *Simulated) QueryOrders(_ context.Context, status *model.OrderStatus) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if status == nil || o.Status == *status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Simulated) QueryTrades(context.Context) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Trade, len(s.trades))
	copy(out, s.trades)
	return out, nil
}

// SellableQuantity is §4.E.1's T+1 query surface.
func (s *Simulated) SellableQuantity(code string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sellableQuantityLocked(code)
}

func (s *Simulated) sellableQuantityLocked(code string) int64 {
	today := s.today().Truncate(24 * time.Hour)
	var total int64
	for _, lot := range s.lots[code] {
		if lot.TradeDate.Truncate(24 * time.Hour).Before(today) {
			total += lot.RemainingQty
		}
	}
	return total
}

// ProcessPendingNow runs one matcher tick synchronously, for
// deterministic tests that don't want to wait on the background
// ticker.
func (s *Simulated) ProcessPendingNow() {
	s.processPending()
}

func (s *Simulated) processPending() {
	s.mu.Lock()
	var pending []model.Order
	for _, o := range s.orders {
		if o.Status == model.Submitted {
			pending = append(pending, o)
		}
	}
	s.mu.Unlock()

	for _, o := range pending {
		s.mu.Lock()
		refPrice, ok := s.marketPrices[o.Code]
		s.mu.Unlock()
		if !ok {
			refPrice = o.Price
		}
		fill, ok := matching.TryFillAgainstPrice(o, refPrice, s.commissionRate, s.slippage)
		if !ok {
			continue
		}
		s.fill(o, fill)
	}
}

func (s *Simulated) fill(order model.Order, fill matching.Fill) {
	s.mu.Lock()
	s.tradeSeq++
	trade := model.Trade{
		ID:         fmt.Sprintf("T%08d", s.tradeSeq),
		OrderID:    order.ID,
		Code:       order.Code,
		Side:       order.Side,
		Price:      fill.Price,
		Quantity:   order.Quantity,
		Commission: fill.Commission,
		ExecutedAt: time.Now(),
	}

	order.Status = model.Filled
	order.FilledQuantity = order.Quantity
	order.FilledAvgPrice = fill.Price
	order.UpdatedAt = trade.ExecutedAt
	s.orders[order.ID] = order

	cost := fill.Price.Mul(decimal.NewFromInt(order.Quantity))
	if order.Side == model.SideBuy {
		s.cash = s.cash.Sub(cost).Sub(fill.Commission)
		pos, ok := s.positions[order.Code]
		if !ok {
			pos = model.Position{Code: order.Code, Quantity: order.Quantity, AverageCost: fill.Price, Price: fill.Price}
		} else {
			totalCost := pos.AverageCost.Mul(decimal.NewFromInt(pos.Quantity)).Add(cost)
			pos.Quantity += order.Quantity
			pos.AverageCost = totalCost.Div(decimal.NewFromInt(pos.Quantity))
			pos.Price = fill.Price
		}
		s.positions[order.Code] = pos
		s.lots[order.Code] = append(s.lots[order.Code], buyLot{Code: order.Code, TradeDate: s.today(), RemainingQty: order.Quantity})
	} else {
		s.cash = s.cash.Add(cost).Sub(fill.Commission)
		pos := s.positions[order.Code]
		pos.Quantity -= order.Quantity
		pos.Price = fill.Price
		if pos.Quantity <= 0 {
			delete(s.positions, order.Code)
		} else {
			s.positions[order.Code] = pos
		}
		s.consumeSellQuantity(order.Code, order.Quantity)
	}
	s.trades = append(s.trades, trade)
	pos := s.positions[order.Code]
	s.mu.Unlock()

	s.cb.notifyOrder(order)
	s.cb.notifyTrade(trade)
	s.cb.notifyPosition(pos)
}

// consumeSellQuantity pops FIFO from the oldest settled lots first.
// Caller holds s.mu.
func (s *Simulated) consumeSellQuantity(code string, qty int64) {
	today := s.today().Truncate(24 * time.Hour)
	lots := s.lots[code]
	i := 0
	for qty > 0 && i < len(lots) {
		if !lots[i].TradeDate.Truncate(24 * time.Hour).Before(today) {
			i++
			continue
		}
		take := qty
		if lots[i].RemainingQty < take {
			take = lots[i].RemainingQty
		}
		lots[i].RemainingQty -= take
		qty -= take
		if lots[i].RemainingQty == 0 {
			lots = append(lots[:i], lots[i+1:]...)
		} else {
			i++
		}
	}
	s.lots[code] = lots
}

var _ Broker = (*Simulated)(nil)
