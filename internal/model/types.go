// Package model holds the core entities shared by every workbench
// component: bars, snapshots, orders, trades, positions, accounts, and the
// broker-internal T+1 lot ledger. Types here are plain data — behavior
// lives in the packages that consume them (broker, risk, runtime).
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order/trade direction.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// ParseSide accepts the wide synonym set REST adapters see on the wire:
// "buy"/"sell", "BUY"/"SELL", 1/2 (as strings).
func ParseSide(v string) (Side, bool) {
	switch v {
	case "buy", "BUY", "Buy", "1":
		return SideBuy, true
	case "sell", "SELL", "Sell", "2":
		return SideSell, true
	default:
		return SideBuy, false
	}
}

// OrderType selects how the matcher treats price.
type OrderType int

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "market"
	}
	return "limit"
}

// OrderStatus is the canonical five-state lifecycle of §3.
type OrderStatus int

const (
	Pending OrderStatus = iota
	Submitted
	Filled
	Cancelled
	Rejected
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Submitted:
		return "submitted"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can never transition again.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// ParseOrderStatus maps the wide synonym set REST brokers return onto the
// five canonical states.
func ParseOrderStatus(v string) OrderStatus {
	switch v {
	case "pending", "new", "NEW", "PENDING_NEW":
		return Pending
	case "submitted", "open", "OPEN", "ACCEPTED", "accepted", "working", "WORKING":
		return Submitted
	case "filled", "FILLED", "done", "closed", "CLOSED", "executed", "EXECUTED":
		return Filled
	case "cancelled", "canceled", "CANCELED", "CANCELLED":
		return Cancelled
	case "rejected", "REJECTED", "failed", "FAILED":
		return Rejected
	default:
		return Submitted
	}
}

// Bar is an OHLCV record for one time window. Immutable once emitted.
type Bar struct {
	Time     time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
	Turnover decimal.Decimal
}

// Depth is an optional 5-level order-book side.
type Depth struct {
	Prices [5]decimal.Decimal
	Sizes  [5]decimal.Decimal
}

// Snapshot is the latest quote plus session aggregates.
type Snapshot struct {
	Code           string
	Name           string
	Last           decimal.Decimal
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	PriorClose     decimal.Decimal
	CumVolume      decimal.Decimal
	CumTurnover    decimal.Decimal
	Bids           *Depth
	Asks           *Depth
	Timestamp      time.Time
}

// Change is Last - PriorClose.
func (s Snapshot) Change() decimal.Decimal {
	return s.Last.Sub(s.PriorClose)
}

// ChangePercent is Change/PriorClose*100, zero when PriorClose is zero.
func (s Snapshot) ChangePercent() decimal.Decimal {
	if s.PriorClose.IsZero() {
		return decimal.Zero
	}
	return s.Change().Div(s.PriorClose).Mul(decimal.NewFromInt(100))
}

// ToBar converts a Snapshot into a degenerate one-tick Bar, used by the
// Strategy Runtime's snapshot callback (§4.G step 7). The conversion is
// total and idempotent: reapplying the same snapshot twice yields an
// identical Bar.
func (s Snapshot) ToBar() Bar {
	return Bar{
		Time:     s.Timestamp,
		Open:     s.Open,
		High:     s.High,
		Low:      s.Low,
		Close:    s.Last,
		Volume:   s.CumVolume,
		Turnover: s.CumTurnover,
	}
}

// Order is broker-owned once submitted; the id is assigned by the broker.
type Order struct {
	ID              string
	Code            string
	Side            Side
	Price           decimal.Decimal
	Quantity        int64
	Type            OrderType
	Status          OrderStatus
	FilledQuantity  int64
	FilledAvgPrice  decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
	RejectReason    string
}

// Trade is one execution against an order.
type Trade struct {
	ID         string
	OrderID    string
	Code       string
	Side       Side
	Price      decimal.Decimal
	Quantity   int64
	Commission decimal.Decimal
	ExecutedAt time.Time
}

// Position is the current holding in one code. Derived fields are computed,
// never stored, so they can never drift from Quantity/AverageCost/Price.
type Position struct {
	Code        string
	Quantity    int64
	AverageCost decimal.Decimal
	Price       decimal.Decimal
}

func (p Position) MarketValue() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(p.Quantity))
}

func (p Position) Profit() decimal.Decimal {
	return p.Price.Sub(p.AverageCost).Mul(decimal.NewFromInt(p.Quantity))
}

// ProfitPct is zero when AverageCost is zero (no position opened yet).
func (p Position) ProfitPct() decimal.Decimal {
	if p.AverageCost.IsZero() {
		return decimal.Zero
	}
	return p.Price.Sub(p.AverageCost).Div(p.AverageCost).Mul(decimal.NewFromInt(100))
}

// AccountInfo is the broker-wide cash/value summary.
type AccountInfo struct {
	BrokerID        string
	Cash            decimal.Decimal
	Frozen          decimal.Decimal
	MarketValue     decimal.Decimal
	TotalValue      decimal.Decimal
	IntradayProfit  decimal.Decimal
	IntradayPercent decimal.Decimal
}

// BuyLot is a broker-internal accounting record pairing a purchased
// quantity with its trade date, used by the simulated broker's T+1 ledger.
type BuyLot struct {
	Code         string
	TradeDate    time.Time
	RemainingQty int64
}

// RiskLevel is a RiskAlert's severity.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RiskAlert is appended to the in-memory ring and mirrored to the CSV
// journal; code may be empty for account-level alerts.
type RiskAlert struct {
	Level     RiskLevel
	Message   string
	Timestamp time.Time
	Code      string
}

// RiskConfig bounds every policy the Risk Gate enforces (§4.F).
type RiskConfig struct {
	MaxPositionPct      float64
	MaxTotalPositionPct float64
	StopLossPct         float64
	TakeProfitPct       float64
	TrailingStopPct     float64
	MaxDrawdownPct      float64
	MaxDailyTrades      int
	MaxDailyLoss        float64
	MinTradeIntervalSec int
	MaxPriceDeviation   float64
}

// DefaultRiskConfig mirrors the defaults of original_source's RiskConfig
// dataclass (core/risk/risk_manager.py).
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionPct:      30.0,
		MaxTotalPositionPct: 80.0,
		StopLossPct:         5.0,
		TakeProfitPct:       10.0,
		TrailingStopPct:     0.0,
		MaxDrawdownPct:      20.0,
		MaxDailyTrades:      50,
		MaxDailyLoss:        50000.0,
		MinTradeIntervalSec: 60,
		MaxPriceDeviation:   3.0,
	}
}

// StrategyInfo describes a registered strategy (name must be unique).
type StrategyInfo struct {
	Name        string
	Source      string
	Parameters  map[string]float64
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeQuantity rounds down to the nearest 100-lot; callers reject
// anything that rounds to zero.
func NormalizeQuantity(qty int64) int64 {
	return (qty / 100) * 100
}
