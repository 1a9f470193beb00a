package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraquant/workbench/internal/model"
)

type recorder struct{ NoopHooks }

func (recorder) OnBar(*Base, model.Bar) {}

func TestBuyRejectsSubHundredLot(t *testing.T) {
	b := NewBase("000001", recorder{})
	var intents []model.Order
	b.SetCallbacks(func(o model.Order) { intents = append(intents, o) }, nil, nil)
	b.SetCapital(decimal.NewFromInt(100000))

	b.Buy(decimal.NewFromInt(10), 50, model.Limit)
	assert.Empty(t, intents)
}

func TestBuyEmitsSubmittedOrder(t *testing.T) {
	b := NewBase("000001", recorder{})
	var intents []model.Order
	b.SetCallbacks(func(o model.Order) { intents = append(intents, o) }, nil, nil)
	b.SetCapital(decimal.NewFromInt(100000))

	b.Buy(decimal.NewFromInt(10), 250, model.Limit)
	require.Len(t, intents, 1)
	assert.Equal(t, int64(200), intents[0].Quantity)
	assert.Equal(t, model.Submitted, intents[0].Status)
}

func TestDeliverFillUpdatesCashAndPosition(t *testing.T) {
	b := NewBase("000001", recorder{})
	b.SetCapital(decimal.NewFromInt(10000))

	order := model.Order{ID: "o1", Code: "000001", Side: model.SideBuy, Quantity: 100}
	trade := model.Trade{OrderID: "o1", Code: "000001", Side: model.SideBuy, Price: decimal.NewFromInt(10), Quantity: 100, Commission: decimal.NewFromFloat(1)}
	b.DeliverFill(order, trade)

	assert.True(t, b.Cash().Equal(decimal.NewFromInt(10000-1000-1)))
	assert.Equal(t, int64(100), b.Position().Quantity)
	assert.True(t, b.Position().AverageCost.Equal(decimal.NewFromInt(10)))
}

func TestDeliverFillClosesPositionOnZeroQty(t *testing.T) {
	b := NewBase("000001", recorder{})
	b.SetCapital(decimal.NewFromInt(10000))
	b.DeliverFill(model.Order{ID: "o1", Side: model.SideBuy, Quantity: 100},
		model.Trade{OrderID: "o1", Side: model.SideBuy, Price: decimal.NewFromInt(10), Quantity: 100})
	b.DeliverFill(model.Order{ID: "o2", Side: model.SideSell, Quantity: 100},
		model.Trade{OrderID: "o2", Side: model.SideSell, Price: decimal.NewFromInt(11), Quantity: 100})

	assert.Equal(t, int64(0), b.Position().Quantity)
}

func TestBarHistoryIsBounded(t *testing.T) {
	b := NewBase("000001", recorder{})
	for i := 0; i < maxBarHistory+50; i++ {
		b.DeliverBar(model.Bar{Time: time.Now(), Close: decimal.NewFromInt(int64(i))})
	}
	assert.Len(t, b.GetBarWindow(maxBarHistory+100), maxBarHistory)
}

func TestDualMABuysOnGoldenCross(t *testing.T) {
	strat := &DualMA{Fast: 3, Slow: 5, SizePct: 90}
	b := NewBase("000001", strat)
	b.SetCapital(decimal.NewFromInt(1000000))
	var orders []model.Order
	b.SetCallbacks(func(o model.Order) { orders = append(orders, o) }, nil, nil)

	prices := []float64{10, 9, 8, 7, 6, 7, 8, 9, 10, 11, 12}
	for _, p := range prices {
		b.DeliverBar(model.Bar{Close: decimal.NewFromFloat(p)})
	}
	assert.NotEmpty(t, orders, "a golden cross should have emitted at least one BUY intent")
}
