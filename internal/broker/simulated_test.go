package broker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraquant/workbench/internal/model"
)

func newConnectedSimulated(t *testing.T, day time.Time) *Simulated {
	t.Helper()
	s := NewSimulated(decimal.NewFromInt(1000000), 0.0003, 0, zerolog.Nop())
	s.today = func() time.Time { return day }
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Login(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

// TestT1RestrictionRejectsSameDaySell implements §8 scenario 2: a BUY
// filled today cannot be sold today, only from the next trading day.
func TestT1RestrictionRejectsSameDaySell(t *testing.T) {
	day1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s := newConnectedSimulated(t, day1)
	s.SetMarketPrice("000001", decimal.NewFromInt(10))

	res := s.SendOrder(context.Background(), "000001", model.SideBuy, 10, 1000, model.Market)
	require.True(t, res.Success)
	s.ProcessPendingNow()

	sell := s.SendOrder(context.Background(), "000001", model.SideSell, 10, 1000, model.Market)
	assert.False(t, sell.Success)
	assert.Contains(t, sell.Message, "T+1")
}

func TestSellableQuantityBecomesAvailableNextDay(t *testing.T) {
	day1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s := newConnectedSimulated(t, day1)
	s.SetMarketPrice("000001", decimal.NewFromInt(10))

	res := s.SendOrder(context.Background(), "000001", model.SideBuy, 10, 1000, model.Market)
	require.True(t, res.Success)
	s.ProcessPendingNow()
	assert.Equal(t, int64(0), s.SellableQuantity("000001"))

	s.today = func() time.Time { return day1.AddDate(0, 0, 1) }
	assert.Equal(t, int64(1000), s.SellableQuantity("000001"))

	sell := s.SendOrder(context.Background(), "000001", model.SideSell, 10, 1000, model.Market)
	assert.True(t, sell.Success)
}

func TestSendOrderRejectsSubHundredLot(t *testing.T) {
	s := newConnectedSimulated(t, time.Now())
	res := s.SendOrder(context.Background(), "000001", model.SideBuy, 10, 50, model.Limit)
	assert.False(t, res.Success)
}

func TestSendOrderRejectsInsufficientCash(t *testing.T) {
	s := newConnectedSimulated(t, time.Now())
	res := s.SendOrder(context.Background(), "000001", model.SideBuy, 100000, 100000, model.Limit)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "insufficient cash")
}

func TestFillUpdatesCashCommissionAndPosition(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s := newConnectedSimulated(t, day)
	s.SetMarketPrice("000001", decimal.NewFromInt(10))

	var trades []model.Trade
	s.SetCallbacks(Callbacks{OnTradeUpdate: func(tr model.Trade) { trades = append(trades, tr) }})
	res := s.SendOrder(context.Background(), "000001", model.SideBuy, 10, 1000, model.Market)
	require.True(t, res.Success)
	s.ProcessPendingNow()

	require.Len(t, trades, 1)
	acc, err := s.QueryAccount(context.Background())
	require.NoError(t, err)
	assert.True(t, acc.Cash.LessThan(decimal.NewFromInt(1000000-10000)))
}
