package fanout

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraquant/workbench/internal/model"
)

func TestSubscribeUnsubscribeIdempotent(t *testing.T) {
	h := New(zerolog.Nop())
	h.Subscribe("000001")
	h.Subscribe("000001")
	assert.True(t, h.IsSubscribed("000001"))
	h.Unsubscribe("000001")
	h.Unsubscribe("000001")
	assert.False(t, h.IsSubscribed("000001"))
}

// TestGlobalCallbackSeesEveryCodePerCodeSeesOnlyItsOwn is the fan-out
// scenario of §8 scenario 6: a global callback observes events for two
// codes, a per-code callback observes only its own.
func TestGlobalCallbackSeesEveryCodePerCodeSeesOnlyItsOwn(t *testing.T) {
	h := New(zerolog.Nop())
	var globalSeen []string
	var codeASeen []string

	h.AddSnapshotCallback("", func(code string, _ model.Snapshot) { globalSeen = append(globalSeen, code) })
	h.AddSnapshotCallback("A", func(code string, _ model.Snapshot) { codeASeen = append(codeASeen, code) })

	h.PublishSnapshot("A", model.Snapshot{Code: "A", Last: decimal.NewFromInt(1)})
	h.PublishSnapshot("B", model.Snapshot{Code: "B", Last: decimal.NewFromInt(2)})

	assert.Equal(t, []string{"A", "B"}, globalSeen)
	assert.Equal(t, []string{"A"}, codeASeen)
}

func TestRemoveCallbackStopsDelivery(t *testing.T) {
	h := New(zerolog.Nop())
	var count int
	id := h.AddTickCallback("X", func(string, model.Snapshot) { count++ })
	h.PublishTick("X", model.Snapshot{Code: "X"})
	h.RemoveCallback(id)
	h.PublishTick("X", model.Snapshot{Code: "X"})
	assert.Equal(t, 1, count)
}

func TestKlineCacheIsCappedAtMaxAndEvictsOldest(t *testing.T) {
	h := New(zerolog.Nop())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxKlineCache+10; i++ {
		h.PublishSnapshot("A", model.Snapshot{
			Code: "A", Last: decimal.NewFromInt(int64(i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	bars := h.Bars("A", maxKlineCache+100)
	require.Len(t, bars, maxKlineCache)
	assert.True(t, bars[0].Close.Equal(decimal.NewFromInt(10)), "the oldest 10 entries should have been evicted")
}

// TestCSVReplayOnceIsDeterministic implements §8 scenario 5: replaying
// the same bar series twice through ReplayOnce yields identical
// published snapshots with no time-based nondeterminism.
func TestCSVReplayOnceIsDeterministic(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []model.Bar{
		{Time: base, Close: decimal.NewFromInt(10)},
		{Time: base.Add(time.Hour), Close: decimal.NewFromInt(11)},
		{Time: base.Add(3 * time.Hour), Close: decimal.NewFromInt(12)},
	}

	run := func() []decimal.Decimal {
		h := New(zerolog.Nop())
		var closes []decimal.Decimal
		h.AddSnapshotCallback("A", func(_ string, s model.Snapshot) { closes = append(closes, s.Last) })
		r := NewCSVReplay(h, "A", bars, 0, false)
		r.ReplayOnce()
		return closes
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
	require.Len(t, first, 3)
}

func TestLatestSnapshotReturnsMostRecent(t *testing.T) {
	h := New(zerolog.Nop())
	_, ok := h.LatestSnapshot("A")
	assert.False(t, ok)

	h.PublishSnapshot("A", model.Snapshot{Code: "A", Last: decimal.NewFromInt(5)})
	snap, ok := h.LatestSnapshot("A")
	require.True(t, ok)
	assert.True(t, snap.Last.Equal(decimal.NewFromInt(5)))
}
