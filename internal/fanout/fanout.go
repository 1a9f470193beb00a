// Package fanout implements the Market-Data Fanout hub of §4.D: a
// single point of subscription fan-out to per-code and global
// callbacks, backed by pluggable data sources (simulated, CSV replay,
// remote polling).
//
// Grounded on the teacher's live.go callback-registration pattern,
// generalized from Coinbase's single ticker stream to the spec's
// multi-code subscribe/unsubscribe hub with a bounded kline cache.
package fanout

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/astraquant/workbench/internal/model"
)

const maxKlineCache = 1000

// TickCallback, BarCallback, and SnapshotCallback are the fan-out sinks
// a caller may register, either scoped to one code or global (code =="").
type TickCallback func(code string, snap model.Snapshot)
type BarCallback func(code string, bar model.Bar)
type SnapshotCallback func(code string, snap model.Snapshot)

type callbackID struct {
	code string
	id   int
}

// Hub is the fan-out center. Source adapters call Publish*; subscribers
// call AddXCallback/RemoveCallback.
type Hub struct {
	mu sync.RWMutex

	log zerolog.Logger

	subscribed map[string]bool
	nextID     int

	tickCallbacks     map[callbackID]TickCallback
	barCallbacks      map[callbackID]BarCallback
	snapshotCallbacks map[callbackID]SnapshotCallback

	latestTick     map[string]model.Snapshot
	latestSnapshot map[string]model.Snapshot
	klines         map[string][]model.Bar // code -> ring, capped at maxKlineCache, oldest evicted
}

func New(log zerolog.Logger) *Hub {
	return &Hub{
		log:               log,
		subscribed:        make(map[string]bool),
		tickCallbacks:     make(map[callbackID]TickCallback),
		barCallbacks:      make(map[callbackID]BarCallback),
		snapshotCallbacks: make(map[callbackID]SnapshotCallback),
		latestTick:        make(map[string]model.Snapshot),
		latestSnapshot:    make(map[string]model.Snapshot),
		klines:            make(map[string][]model.Bar),
	}
}

// Subscribe and Unsubscribe are idempotent (§4.D).
func (h *Hub) Subscribe(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribed[code] = true
}

func (h *Hub) Unsubscribe(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribed, code)
}

func (h *Hub) IsSubscribed(code string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subscribed[code]
}

func (h *Hub) SubscribedCodes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subscribed))
	for c := range h.subscribed {
		out = append(out, c)
	}
	return out
}

// AddTickCallback registers cb for code, or for every code if code=="".
// It returns a handle usable with RemoveCallback.
func (h *Hub) AddTickCallback(code string, cb TickCallback) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.tickCallbacks[callbackID{code, h.nextID}] = cb
	return h.nextID
}

func (h *Hub) AddBarCallback(code string, cb BarCallback) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.barCallbacks[callbackID{code, h.nextID}] = cb
	return h.nextID
}

func (h *Hub) AddSnapshotCallback(code string, cb SnapshotCallback) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.snapshotCallbacks[callbackID{code, h.nextID}] = cb
	return h.nextID
}

// RemoveCallback drops any registered callback with the given handle.
func (h *Hub) RemoveCallback(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.tickCallbacks {
		if k.id == id {
			delete(h.tickCallbacks, k)
		}
	}
	for k := range h.barCallbacks {
		if k.id == id {
			delete(h.barCallbacks, k)
		}
	}
	for k := range h.snapshotCallbacks {
		if k.id == id {
			delete(h.snapshotCallbacks, k)
		}
	}
}

// PublishTick records the latest tick and invokes matching callbacks:
// code-scoped first, then global (code=="").
func (h *Hub) PublishTick(code string, snap model.Snapshot) {
	h.mu.Lock()
	h.latestTick[code] = snap
	cbs := h.matchingTickCallbacks(code)
	h.mu.Unlock()
	for _, cb := range cbs {
		cb(code, snap)
	}
}

// PublishSnapshot records the latest snapshot, appends the derived bar
// to the capped kline cache, and invokes matching snapshot and bar
// callbacks.
func (h *Hub) PublishSnapshot(code string, snap model.Snapshot) {
	h.mu.Lock()
	h.latestSnapshot[code] = snap
	bar := snap.ToBar()
	series := append(h.klines[code], bar)
	if len(series) > maxKlineCache {
		series = series[len(series)-maxKlineCache:]
	}
	h.klines[code] = series
	snapCbs := h.matchingSnapshotCallbacks(code)
	barCbs := h.matchingBarCallbacks(code)
	h.mu.Unlock()

	for _, cb := range snapCbs {
		cb(code, snap)
	}
	for _, cb := range barCbs {
		cb(code, bar)
	}
}

func (h *Hub) matchingTickCallbacks(code string) []TickCallback {
	var out []TickCallback
	for k, cb := range h.tickCallbacks {
		if k.code == code {
			out = append(out, cb)
		}
	}
	for k, cb := range h.tickCallbacks {
		if k.code == "" {
			out = append(out, cb)
		}
	}
	return out
}

func (h *Hub) matchingBarCallbacks(code string) []BarCallback {
	var out []BarCallback
	for k, cb := range h.barCallbacks {
		if k.code == code {
			out = append(out, cb)
		}
	}
	for k, cb := range h.barCallbacks {
		if k.code == "" {
			out = append(out, cb)
		}
	}
	return out
}

func (h *Hub) matchingSnapshotCallbacks(code string) []SnapshotCallback {
	var out []SnapshotCallback
	for k, cb := range h.snapshotCallbacks {
		if k.code == code {
			out = append(out, cb)
		}
	}
	for k, cb := range h.snapshotCallbacks {
		if k.code == "" {
			out = append(out, cb)
		}
	}
	return out
}

// LatestTick and LatestSnapshot return the most recent published value
// for code, if any.
func (h *Hub) LatestTick(code string) (model.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latestTick[code]
	return s, ok
}

func (h *Hub) LatestSnapshot(code string) (model.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latestSnapshot[code]
	return s, ok
}

// Bars returns up to the last n cached bars for code, oldest first.
func (h *Hub) Bars(code string, n int) []model.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	series := h.klines[code]
	if n <= 0 || n > len(series) {
		n = len(series)
	}
	out := make([]model.Bar, n)
	copy(out, series[len(series)-n:])
	return out
}
