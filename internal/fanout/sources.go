package fanout

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/astraquant/workbench/internal/cache"
	"github.com/astraquant/workbench/internal/model"
)

// Source is a pluggable data-source adapter driving a Hub. connect/
// disconnect/start/stop mirror the broker state-machine vocabulary of
// §4.D so the runtime can treat every source uniformly.
type Source interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Start(ctx context.Context) error
	Stop() error
}

// Simulated periodically mutates each seeded code's last price by
// up to +/-10% and republishes a snapshot, for demos and tests that
// don't need a real feed.
type Simulated struct {
	Hub      *Hub
	Interval time.Duration
	Seed     map[string]decimal.Decimal // code -> starting price

	rng    *rand.Rand
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewSimulated(hub *Hub, interval time.Duration, seed map[string]decimal.Decimal) *Simulated {
	return &Simulated{Hub: hub, Interval: interval, Seed: seed, rng: rand.New(rand.NewSource(1))}
}

func (s *Simulated) Connect(context.Context) error { return nil }
func (s *Simulated) Disconnect() error              { return nil }

func (s *Simulated) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	last := make(map[string]float64, len(s.Seed))
	for code, p := range s.Seed {
		f, _ := p.Float64()
		last[code] = f
	}

	for code := range s.Seed {
		code := code
		group.Go(func() error {
			ticker := time.NewTicker(s.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case now := <-ticker.C:
					pct := (s.rng.Float64()*2 - 1) * 0.10
					last[code] *= 1 + pct
					price := decimal.NewFromFloat(last[code])
					s.Hub.PublishSnapshot(code, model.Snapshot{
						Code: code, Last: price, Open: price, High: price, Low: price,
						Timestamp: now,
					})
				}
			}
		})
	}
	return nil
}

func (s *Simulated) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		return s.group.Wait()
	}
	return nil
}

// CSVReplay streams a pre-recorded bar series through the hub,
// preserving the inter-row intervals observed in the file, scaled by
// Speed (Speed<=0 replays at the recorded pace, as Speed==1 does;
// ReplayOnce publishes every bar without waiting). Grounded directly on
// §8 scenario 5's CSV-replay determinism requirement.
type CSVReplay struct {
	Hub   *Hub
	Code  string
	Bars  []model.Bar
	Speed float64
	Loop  bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewCSVReplay(hub *Hub, code string, bars []model.Bar, speed float64, loop bool) *CSVReplay {
	return &CSVReplay{Hub: hub, Code: code, Bars: bars, Speed: speed, Loop: loop}
}

func (r *CSVReplay) Connect(context.Context) error { return nil }
func (r *CSVReplay) Disconnect() error              { return nil }

// ReplayOnce synchronously pushes every bar through the hub with no
// sleeping, for deterministic tests (§8 scenario 5).
func (r *CSVReplay) ReplayOnce() {
	for _, b := range r.Bars {
		r.Hub.PublishSnapshot(r.Code, model.Snapshot{
			Code: r.Code, Last: b.Close, Open: b.Open, High: b.High, Low: b.Low,
			CumVolume: b.Volume, Timestamp: b.Time,
		})
	}
}

func (r *CSVReplay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			if err := r.replayWithTiming(ctx); err != nil {
				return
			}
			if !r.Loop {
				return
			}
		}
	}()
	return nil
}

func (r *CSVReplay) replayWithTiming(ctx context.Context) error {
	speed := r.Speed
	if speed <= 0 {
		speed = 1
	}
	var prev time.Time
	for i, b := range r.Bars {
		if i > 0 {
			gap := b.Time.Sub(prev)
			wait := time.Duration(float64(gap) / speed)
			if wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		r.Hub.PublishSnapshot(r.Code, model.Snapshot{
			Code: r.Code, Last: b.Close, Open: b.Open, High: b.High, Low: b.Low,
			CumVolume: b.Volume, Timestamp: b.Time,
		})
		prev = b.Time
	}
	return nil
}

func (r *CSVReplay) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
	return nil
}

// FetchFunc fetches one snapshot for code from a remote source (akshare,
// tushare, or any REST quote provider). Kept pluggable so vendor SDKs
// never need to be fabricated: callers supply a thin HTTP client of
// their own.
type FetchFunc func(ctx context.Context, code string) (model.Snapshot, error)

// RemotePoll polls FetchFunc on an interval, tolerating transient
// errors (handed to OnError when it is set, then skipped rather than
// propagated; nothing is logged) and de-duplicating
// repeat fetches within Interval via a TTL cache.
type RemotePoll struct {
	Hub      *Hub
	Fetch    FetchFunc
	Interval time.Duration
	Codes    []string

	ttl    *cache.TTL
	cancel context.CancelFunc
	group  *errgroup.Group

	OnError func(code string, err error)
}

func NewRemotePoll(hub *Hub, fetch FetchFunc, interval time.Duration, codes []string) *RemotePoll {
	return &RemotePoll{Hub: hub, Fetch: fetch, Interval: interval, Codes: codes, ttl: cache.NewTTL(nil)}
}

func (p *RemotePoll) Connect(context.Context) error { return nil }
func (p *RemotePoll) Disconnect() error              { return nil }

func (p *RemotePoll) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	p.group = group

	for _, code := range p.Codes {
		code := code
		group.Go(func() error {
			ticker := time.NewTicker(p.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, hit := p.ttl.Get(code); hit {
						continue
					}
					snap, err := p.Fetch(gctx, code)
					if err != nil {
						if p.OnError != nil {
							p.OnError(code, err)
						}
						continue
					}
					p.ttl.Set(code, snap, p.Interval)
					p.Hub.PublishSnapshot(code, snap)
				}
			}
		})
	}
	return nil
}

func (p *RemotePoll) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		return p.group.Wait()
	}
	return nil
}
