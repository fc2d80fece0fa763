package opsboard

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultPollBaseInterval is the polling interval after a successful cycle
	DefaultPollBaseInterval = 30 * time.Second

	// DefaultPollMaxInterval caps the backoff interval under repeated failure
	DefaultPollMaxInterval = 5 * time.Minute
)

// Source is one independently fetched segment of a poll cycle. A failing
// source degrades its own segment to a neutral default instead of failing
// the cycle.
type Source struct {
	Name  string
	Fetch func(ctx context.Context) (interface{}, error)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Sources are fetched concurrently each cycle
	Sources []Source

	// Aggregate combines per-source results into the cycle's data value.
	// Its error is what drives backoff. Defaults to returning the raw map.
	Aggregate func(results map[string]interface{}) (interface{}, error)

	// OnData receives the aggregated result of each successful cycle
	OnData func(interface{})

	// OnError receives each cycle's aggregation failure
	OnError func(error)

	// BaseInterval is the delay after a successful cycle
	BaseInterval time.Duration

	// MaxInterval caps the doubling backoff under failure
	MaxInterval time.Duration

	// Visibility pauses polling while the page is hidden
	Visibility VisibilitySource

	// Logger for debug logging
	Logger Logger
}

// Poller keeps a view's aggregated data fresh: at most one fetch cycle in
// flight, exponential backoff on failure, pause while hidden. The loop runs
// until Stop and a failed cycle never terminates it.
type Poller struct {
	sources   []Source
	aggregate func(map[string]interface{}) (interface{}, error)
	onData    func(interface{})
	onError   func(error)
	base      time.Duration
	max       time.Duration
	vis       VisibilitySource
	logger    Logger

	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	cancel   context.CancelFunc
	gen      uint64
	started  bool
	paused   bool
	stopped  bool
	lastErr  error
	unsubVis func()
}

// NewPoller creates a poller. Start begins the loop.
func NewPoller(opts *PollerOptions) (*Poller, error) {
	if opts == nil || len(opts.Sources) == 0 {
		return nil, errors.New("poller requires at least one source")
	}

	base := opts.BaseInterval
	if base <= 0 {
		base = DefaultPollBaseInterval
	}
	max := opts.MaxInterval
	if max <= 0 {
		max = DefaultPollMaxInterval
	}
	if max < base {
		return nil, errors.New("poller max interval must be at least the base interval")
	}

	aggregate := opts.Aggregate
	if aggregate == nil {
		aggregate = func(results map[string]interface{}) (interface{}, error) {
			return results, nil
		}
	}

	return &Poller{
		sources:   opts.Sources,
		aggregate: aggregate,
		onData:    opts.OnData,
		onError:   opts.OnError,
		base:      base,
		max:       max,
		vis:       opts.Visibility,
		logger:    opts.Logger,
		interval:  base,
	}, nil
}

// Start subscribes to visibility and triggers the first cycle immediately.
// Starting twice is a no-op.
func (p *Poller) Start() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPollerStopped
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	if p.vis != nil {
		unsub := p.vis.Subscribe(p.onVisibility)
		p.mu.Lock()
		p.unsubVis = unsub
		p.mu.Unlock()
	}

	p.runCycle()
	return nil
}

// Stop tears the poller down: visibility unsubscribed, pending timer
// cleared, in-flight request aborted. Nothing outlives it.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	unsub := p.unsubVis
	p.unsubVis = nil
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Interval returns the current scheduling interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Err returns the last cycle's aggregation error, nil after a success.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// InFlight reports whether a fetch cycle is currently outstanding.
func (p *Poller) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// runCycle begins a fetch cycle, superseding any outstanding one.
func (p *Poller) runCycle() {
	p.mu.Lock()
	if p.stopped || p.paused {
		p.mu.Unlock()
		return
	}
	// Single flight: a stale in-flight cycle is cancelled, never queued behind.
	if p.cancel != nil {
		p.cancel()
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	go p.fetch(ctx, gen)
}

// fetch runs one cycle: all sources concurrently, failed sources defaulted,
// then the aggregation step. A cancelled cycle applies nothing: no data, no
// error, no backoff.
func (p *Poller) fetch(ctx context.Context, gen uint64) {
	results := make(map[string]interface{}, len(p.sources))

	var wg sync.WaitGroup
	var rmu sync.Mutex
	for _, src := range p.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			v, err := src.Fetch(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && p.logger != nil {
					p.logger.Warn("Poll source failed", "source", src.Name, "error", err)
				}
				v = nil
			}
			rmu.Lock()
			results[src.Name] = v
			rmu.Unlock()
		}(src)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	data, err := p.aggregate(results)

	p.mu.Lock()
	if p.stopped || gen != p.gen || ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.cancel = nil

	if err != nil {
		p.lastErr = err
		p.interval *= 2
		if p.interval > p.max {
			p.interval = p.max
		}
	} else {
		p.lastErr = nil
		p.interval = p.base
	}

	if !p.paused {
		p.timer = time.AfterFunc(p.interval, p.runCycle)
	}
	interval := p.interval
	p.mu.Unlock()

	if err != nil {
		if p.logger != nil {
			p.logger.Warn("Poll cycle failed", "error", err, "nextInterval", interval)
		}
		if p.onError != nil {
			p.onError(err)
		}
		return
	}

	if p.onData != nil {
		p.onData(data)
	}
}

// onVisibility pauses on hidden and resumes with an immediate cycle on
// visible. Becoming visible resets the interval even mid-backoff.
func (p *Poller) onVisibility(visible bool) {
	if visible {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return
		}
		p.paused = false
		p.interval = p.base
		p.mu.Unlock()

		p.runCycle()
		return
	}

	p.mu.Lock()
	p.paused = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}
