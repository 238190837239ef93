package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen rejects a fetch while the upstream is considered down
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects a fetch once the half-open trial slots are used
	ErrTooManyRequests = errors.New("too many requests")
)

// State is where the breaker stands toward its upstream
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// Settings tunes a Breaker. Zero fields take the defaults noted on each.
type Settings struct {
	// MaxRequests trial fetches are let through while half-open, and as many
	// consecutive successes close the breaker again. Default 1.
	MaxRequests uint32
	// Interval is how often the closed-state tallies start over. Default 60s.
	Interval time.Duration
	// Timeout is how long the breaker stays open before a trial. Default 60s.
	Timeout time.Duration
	// ReadyToTrip sees the tallies after every closed-state failure and opens
	// the breaker when it returns true. Default: more than five in a row.
	ReadyToTrip func(counts Counts) bool
	// OnStateChange observes transitions, typically for logs or health
	OnStateChange func(name string, from State, to State)
	// IsSuccessful says whether an error still means a healthy upstream, such
	// as a 404. Cancellation always counts as healthy. Default: err == nil.
	IsSuccessful func(err error) bool
}

// Counts tallies outcomes for the current state
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker stops calling an upstream that keeps failing. Library fetches go
// through one so a dead CDN fails fast instead of tying up every pass for the
// full fetch timeout.
type Breaker struct {
	name string
	cfg  Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	deadline time.Time // closed: next tally reset; open: trial time
	epoch    uint64    // bumped on every transition and reset
}

// New returns a closed breaker
func New(name string, cfg Settings) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = func(err error) bool { return err == nil }
	}
	return &Breaker{name: name, cfg: cfg, deadline: time.Now().Add(cfg.Interval)}
}

func (b *Breaker) Name() string {
	return b.name
}

// State reports the state as of now, moving open to half-open once the
// timeout has passed
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick(time.Now())
	return b.state
}

// Counts returns the tallies for the current state
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn unless the breaker refuses, in which case ErrCircuitOpen or
// ErrTooManyRequests comes back and fn is never called. A context that is
// already done is returned as is and not tallied.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	epoch, err := b.admit()
	if err != nil {
		return err
	}

	healthy := false
	defer func() {
		b.settle(epoch, healthy)
	}()

	err = fn(ctx)
	healthy = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || b.cfg.IsSuccessful(err)
	return err
}

// Execute is Do for calls that produce a value, such as a fetched body
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tick(time.Now())
	switch {
	case b.state == StateOpen:
		return b.epoch, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests:
		return b.epoch, ErrTooManyRequests
	}
	b.counts.Requests++
	return b.epoch, nil
}

// settle records an outcome. Outcomes from an earlier epoch are dropped so a
// slow fetch cannot reopen a breaker that has since moved on.
func (b *Breaker) settle(epoch uint64, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tick(now)
	if epoch != b.epoch || b.state == StateOpen {
		return
	}

	if healthy {
		b.counts.success()
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
			b.moveTo(StateClosed, now)
		}
		return
	}

	b.counts.failure()
	if b.state == StateHalfOpen || b.cfg.ReadyToTrip(b.counts) {
		b.moveTo(StateOpen, now)
	}
}

// tick applies the transitions that happen with time alone
func (b *Breaker) tick(now time.Time) {
	switch b.state {
	case StateClosed:
		if now.After(b.deadline) {
			b.counts = Counts{}
			b.deadline = now.Add(b.cfg.Interval)
			b.epoch++
		}
	case StateOpen:
		if now.After(b.deadline) {
			b.moveTo(StateHalfOpen, now)
		}
	}
}

func (b *Breaker) moveTo(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.counts = Counts{}
	b.epoch++

	switch to {
	case StateClosed:
		b.deadline = now.Add(b.cfg.Interval)
	case StateOpen:
		b.deadline = now.Add(b.cfg.Timeout)
	case StateHalfOpen:
		b.deadline = time.Time{}
	}

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
