package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/library"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/logging"
)

var (
	ErrPoolClosed = errors.New("sandbox pool is closed")
	ErrTimeout    = errors.New("sandbox acquisition timeout")
)

// PoolStats is a point-in-time view of the pool
type PoolStats struct {
	Size      int  `json:"size"`
	Available int  `json:"available"`
	InUse     int  `json:"inUse"`
	Closed    bool `json:"closed"`
}

// Pool manages isolated runtimes for dry runs. Each runtime owns a private
// host, so nothing a pooled execution does reaches the shared container.
type Pool struct {
	config   Config
	registry *library.Registry
	log      *logging.Logger
	wait     time.Duration

	sandboxes chan *Runtime
	size      int
	mu        sync.RWMutex
	closed    bool
}

// NewPool creates a pool of size runtimes. reg may be nil, in which case
// pooled snippets cannot import libraries.
func NewPool(config Config, size int, reg *library.Registry, log *logging.Logger) (*Pool, error) {
	if size <= 0 {
		size = 4
	}

	pool := &Pool{
		config:    config,
		registry:  reg,
		log:       logging.OrNop(log).Named("sandbox-pool"),
		wait:      5 * time.Second,
		sandboxes: make(chan *Runtime, size),
		size:      size,
	}

	for i := 0; i < size; i++ {
		rt, err := pool.newRuntime()
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.sandboxes <- rt
	}

	return pool, nil
}

func (p *Pool) newRuntime() (*Runtime, error) {
	return New(p.config, WithRegistry(p.registry), WithLogger(p.log))
}

// Acquire gets a runtime from the pool
func (p *Pool) Acquire(ctx context.Context) (*Runtime, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.wait)
	defer timer.Stop()

	select {
	case rt := <-p.sandboxes:
		return rt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Release resets rt and returns it to the pool
func (p *Pool) Release(rt *Runtime) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return rt.Close()
	}

	if err := rt.Reset(); err != nil {
		rt.Close()
		p.log.Warn("replacing runtime after failed reset", zap.Error(err))
		if fresh, ferr := p.newRuntime(); ferr == nil {
			p.sandboxes <- fresh
		}
		return err
	}

	select {
	case p.sandboxes <- rt:
		return nil
	default:
		return rt.Close()
	}
}

// Execute runs libraries and code in a pooled runtime against a fresh
// draft of its private container, then rolls the draft back.
func (p *Pool) Execute(ctx context.Context, code string, libs ...*library.Handle) Result {
	rt, err := p.Acquire(ctx)
	if err != nil {
		return Result{ErrorMessage: err.Error(), Err: err}
	}
	defer p.Release(rt)

	for _, h := range libs {
		if err := rt.Install(h); err != nil {
			return Result{ErrorMessage: err.Error(), Err: err}
		}
	}

	draft := rt.Host().Prepare(false)
	defer rt.Host().Rollback(draft)
	return rt.Execute(ctx, code)
}

// Close closes the pool and all runtimes
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.sandboxes)
	for rt := range p.sandboxes {
		rt.Close()
	}
	return nil
}

// Stats returns pool statistics
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Size:      p.size,
		Available: len(p.sandboxes),
		InUse:     p.size - len(p.sandboxes),
		Closed:    p.closed,
	}
}
