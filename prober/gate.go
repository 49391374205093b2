package prober

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"

	"github.com/nebulablock/rpdprobe/common/config"
)

var structValidator = validator.New()

// ConcurrencyConfig bounds how hard a batch pushes the endpoint.
type ConcurrencyConfig struct {
	MaxConcurrent int           `json:"max_concurrent" yaml:"max_concurrent" validate:"min=1"`
	PacingDelay   time.Duration `json:"pacing_delay" yaml:"pacing_delay" validate:"gte=0"`
}

// DefaultConcurrency reads MAX_CONCURRENT and PACING_DELAY.
func DefaultConcurrency() ConcurrencyConfig {
	return ConcurrencyConfig{
		MaxConcurrent: config.MaxConcurrent,
		PacingDelay:   config.PacingDelay,
	}
}

func (c ConcurrencyConfig) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "concurrency %+v: %v", c, err)
	}
	return nil
}

// Gate is a counting permit pool. A holder keeps its permit through the pacing
// delay, so completions are spread out rather than released in a burst.
// Waiters are not served in any particular order.
type Gate struct {
	sem      *semaphore.Weighted
	pacing   time.Duration
	capacity int
	inFlight atomic.Int64
}

func NewGate(cfg ConcurrencyConfig) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		pacing:   cfg.PacingDelay,
		capacity: cfg.MaxConcurrent,
	}, nil
}

// Acquire blocks until a permit is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "acquire permit")
	}
	g.inFlight.Add(1)
	return nil
}

// Release waits out the pacing delay, cut short if ctx is done, and frees the permit.
func (g *Gate) Release(ctx context.Context) {
	if g.pacing > 0 {
		timer := time.NewTimer(g.pacing)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// InFlight is the number of permits currently held.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

func (g *Gate) Capacity() int { return g.capacity }
