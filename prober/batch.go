package prober

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"

	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/logger"
)

// DefaultFailureThreshold aborts a batch on its eleventh failure.
const DefaultFailureThreshold = 10

// Batch describes one run of N requests against a single credential.
type Batch struct {
	Tier        string
	Credential  string
	Requests    int
	Concurrency ConcurrencyConfig
}

// Runner executes batches through a Gate and folds outcomes into a BatchResult.
// A Runner holds no per-batch state, so one instance can run batches concurrently.
type Runner struct {
	dispatcher       Dispatcher
	payload          PayloadFunc
	failureThreshold int
	observer         Observer
	logger           glog.Logger
}

type RunnerOption func(*Runner)

func WithPayload(fn PayloadFunc) RunnerOption {
	return func(r *Runner) { r.payload = fn }
}

// WithFailureThreshold sets how many failures a batch tolerates before aborting.
func WithFailureThreshold(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.failureThreshold = n
		}
	}
}

func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

func WithRunnerLogger(lg glog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = lg }
}

func NewRunner(d Dispatcher, opts ...RunnerOption) *Runner {
	r := &Runner{
		dispatcher:       d,
		payload:          ChatPayload(config.ProbeModel, config.ProbeMaxTokens, config.ProbeTemperature),
		failureThreshold: DefaultFailureThreshold,
		observer:         NopObserver{},
		logger:           logger.Logger.Named("batch"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Payload returns the body the runner would send for index.
func (r *Runner) Payload(index int) any {
	return r.payload(index)
}

func (r *Runner) FailureThreshold() int { return r.failureThreshold }

// Run sends b.Requests requests with at most b.Concurrency.MaxConcurrent in flight.
// A fixed pool of workers claims indices 1..N in order, each just before sending,
// so requests go out in close to index order. Completion order is unspecified.
//
// Once the failed count exceeds the failure threshold no further request is
// sent, in-flight requests are cancelled and their outcomes discarded, and the
// partial result is returned with Aborted set. That is not an error. An error is
// returned for invalid input, or together with a partial result when ctx ends first.
func (r *Runner) Run(ctx context.Context, b Batch) (BatchResult, error) {
	if b.Requests < 0 {
		return BatchResult{}, errors.Wrapf(ErrInvalidConfig, "requests must not be negative, got %d", b.Requests)
	}
	gate, err := NewGate(b.Concurrency)
	if err != nil {
		return BatchResult{}, err
	}

	lg := r.logger.With(
		zap.String("tier", b.Tier),
		zap.Int("requests", b.Requests),
		zap.Int("max_concurrent", gate.Capacity()),
		zap.Duration("pacing_delay", b.Concurrency.PacingDelay),
	)
	lg.Info("batch started")

	start := time.Now()
	info := BatchInfo{Tier: b.Tier, Credential: b.Credential}
	// observers may do I/O on behalf of requests that were cut short
	obsCtx := context.WithoutCancel(ctx)

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		result = BatchResult{Requested: b.Requests}
		wg     sync.WaitGroup
	)

	abort := func(reason string) {
		if result.Aborted {
			return
		}
		result.Aborted = true
		result.AbortReason = reason
		cancel()
	}

	send := func(index int) {
		r.observer.OnDispatch(obsCtx, info, index)
		outcome := r.dispatcher.Dispatch(batchCtx, Request{
			Index:      index,
			Credential: b.Credential,
			Payload:    r.payload(index),
		})
		outcome.Index = index
		r.observer.OnOutcome(obsCtx, info, outcome)

		mu.Lock()
		defer mu.Unlock()
		if result.Aborted {
			return
		}
		if ctx.Err() != nil {
			abort(AbortCanceled)
			return
		}
		result.fold(outcome)
		if result.Failed > r.failureThreshold {
			lg.Warn("failure threshold exceeded, aborting batch",
				zap.Int("failed", result.Failed),
				zap.Int("threshold", r.failureThreshold),
				zap.Int("index", index),
				zap.String("last_detail", outcome.Detail),
			)
			abort(AbortFailureThreshold)
		}
	}

	// one worker per permit; a permit is held only while sending and pacing
	var next atomic.Int64
	for range min(gate.Capacity(), b.Requests) {
		wg.Go(func() {
			for {
				index := int(next.Add(1))
				if index > b.Requests || batchCtx.Err() != nil {
					return
				}
				if err := gate.Acquire(batchCtx); err != nil {
					return
				}
				if batchCtx.Err() == nil {
					send(index)
				}
				gate.Release(batchCtx)
			}
		})
	}

	wg.Wait()

	mu.Lock()
	if !result.Aborted && result.Completed() < result.Requested {
		// workers stopped early because the caller's ctx ended
		abort(AbortCanceled)
	}
	result.Elapsed = time.Since(start)
	final := result
	mu.Unlock()

	r.observer.OnBatchDone(obsCtx, info, final)
	lg.Info("batch finished",
		zap.Int("successful", final.Successful),
		zap.Int("rate_limited", final.RateLimited),
		zap.Int("failed", final.Failed),
		zap.Int("first_rate_limited_index", final.FirstRateLimitedIndex),
		zap.Bool("aborted", final.Aborted),
		zap.Duration("elapsed", final.Elapsed),
	)

	if final.AbortReason == AbortCanceled {
		return final, errors.Wrap(ctx.Err(), "batch interrupted")
	}
	return final, nil
}
