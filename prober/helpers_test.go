package prober

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// quotaDispatcher serves the first limit requests and rate limits the rest,
// counting across batches like a per-key daily window.
type quotaDispatcher struct {
	limit   int64
	latency time.Duration
	served  atomic.Int64
}

func (q *quotaDispatcher) Dispatch(ctx context.Context, req Request) RequestOutcome {
	if q.latency > 0 {
		select {
		case <-time.After(q.latency):
		case <-ctx.Done():
			return RequestOutcome{Index: req.Index, Category: CategoryFailed, Detail: ctx.Err().Error()}
		}
	}
	if q.served.Add(1) <= q.limit {
		return RequestOutcome{Index: req.Index, Category: CategorySuccess, StatusCode: 200}
	}
	return RequestOutcome{Index: req.Index, Category: CategoryRateLimited, StatusCode: 429}
}

// concurrencyProbe records the peak number of simultaneous Dispatch calls.
type concurrencyProbe struct {
	inner   Dispatcher
	current atomic.Int64
	peak    atomic.Int64
	calls   atomic.Int64
}

func (c *concurrencyProbe) Dispatch(ctx context.Context, req Request) RequestOutcome {
	c.calls.Add(1)
	n := c.current.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer c.current.Add(-1)
	return c.inner.Dispatch(ctx, req)
}

func failing(status int, latency time.Duration) Dispatcher {
	return DispatcherFunc(func(ctx context.Context, req Request) RequestOutcome {
		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-ctx.Done():
			}
		}
		return RequestOutcome{Index: req.Index, Category: CategoryFailed, StatusCode: status, Detail: "status 500: boom"}
	})
}

// recordingObserver keeps every callback for assertions.
type recordingObserver struct {
	mu         sync.Mutex
	dispatched []int
	outcomes   []RequestOutcome
	done       []BatchResult
}

func (r *recordingObserver) OnDispatch(_ context.Context, _ BatchInfo, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, index)
}

func (r *recordingObserver) OnOutcome(_ context.Context, _ BatchInfo, o RequestOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingObserver) OnBatchDone(_ context.Context, _ BatchInfo, res BatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, res)
}

var fastConcurrency = ConcurrencyConfig{MaxConcurrent: 10, PacingDelay: 0}
