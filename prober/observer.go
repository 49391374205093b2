package prober

import "context"

// BatchInfo identifies the batch an observer callback belongs to.
type BatchInfo struct {
	Tier       string
	Credential string
}

// Observer watches a batch from the outside. Callbacks run on the dispatching
// goroutines and must be safe for concurrent use. OnOutcome fires for every
// completed request, including ones discarded after an abort, since the endpoint
// still received them.
type Observer interface {
	OnDispatch(ctx context.Context, info BatchInfo, index int)
	OnOutcome(ctx context.Context, info BatchInfo, outcome RequestOutcome)
	OnBatchDone(ctx context.Context, info BatchInfo, result BatchResult)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnDispatch(context.Context, BatchInfo, int)           {}
func (NopObserver) OnOutcome(context.Context, BatchInfo, RequestOutcome) {}
func (NopObserver) OnBatchDone(context.Context, BatchInfo, BatchResult)  {}

// Observers fans callbacks out in order.
type Observers []Observer

func (obs Observers) OnDispatch(ctx context.Context, info BatchInfo, index int) {
	for _, o := range obs {
		o.OnDispatch(ctx, info, index)
	}
}

func (obs Observers) OnOutcome(ctx context.Context, info BatchInfo, outcome RequestOutcome) {
	for _, o := range obs {
		o.OnOutcome(ctx, info, outcome)
	}
}

func (obs Observers) OnBatchDone(ctx context.Context, info BatchInfo, result BatchResult) {
	for _, o := range obs {
		o.OnBatchDone(ctx, info, result)
	}
}
