package prober

import (
	"fmt"
	"time"
)

// Category is the classification of one dispatched request.
type Category string

const (
	CategorySuccess     Category = "success"
	CategoryRateLimited Category = "rate_limited"
	CategoryFailed      Category = "failed"
)

// RequestOutcome is the classified result of a single request.
type RequestOutcome struct {
	// Index is the 1-based position of the request within its batch.
	Index    int
	Category Category
	// StatusCode is 0 when no HTTP response was received.
	StatusCode int
	Detail     string
	Duration   time.Duration
}

// Abort reasons recorded on BatchResult.
const (
	AbortFailureThreshold = "failure threshold exceeded"
	AbortCanceled         = "canceled"
)

// BatchResult aggregates the outcomes of one batch.
//
// Successful+RateLimited+Failed never exceeds Requested, and is smaller only when
// the batch was aborted.
type BatchResult struct {
	Requested   int
	Successful  int
	RateLimited int
	Failed      int
	// FirstRateLimitedIndex is the smallest index classified as rate limited, 0 if none.
	FirstRateLimitedIndex int
	Aborted               bool
	AbortReason           string
	Elapsed               time.Duration
}

// Completed is the number of outcomes folded into the result.
func (r BatchResult) Completed() int {
	return r.Successful + r.RateLimited + r.Failed
}

func (r BatchResult) HasRateLimit() bool {
	return r.FirstRateLimitedIndex > 0
}

func (r BatchResult) String() string {
	s := fmt.Sprintf("requested=%d successful=%d rate_limited=%d failed=%d",
		r.Requested, r.Successful, r.RateLimited, r.Failed)
	if r.HasRateLimit() {
		s += fmt.Sprintf(" first_rate_limited=%d", r.FirstRateLimitedIndex)
	}
	if r.Aborted {
		s += fmt.Sprintf(" aborted=%q", r.AbortReason)
	}
	return s
}

func (r *BatchResult) fold(o RequestOutcome) {
	switch o.Category {
	case CategorySuccess:
		r.Successful++
	case CategoryRateLimited:
		r.RateLimited++
		if r.FirstRateLimitedIndex == 0 || o.Index < r.FirstRateLimitedIndex {
			r.FirstRateLimitedIndex = o.Index
		}
	default:
		r.Failed++
	}
}
