package prober

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"

	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/helper"
	"github.com/nebulablock/rpdprobe/common/logger"
)

// State is the position of a tier validation in its probe sequence.
type State string

const (
	StateProbing      State = "probing"
	StateAtBoundary   State = "at_boundary"
	StateOverBoundary State = "over_boundary"
	StateValidated    State = "validated"
	StateFailed       State = "failed"
)

// Phase names one batch within a validation.
type Phase string

const (
	PhaseBelowLimit Phase = "below_limit"
	PhaseAtLimit    Phase = "at_limit"
	PhaseOverLimit  Phase = "over_limit"
	PhaseUnlimited  Phase = "unlimited_volume"
	PhaseSmoke      Phase = "smoke"
)

type PhaseResult struct {
	Phase       Phase
	Expectation string
	Result      BatchResult
	Passed      bool
}

// ValidationReport is the verdict for one tier.
type ValidationReport struct {
	Tier   string
	Limit  Limit
	State  State
	Phases []PhaseResult
	// Reason explains a Failed state.
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
	// PriorUsage is how many requests the ledger saw for this credential earlier in the UTC day.
	PriorUsage   int64
	PromptTokens int
}

func (r ValidationReport) Passed() bool { return r.State == StateValidated }

// TotalRequests sums the requests issued across all phases.
func (r ValidationReport) TotalRequests() int {
	total := 0
	for _, p := range r.Phases {
		total += p.Result.Completed()
	}
	return total
}

// UsageCounter reports how many requests a credential already spent today.
type UsageCounter interface {
	Count(ctx context.Context, credential string) (int64, error)
}

// Validator walks a tier up to and across its declared boundary.
type Validator struct {
	runner          *Runner
	credentials     CredentialResolver
	concurrency     ConcurrencyConfig
	unlimitedVolume int
	usage           UsageCounter
	logger          glog.Logger

	// the payload never changes, so its size is counted once
	promptTokens func() int
}

type ValidatorOption func(*Validator)

func WithCredentials(c CredentialResolver) ValidatorOption {
	return func(v *Validator) { v.credentials = c }
}

// WithDefaultConcurrency applies to tiers without their own concurrency.
func WithDefaultConcurrency(c ConcurrencyConfig) ValidatorOption {
	return func(v *Validator) { v.concurrency = c }
}

func WithUnlimitedVolume(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.unlimitedVolume = n
		}
	}
}

func WithUsageCounter(u UsageCounter) ValidatorOption {
	return func(v *Validator) { v.usage = u }
}

func WithValidatorLogger(lg glog.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = lg }
}

func NewValidator(runner *Runner, opts ...ValidatorOption) *Validator {
	v := &Validator{
		runner:          runner,
		credentials:     EnvCredentials{},
		concurrency:     DefaultConcurrency(),
		unlimitedVolume: config.UnlimitedProbeVolume,
		logger:          logger.Logger.Named("validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.promptTokens = sync.OnceValue(func() int {
		return EstimatePayloadTokens(v.runner.Payload(1))
	})
	return v
}

// phaseSpec is one batch of the probe sequence and the predicate it must satisfy.
type phaseSpec struct {
	phase       Phase
	enter       State
	requests    int
	expectation string
	pass        func(BatchResult) bool
}

func allSucceeded(r BatchResult) bool {
	return !r.Aborted && r.Successful == r.Requested && r.RateLimited == 0 && r.Failed == 0
}

func plan(policy TierPolicy, unlimitedVolume int) []phaseSpec {
	r, finite := policy.RequestsPerDay.Value()
	if !finite {
		volume := unlimitedVolume
		if policy.ProbeVolume > 0 {
			volume = policy.ProbeVolume
		}
		return []phaseSpec{{
			phase:       PhaseUnlimited,
			enter:       StateProbing,
			requests:    volume,
			expectation: fmt.Sprintf("all %d requests succeed", volume),
			pass:        allSucceeded,
		}}
	}

	return []phaseSpec{
		{
			phase:       PhaseBelowLimit,
			enter:       StateProbing,
			requests:    r - 1,
			expectation: fmt.Sprintf("requests 1..%d succeed", r-1),
			pass:        allSucceeded,
		},
		{
			phase:       PhaseAtLimit,
			enter:       StateAtBoundary,
			requests:    1,
			expectation: fmt.Sprintf("request %d succeeds", r),
			pass:        allSucceeded,
		},
		{
			phase:       PhaseOverLimit,
			enter:       StateOverBoundary,
			requests:    1,
			expectation: fmt.Sprintf("request %d is rate limited", r+1),
			pass: func(res BatchResult) bool {
				return !res.Aborted && res.RateLimited == 1 && res.FirstRateLimitedIndex == 1
			},
		},
	}
}

// ValidateTier runs the staged probe for policy.
//
// For a finite limit R it sends R-1 requests that must all succeed, then the R-th
// which must succeed, then the (R+1)-th which must be rate limited. The first phase
// that misses its expectation stops the run in StateFailed. For an unlimited tier it
// sends one large batch that must succeed in full.
//
// It returns ErrCredentialMissing when the tier's credential is not configured, and
// ErrInvalidPolicy for policies that cannot be probed. Policy violations are reported
// through the returned report, not as errors.
func (v *Validator) ValidateTier(ctx context.Context, policy TierPolicy) (ValidationReport, error) {
	return v.execute(ctx, policy, plan(policy, v.unlimitedVolume))
}

// Smoke sends a single request on the tier's credential and expects it to succeed.
// It checks that a tier's key works at all, for instance right after the daily window resets.
func (v *Validator) Smoke(ctx context.Context, policy TierPolicy) (ValidationReport, error) {
	return v.execute(ctx, policy, []phaseSpec{{
		phase:       PhaseSmoke,
		enter:       StateProbing,
		requests:    1,
		expectation: "a single request succeeds",
		pass:        allSucceeded,
	}})
}

func (v *Validator) execute(ctx context.Context, policy TierPolicy, phases []phaseSpec) (report ValidationReport, err error) {
	report = ValidationReport{
		Tier:      policy.Name,
		Limit:     policy.RequestsPerDay,
		State:     StateProbing,
		StartedAt: time.Now().UTC(),
	}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	if err = policy.Validate(); err != nil {
		report.State = StateFailed
		report.Reason = err.Error()
		return report, err
	}

	credential := v.credentials.Resolve(policy.CredentialRef)
	if credential == "" {
		report.Reason = fmt.Sprintf("%s is not set", policy.CredentialRef)
		return report, errors.Wrapf(ErrCredentialMissing, "tier %q: %s", policy.Name, report.Reason)
	}

	lg := v.logger.With(
		zap.String("tier", policy.Name),
		zap.String("limit", policy.RequestsPerDay.String()),
		zap.String("key", helper.MaskKey(credential)),
	)

	if v.usage != nil {
		used, err := v.usage.Count(ctx, credential)
		switch {
		case err != nil:
			lg.Warn("failed to read prior usage", zap.Error(err))
		case used > 0:
			lg.Warn("credential already used today, boundary phases may be off", zap.Int64("prior_usage", used))
		}
		report.PriorUsage = used
	}
	report.PromptTokens = v.promptTokens()

	concurrency := policy.ConcurrencyOr(v.concurrency)
	for _, ph := range phases {
		report.State = ph.enter
		lg.Info("phase started", zap.String("phase", string(ph.phase)), zap.Int("requests", ph.requests))

		res, err := v.runner.Run(ctx, Batch{
			Tier:        policy.Name,
			Credential:  credential,
			Requests:    ph.requests,
			Concurrency: concurrency,
		})
		passed := err == nil && ph.pass(res)
		report.Phases = append(report.Phases, PhaseResult{
			Phase:       ph.phase,
			Expectation: ph.expectation,
			Result:      res,
			Passed:      passed,
		})

		if err != nil {
			report.State = StateFailed
			report.Reason = fmt.Sprintf("%s: %v", ph.phase, err)
			lg.Error("phase interrupted", zap.String("phase", string(ph.phase)), zap.Error(err))
			return report, errors.Wrapf(err, "tier %q phase %s", policy.Name, ph.phase)
		}
		if !passed {
			report.State = StateFailed
			report.Reason = fmt.Sprintf("%s: expected %s, got %s", ph.phase, ph.expectation, res)
			lg.Warn("tier validation failed", zap.String("phase", string(ph.phase)), zap.String("reason", report.Reason))
			return report, nil
		}
		lg.Info("phase passed", zap.String("phase", string(ph.phase)), zap.Duration("elapsed", res.Elapsed))
	}

	report.State = StateValidated
	lg.Info("tier validated", zap.Int("total_requests", report.TotalRequests()))
	return report, nil
}
