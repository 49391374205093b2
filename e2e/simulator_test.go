package e2e

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nebulablock/rpdprobe/prober"
	"github.com/nebulablock/rpdprobe/simulator"
)

const (
	tierKey      = "sk-e2e-tier-00000000001"
	unlimitedKey = "sk-e2e-unlimited-000002"
)

// peakDispatcher tracks the highest number of dispatches outstanding at once.
type peakDispatcher struct {
	inner   prober.Dispatcher
	current atomic.Int64
	peak    atomic.Int64
}

func (p *peakDispatcher) Dispatch(ctx context.Context, req prober.Request) prober.RequestOutcome {
	n := p.current.Add(1)
	defer p.current.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	return p.inner.Dispatch(ctx, req)
}

var _ = Describe("Tier validation against the simulator", func() {
	var (
		ctx     context.Context
		sim     *simulator.Server
		server  *httptest.Server
		startup func(keys string, opts ...simulator.Option)
	)

	BeforeEach(func() {
		ctx = context.Background()
		startup = func(keys string, opts ...simulator.Option) {
			parsed, err := simulator.ParseKeys(keys)
			Expect(err).NotTo(HaveOccurred())
			sim, err = simulator.New(simulator.NewQuota(parsed), opts...)
			Expect(err).NotTo(HaveOccurred())
			server = httptest.NewServer(sim.Router())
			DeferCleanup(server.Close)
		}
	})

	endpoint := func() string { return server.URL + "/v1/chat/completions" }

	newValidator := func(d prober.Dispatcher, volume int) *prober.Validator {
		return prober.NewValidator(prober.NewRunner(d),
			prober.WithCredentials(prober.StaticCredentials{
				"TIER_KEY":      tierKey,
				"UNLIMITED_KEY": unlimitedKey,
			}),
			prober.WithDefaultConcurrency(prober.ConcurrencyConfig{MaxConcurrent: 10}),
			prober.WithUnlimitedVolume(volume),
		)
	}

	Context("When the endpoint enforces the declared limit", func() {
		It("should validate a 200 request tier at its boundary", func() {
			startup(tierKey + "=200")
			v := newValidator(prober.NewHTTPDispatcher(endpoint(), prober.WithHTTPClient(LoopbackClient(10))), 0)

			report, err := v.ValidateTier(ctx, prober.TierPolicy{
				Name: "Engineer Tier 1", RequestsPerDay: prober.Finite(200), CredentialRef: "TIER_KEY",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.State).To(Equal(prober.StateValidated), report.Reason)
			Expect(report.Phases).To(HaveLen(3))

			below := report.Phases[0].Result
			Expect(below.Successful).To(Equal(199))
			Expect(below.RateLimited).To(BeZero())
			Expect(below.Failed).To(BeZero())
			Expect(report.Phases[1].Result.Successful).To(Equal(1))
			over := report.Phases[2].Result
			Expect(over.RateLimited).To(Equal(1))
			Expect(over.FirstRateLimitedIndex).To(Equal(1))
			Expect(sim.Quota().Used(tierKey)).To(Equal(200))
		})

		It("should absorb 3000 requests on an unlimited tier", func() {
			startup(unlimitedKey + "=unlimited")
			d := prober.NewHTTPDispatcher(endpoint(), prober.WithHTTPClient(LoopbackClient(100)))
			v := newValidator(d, 3000)

			report, err := v.ValidateTier(ctx, prober.TierPolicy{
				Name:           "Expert Tier 1",
				RequestsPerDay: prober.Unlimited(),
				CredentialRef:  "UNLIMITED_KEY",
				Concurrency:    &prober.ConcurrencyConfig{MaxConcurrent: 100},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.State).To(Equal(prober.StateValidated), report.Reason)
			res := report.Phases[0].Result
			Expect(res.Requested).To(Equal(3000))
			Expect(res.Successful).To(Equal(3000))
			Expect(res.RateLimited).To(BeZero())
			Expect(res.Failed).To(BeZero())
		})
	})

	Context("When the endpoint disagrees with the declared limit", func() {
		It("should fail a tier that is cut off early", func() {
			startup(tierKey + "=150")
			v := newValidator(prober.NewHTTPDispatcher(endpoint(), prober.WithHTTPClient(LoopbackClient(10))), 0)

			report, err := v.ValidateTier(ctx, prober.TierPolicy{
				Name: "Engineer Tier 1", RequestsPerDay: prober.Finite(200), CredentialRef: "TIER_KEY",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.State).To(Equal(prober.StateFailed))
			Expect(report.Phases).To(HaveLen(1))
			Expect(report.Phases[0].Result.Successful).To(Equal(150))
			Expect(report.Phases[0].Result.RateLimited).To(Equal(49))
		})

		It("should fail a tier that is not enforced at its boundary", func() {
			startup(tierKey + "=250")
			v := newValidator(prober.NewHTTPDispatcher(endpoint(), prober.WithHTTPClient(LoopbackClient(10))), 0)

			report, err := v.ValidateTier(ctx, prober.TierPolicy{
				Name: "Engineer Tier 1", RequestsPerDay: prober.Finite(200), CredentialRef: "TIER_KEY",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.State).To(Equal(prober.StateFailed))
			Expect(report.Phases).To(HaveLen(3))
			Expect(report.Phases[2].Phase).To(Equal(prober.PhaseOverLimit))
			Expect(report.Phases[2].Result.Successful).To(Equal(1))
			Expect(report.Phases[2].Passed).To(BeFalse())
		})
	})

	Context("When requests time out", func() {
		It("should trip the circuit breaker on the eleventh failure", func() {
			startup(tierKey+"=1000", simulator.WithLatency(2*time.Second))
			d := prober.NewHTTPDispatcher(endpoint(), prober.WithRequestTimeout(50*time.Millisecond))
			runner := prober.NewRunner(d)

			res, err := runner.Run(ctx, prober.Batch{
				Tier:        "timeouts",
				Credential:  tierKey,
				Requests:    30,
				Concurrency: prober.ConcurrencyConfig{MaxConcurrent: 5},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Requested).To(Equal(30))
			Expect(res.Aborted).To(BeTrue())
			Expect(res.AbortReason).To(Equal(prober.AbortFailureThreshold))
			Expect(res.Failed).To(Equal(prober.DefaultFailureThreshold + 1))
			Expect(res.Completed()).To(BeNumerically("<", 30))
		})
	})

	Context("When the gate limits concurrency", func() {
		It("should never have more than three requests outstanding", func() {
			startup(tierKey+"=1000", simulator.WithLatency(20*time.Millisecond))
			d := &peakDispatcher{inner: prober.NewHTTPDispatcher(endpoint())}
			runner := prober.NewRunner(d)

			res, err := runner.Run(ctx, prober.Batch{
				Tier:        "concurrency",
				Credential:  tierKey,
				Requests:    10,
				Concurrency: prober.ConcurrencyConfig{MaxConcurrent: 3},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Successful).To(Equal(10))
			Expect(d.peak.Load()).To(BeNumerically("<=", 3))
			Expect(d.peak.Load()).To(BeNumerically(">=", 1))
		})
	})
})
