package e2e

import (
	"context"
	"strings"

	"github.com/Laisky/errors/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nebulablock/rpdprobe/prober"
)

// These specs spend real quota. They run only with E2E_LIVE=true and the
// tier keys exported under each tier's credential_env name.
var _ = Describe("Live tier limits", Label("live"), func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		tiers  []prober.TierPolicy
	)

	BeforeEach(func() {
		if !suiteConfig.Live {
			Skip("E2E_LIVE is not set")
		}
		ctx, cancel = context.WithTimeout(context.Background(), suiteConfig.Timeout)
		DeferCleanup(cancel)

		var err error
		tiers, err = prober.SelectTiers(prober.DefaultTiers(), suiteConfig.Tiers)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should honor every configured tier", func() {
		v := prober.NewValidator(prober.NewRunner(prober.NewHTTPDispatcher(suiteConfig.Endpoint)))

		probed := 0
		for _, policy := range tiers {
			var (
				report prober.ValidationReport
				err    error
			)
			if strings.EqualFold(suiteConfig.LiveMode, "validate") {
				report, err = v.ValidateTier(ctx, policy)
			} else {
				report, err = v.Smoke(ctx, policy)
			}
			if errors.Is(err, prober.ErrCredentialMissing) {
				GinkgoWriter.Printf("skipping %s: %s\n", policy.Name, report.Reason)
				continue
			}
			probed++
			Expect(err).NotTo(HaveOccurred(), policy.Name)
			Expect(report.State).To(Equal(prober.StateValidated), "%s: %s", policy.Name, report.Reason)
		}

		if probed == 0 {
			Skip("no tier credentials are configured")
		}
	})
})
