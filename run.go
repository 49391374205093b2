package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nebulablock/rpdprobe/common"
	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/logger"
	"github.com/nebulablock/rpdprobe/common/random"
	"github.com/nebulablock/rpdprobe/ledger"
	"github.com/nebulablock/rpdprobe/model"
	"github.com/nebulablock/rpdprobe/monitor"
	"github.com/nebulablock/rpdprobe/prober"
)

const (
	modeValidate = "validate"
	modeSmoke    = "smoke"
)

// summaryOut receives the rendered summary table.
var summaryOut io.Writer = os.Stdout

// tierOutcome is what one tier produced in this run.
type tierOutcome struct {
	Policy  prober.TierPolicy
	Report  prober.ValidationReport
	Skipped bool
	Err     error
}

// run orchestrates one probe pass over the selected tiers.
func run(ctx context.Context) error {
	mode := strings.ToLower(strings.TrimSpace(*common.Mode))
	if mode != modeValidate && mode != modeSmoke {
		return errors.Errorf("unknown mode %q, want %s or %s", mode, modeValidate, modeSmoke)
	}

	tiers, err := loadTiers()
	if err != nil {
		return errors.Wrap(err, "load tiers")
	}
	tiers, err = prober.SelectTiers(tiers, common.SelectedTiers())
	if err != nil {
		return errors.Wrap(err, "select tiers")
	}

	if err := common.InitRedisClient(); err != nil {
		return errors.Wrap(err, "init redis")
	}
	defer func() {
		if err := common.CloseRedisClient(); err != nil {
			logger.Logger.Warn("failed to close redis", zap.Error(err))
		}
	}()

	if config.ReportHistoryEnabled {
		if err := model.InitDB(); err != nil {
			return errors.Wrap(err, "init report history")
		}
		defer func() {
			if err := model.CloseDB(); err != nil {
				logger.Logger.Warn("failed to close report history", zap.Error(err))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	metrics, err := monitor.NewMetrics(reg)
	if err != nil {
		return errors.Wrap(err, "init metrics")
	}
	if config.MetricsAddr != "" {
		stopMetrics := serveMetrics(reg, config.MetricsAddr)
		defer stopMetrics()
	}

	usage := ledger.New()
	dispatcher := prober.NewHTTPDispatcher(config.ChatCompletionsURL(),
		prober.WithRequestTimeout(config.RequestTimeout),
	)
	runner := prober.NewRunner(dispatcher,
		prober.WithFailureThreshold(config.FailureThreshold),
		prober.WithObserver(prober.Observers{metrics, ledger.Observer{Ledger: usage}}),
	)
	validator := prober.NewValidator(runner,
		prober.WithUsageCounter(usage),
		prober.WithDefaultConcurrency(prober.ConcurrencyConfig{
			MaxConcurrent: config.MaxConcurrent,
			PacingDelay:   config.PacingDelay,
		}),
	)

	runID := random.RunID("rpd")
	logger.Logger.Info("probing tiers",
		zap.String("run_id", runID),
		zap.String("endpoint", dispatcher.Endpoint()),
		zap.Int("tier_count", len(tiers)),
		zap.Duration("request_timeout", config.RequestTimeout),
		zap.Int("failure_threshold", runner.FailureThreshold()),
		zap.Int("max_concurrent", config.MaxConcurrent),
		zap.Duration("pacing_delay", config.PacingDelay),
	)

	outcomes := probeTiers(ctx, validator, tiers, mode)
	for _, o := range outcomes {
		if !o.Skipped {
			monitor.RecordTierVerdict(metrics, o.Report)
		}
	}
	if config.ReportHistoryEnabled {
		persistOutcomes(ctx, runID, outcomes)
	}

	summary := buildSummary(outcomes)
	renderSummary(summaryOut, summary)

	if summary.failed > 0 {
		return errors.Errorf("%d of %d tiers failed", summary.failed, len(summary.rows))
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "run interrupted")
	}
	return nil
}

func loadTiers() ([]prober.TierPolicy, error) {
	if config.TiersFile == "" {
		return prober.DefaultTiers(), nil
	}
	return prober.LoadTiers(config.TiersFile)
}

// probeTiers validates every tier in its own goroutine. Tiers use distinct
// credentials, so their batches do not share a daily window.
func probeTiers(ctx context.Context, v *prober.Validator, tiers []prober.TierPolicy, mode string) []tierOutcome {
	outcomes := make([]tierOutcome, len(tiers))

	grp, grpCtx := errgroup.WithContext(ctx)
	for i, policy := range tiers {
		grp.Go(func() error {
			var (
				report prober.ValidationReport
				err    error
			)
			if mode == modeSmoke {
				report, err = v.Smoke(grpCtx, policy)
			} else {
				report, err = v.ValidateTier(grpCtx, policy)
			}

			outcome := tierOutcome{Policy: policy, Report: report, Err: err}
			if errors.Is(err, prober.ErrCredentialMissing) {
				outcome.Skipped = true
				logger.Logger.Warn("tier skipped", zap.String("tier", policy.Name), zap.String("reason", report.Reason))
			}
			outcomes[i] = outcome
			// one tier failing does not stop the others
			return nil
		})
	}
	_ = grp.Wait()

	return outcomes
}

func persistOutcomes(ctx context.Context, runID string, outcomes []tierOutcome) {
	// an interrupted run is still worth recording
	ctx = context.WithoutCancel(ctx)
	for _, o := range outcomes {
		if o.Skipped {
			continue
		}
		if _, err := model.SaveReport(ctx, runID, o.Report); err != nil {
			logger.Logger.Warn("failed to save probe report", zap.String("tier", o.Report.Tier), zap.Error(err))
		}
	}
	if _, err := model.CleanAllOldReports(ctx, config.ReportRetention); err != nil {
		logger.Logger.Warn("failed to clean old probe reports", zap.Error(err))
	}
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(reg *prometheus.Registry, addr string) func() {
	router := gin.New()
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Logger.Info("metrics endpoint available", zap.String("address", "http://"+addr+"/metrics"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Logger.Warn("failed to stop metrics server", zap.Error(err))
		}
	}
}
