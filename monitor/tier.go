package monitor

import (
	"github.com/Laisky/zap"

	"github.com/nebulablock/rpdprobe/common/logger"
	"github.com/nebulablock/rpdprobe/prober"
)

// RecordTierVerdict logs the outcome of a tier validation and updates the
// tier_validated gauge. m may be nil when metrics are disabled.
func RecordTierVerdict(m *Metrics, report prober.ValidationReport) {
	lg := logger.Logger.With(
		zap.String("tier", report.Tier),
		zap.String("limit", report.Limit.String()),
		zap.String("state", string(report.State)),
		zap.Int("total_requests", report.TotalRequests()),
	)

	if report.Passed() {
		lg.Info("tier enforces its declared limit")
		if m != nil {
			m.tierValidated.WithLabelValues(report.Tier).Set(1)
		}
		return
	}

	lg.Error("tier does not match its declared limit", zap.String("reason", report.Reason))
	if m != nil {
		m.tierValidated.WithLabelValues(report.Tier).Set(0)
	}
}
