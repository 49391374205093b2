// Package ledger counts how many requests each credential has sent in the current UTC day.
// Credentials are never stored; entries are keyed by a SHA-256 fingerprint.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Laisky/zap"

	"github.com/nebulablock/rpdprobe/common"
	"github.com/nebulablock/rpdprobe/common/helper"
	"github.com/nebulablock/rpdprobe/common/logger"
	"github.com/nebulablock/rpdprobe/prober"
)

const keyPrefix = "rpdprobe:usage:"

// Ledger is a per-credential daily request counter.
type Ledger interface {
	Add(ctx context.Context, credential string, n int64) error
	Count(ctx context.Context, credential string) (int64, error)
}

// Fingerprint identifies a credential without revealing it.
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}

func dailyKey(credential string, now time.Time) string {
	return keyPrefix + helper.UTCDay(now) + ":" + Fingerprint(credential)
}

// New returns a Redis ledger when Redis is enabled and an in-process one otherwise.
func New() Ledger {
	if common.IsRedisEnabled() && common.RDB != nil {
		return NewRedisLedger(common.RDB)
	}
	return NewMemoryLedger()
}

// Observer records every request that reached the endpoint.
type Observer struct {
	prober.NopObserver
	Ledger Ledger
}

func (o Observer) OnOutcome(ctx context.Context, info prober.BatchInfo, outcome prober.RequestOutcome) {
	// a request that never got a status may not have reached the endpoint
	if outcome.StatusCode == 0 {
		return
	}
	if err := o.Ledger.Add(ctx, info.Credential, 1); err != nil {
		logger.Logger.Warn("failed to record usage",
			zap.String("tier", info.Tier),
			zap.String("key", Fingerprint(info.Credential)),
			zap.Error(err))
	}
}
