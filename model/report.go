package model

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/jinzhu/copier"

	"github.com/nebulablock/rpdprobe/common/logger"
	"github.com/nebulablock/rpdprobe/prober"
)

// ProbeReport is one persisted tier validation.
type ProbeReport struct {
	Id           int       `json:"id" gorm:"primaryKey"`
	RunId        string    `json:"run_id" gorm:"type:varchar(64);index"`
	Tier         string    `json:"tier" gorm:"type:varchar(128);index:idx_probe_reports_tier_id,priority:1"`
	LimitText    string    `json:"limit" gorm:"column:rpd_limit;type:varchar(32)"`
	State        string    `json:"state" gorm:"type:varchar(32)"`
	Passed       bool      `json:"passed"`
	Reason       string    `json:"reason" gorm:"type:text"`
	Requested    int       `json:"requested"`
	Successful   int       `json:"successful"`
	RateLimited  int       `json:"rate_limited"`
	Failed       int       `json:"failed"`
	Aborted      bool      `json:"aborted"`
	PriorUsage   int64     `json:"prior_usage"`
	PromptTokens int       `json:"prompt_tokens"`
	PhasesJSON   string    `json:"phases" gorm:"column:phases;type:text"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	CreatedAt    int64     `json:"created_at" gorm:"autoCreateTime:milli"`
}

type phaseRecord struct {
	Phase                 string `json:"phase"`
	Expectation           string `json:"expectation"`
	Passed                bool   `json:"passed"`
	Requested             int    `json:"requested"`
	Successful            int    `json:"successful"`
	RateLimited           int    `json:"rate_limited"`
	Failed                int    `json:"failed"`
	FirstRateLimitedIndex int    `json:"first_rate_limited_index,omitempty"`
	Aborted               bool   `json:"aborted,omitempty"`
	ElapsedMs             int64  `json:"elapsed_ms"`
}

// NewProbeReport flattens a validation report into a row. Fields shared by name,
// including Passed(), are copied; phase totals are summed.
func NewProbeReport(runID string, report prober.ValidationReport) (*ProbeReport, error) {
	row := &ProbeReport{}
	if err := copier.Copy(row, &report); err != nil {
		return nil, errors.Wrap(err, "copy report fields")
	}
	row.RunId = runID
	row.LimitText = report.Limit.String()
	row.State = string(report.State)

	phases := make([]phaseRecord, 0, len(report.Phases))
	for _, p := range report.Phases {
		res := p.Result
		row.Requested += res.Requested
		row.Successful += res.Successful
		row.RateLimited += res.RateLimited
		row.Failed += res.Failed
		row.Aborted = row.Aborted || res.Aborted
		phases = append(phases, phaseRecord{
			Phase:                 string(p.Phase),
			Expectation:           p.Expectation,
			Passed:                p.Passed,
			Requested:             res.Requested,
			Successful:            res.Successful,
			RateLimited:           res.RateLimited,
			Failed:                res.Failed,
			FirstRateLimitedIndex: res.FirstRateLimitedIndex,
			Aborted:               res.Aborted,
			ElapsedMs:             res.Elapsed.Milliseconds(),
		})
	}
	raw, err := json.Marshal(phases)
	if err != nil {
		return nil, errors.Wrap(err, "marshal phases")
	}
	row.PhasesJSON = string(raw)
	return row, nil
}

// SaveReport persists report under runID.
func SaveReport(ctx context.Context, runID string, report prober.ValidationReport) (*ProbeReport, error) {
	row, err := NewProbeReport(runID, report)
	if err != nil {
		return nil, err
	}
	err = runWithSQLiteBusyRetry(ctx, func() error {
		return DB.WithContext(ctx).Create(row).Error
	})
	if err != nil {
		return nil, errors.Wrapf(err, "save report for tier %q", report.Tier)
	}
	return row, nil
}

// RecentReports returns up to limit reports for tier, newest first.
func RecentReports(ctx context.Context, tier string, limit int) ([]ProbeReport, error) {
	var rows []ProbeReport
	err := DB.WithContext(ctx).
		Where("tier = ?", tier).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list reports for tier %q", tier)
	}
	return rows, nil
}

// CleanOldReports keeps the newest keep reports of tier and deletes the rest.
func CleanOldReports(ctx context.Context, tier string, keep int) (int64, error) {
	if keep < 0 {
		return 0, nil
	}

	var ids []int
	err := DB.WithContext(ctx).Model(&ProbeReport{}).
		Where("tier = ?", tier).
		Order("id desc").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, errors.Wrapf(err, "find stale reports for tier %q", tier)
	}
	// MySQL rejects OFFSET without LIMIT, so the cut happens here
	if len(ids) <= keep {
		return 0, nil
	}
	stale := ids[keep:]

	var deleted int64
	err = runWithSQLiteBusyRetry(ctx, func() error {
		tx := DB.WithContext(ctx).Where("id IN ?", stale).Delete(&ProbeReport{})
		deleted = tx.RowsAffected
		return tx.Error
	})
	if err != nil {
		return 0, errors.Wrapf(err, "delete stale reports for tier %q", tier)
	}
	return deleted, nil
}

// CleanAllOldReports applies CleanOldReports to every tier with history.
func CleanAllOldReports(ctx context.Context, keep int) (int64, error) {
	var tiers []string
	if err := DB.WithContext(ctx).Model(&ProbeReport{}).Distinct().Pluck("tier", &tiers).Error; err != nil {
		return 0, errors.Wrap(err, "list tiers with reports")
	}

	var total int64
	for _, tier := range tiers {
		n, err := CleanOldReports(ctx, tier, keep)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		logger.Logger.Info("deleted old probe reports", zap.Int64("deleted_rows", total), zap.Int("keep_per_tier", keep))
	}
	return total, nil
}
