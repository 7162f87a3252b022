package globelogix

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/shopspring/decimal"
)

var ErrRewardConfigNotFound = runtime.NewError("reward config not found", NOT_FOUND_ERROR_CODE)

// RewardsConfig is the data definition for the RewardsSystem type.
type RewardsConfig struct {
	FreshnessWindowSec int64  `json:"freshness_window_sec,omitempty"` // 86400
	LockTTLSec         int64  `json:"lock_ttl_sec,omitempty"`         // 900
	RecordTTLSec       int64  `json:"record_ttl_sec,omitempty"`       // 90 days
	BatchMinRecipients int    `json:"batch_min_recipients,omitempty"` // 2, negative disables batching
	MinQualifyingScore int64  `json:"min_qualifying_score,omitempty"` // 1
	NotifyWinners      bool   `json:"notify_winners,omitempty"`
	WeeklyCycleCron    string `json:"weekly_cycle_cron,omitempty"` // "55 23 * * 0", empty disables
	CollectionCron     string `json:"collection_cron,omitempty"`   // "0 0 * * *", empty disables
}

func (c *RewardsConfig) applyDefaults() {
	if c.FreshnessWindowSec <= 0 {
		c.FreshnessWindowSec = int64(DailyWindow.Seconds())
	}
	if c.LockTTLSec <= 0 {
		c.LockTTLSec = 900
	}
	if c.RecordTTLSec <= 0 {
		c.RecordTTLSec = 90 * 24 * 60 * 60
	}
	if c.BatchMinRecipients == 0 {
		c.BatchMinRecipients = 2
	}
	if c.MinQualifyingScore <= 0 {
		c.MinQualifyingScore = 1
	}
}

// RewardConfig is the reward pool currently on offer. There is a single config, changed by administrators.
type RewardConfig struct {
	Symbol        string          `json:"symbol"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	UpdateTimeSec int64           `json:"update_time_sec,omitempty"`
}

type DistributionStatus string

const (
	DistributionStatusCompleted          DistributionStatus = "completed"
	DistributionStatusPartial            DistributionStatus = "partial"
	DistributionStatusFailed             DistributionStatus = "failed"
	DistributionStatusUnknown            DistributionStatus = "unknown_outcome"
	DistributionStatusBlocked            DistributionStatus = "blocked"
	DistributionStatusPreview            DistributionStatus = "preview"
	DistributionStatusNoRewardConfig     DistributionStatus = "no_reward_config"
	DistributionStatusNoPlayers          DistributionStatus = "no_qualifying_players"
	DistributionStatusAlreadyDistributed DistributionStatus = "already_distributed"
	DistributionStatusAlreadyRunning     DistributionStatus = "already_running"
	DistributionStatusInvalid            DistributionStatus = "invalid"
)

// DistributionOutcome is the result of a distribution attempt. Expected refusals are reported through Status
// rather than as errors.
type DistributionOutcome struct {
	Status      DistributionStatus     `json:"status"`
	Message     string                 `json:"message,omitempty"`
	RunID       string                 `json:"run_id,omitempty"`
	Timeframe   Timeframe              `json:"timeframe"`
	PeriodID    string                 `json:"period_id,omitempty"`
	Reward      *RewardConfig          `json:"reward,omitempty"`
	Allocations []*RewardAllocation    `json:"allocations,omitempty"`
	Execution   *DistributionExecution `json:"execution,omitempty"`
	TimeSec     int64                  `json:"time_sec,omitempty"`
}

// DistributionRequest selects what to distribute. Without Standings the current board of the timeframe is read;
// the weekly cycle passes the standings it captured before the reset along with their PeriodID.
type DistributionRequest struct {
	Timeframe Timeframe
	PeriodID  string
	Standings []*LeaderboardEntry
}

// WeeklyCycleResult describes one run of the weekly cycle.
type WeeklyCycleResult struct {
	PeriodID     string               `json:"period_id"`
	ResetCount   int                  `json:"reset_count"`
	Distribution *DistributionOutcome `json:"distribution,omitempty"`
	Skipped      string               `json:"skipped,omitempty"`
}

// The RewardsSystem turns leaderboard standings into guarded reward payouts.
type RewardsSystem interface {
	System

	// GetRewardConfig returns the current reward pool or ErrRewardConfigNotFound.
	GetRewardConfig(ctx context.Context, logger runtime.Logger) (config *RewardConfig, err error)

	// SetRewardConfig replaces the reward pool.
	SetRewardConfig(ctx context.Context, logger runtime.Logger, config *RewardConfig) (updated *RewardConfig, err error)

	// PreviewDistribution computes the distribution of the current board without moving funds.
	PreviewDistribution(ctx context.Context, logger runtime.Logger, timeframe Timeframe) (outcome *DistributionOutcome, err error)

	// Distribute computes, verifies and executes a distribution at most once per freshness window and never
	// concurrently for the same timeframe period.
	Distribute(ctx context.Context, logger runtime.Logger, req *DistributionRequest) (outcome *DistributionOutcome, err error)

	// GetLastDistribution returns the most recent distribution that moved funds for the timeframe, or nil.
	GetLastDistribution(ctx context.Context, logger runtime.Logger, timeframe Timeframe) (outcome *DistributionOutcome, err error)

	// GetUnresolvedDistribution returns the run of the timeframe whose transfer outcome is unknown, or nil.
	// While one exists Distribute refuses the timeframe.
	GetUnresolvedDistribution(ctx context.Context, logger runtime.Logger, timeframe Timeframe) (outcome *DistributionOutcome, err error)

	// ResolveDistribution clears the unresolved run of the timeframe once it was reconciled with the custody
	// account. When landed is true the run counts as the last distribution of the timeframe.
	ResolveDistribution(ctx context.Context, logger runtime.Logger, timeframe Timeframe, landed bool) (outcome *DistributionOutcome, err error)

	// RunWeeklyCycle captures the weekly standings, resets the weekly board and then distributes rewards from
	// the captured standings.
	RunWeeklyCycle(ctx context.Context, logger runtime.Logger) (result *WeeklyCycleResult, err error)
}
