package globelogix

import (
	"context"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/shopspring/decimal"
)

var ErrCollectionRunning = runtime.NewError("contribution collection already running", ALREADY_EXISTS_ERROR_CODE)

// CollectionConfig is the data definition for the CollectionSystem type.
type CollectionConfig struct {
	MinDistributionBalance decimal.Decimal `json:"min_distribution_balance"`
	PacingDelayMs          int64           `json:"pacing_delay_ms,omitempty"` // 1000, negative disables pacing
	LockTTLSec             int64           `json:"lock_ttl_sec,omitempty"`    // 3600
	MaxDailyContribution   decimal.Decimal `json:"max_daily_contribution"`    // zero means unbounded
}

func (c *CollectionConfig) applyDefaults() {
	if c.PacingDelayMs == 0 {
		c.PacingDelayMs = 1000
	}
	if c.LockTTLSec <= 0 {
		c.LockTTLSec = 3600
	}
}

// SpendPermissionRecord is a player's standing authorization to pull a daily contribution into the reward pool.
// LastCollectedTimeSec only moves forward and only after a successful pull.
type SpendPermissionRecord struct {
	UserAddress          string          `json:"user_address"`
	Permission           json.RawMessage `json:"permission"`
	DailyContribution    decimal.Decimal `json:"daily_contribution"`
	LastCollectedTimeSec int64           `json:"last_collected_time_sec,omitempty"`
	CreateTimeSec        int64           `json:"create_time_sec,omitempty"`
	UpdateTimeSec        int64           `json:"update_time_sec,omitempty"`
}

// FailedCollection is a contribution that could not be pulled in a run.
type FailedCollection struct {
	UserAddress string          `json:"user_address"`
	Amount      decimal.Decimal `json:"amount"`
	Error       string          `json:"error"`
}

// CollectionResult summarizes a collection run. Partial success is normal.
type CollectionResult struct {
	TotalCollected    decimal.Decimal     `json:"total_collected"`
	SuccessCount      int                 `json:"success_count"`
	SkippedCount      int                 `json:"skipped_count"`
	FailedCollections []*FailedCollection `json:"failed_collections"`
	StartTimeSec      int64               `json:"start_time_sec"`
	EndTimeSec        int64               `json:"end_time_sec"`
}

// The CollectionSystem pulls daily contributions from players' spend permissions into the reward pool.
type CollectionSystem interface {
	System

	// RegisterSpendPermission stores or replaces a player's spend permission. Replacing a permission keeps its
	// last collection time.
	RegisterSpendPermission(ctx context.Context, logger runtime.Logger, userAddress string, permission json.RawMessage, dailyContribution decimal.Decimal) (record *SpendPermissionRecord, err error)

	// CollectDailyContributions pulls every contribution whose daily window has elapsed. A failed pull is
	// recorded and the run moves on to the next player.
	CollectDailyContributions(ctx context.Context, logger runtime.Logger) (result *CollectionResult, err error)

	// ShouldTriggerRewardDistribution reports whether the custody balance reached the distribution threshold.
	ShouldTriggerRewardDistribution(ctx context.Context, logger runtime.Logger) (trigger bool, err error)
}
