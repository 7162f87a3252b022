package globelogix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	rewardConfigKey             = "rewards:config"
	distributionLastKeyPrefix   = "distribution:last:"
	distributionLockKeyPrefix   = "distribution:in-progress:"
	distributionRecordKeyPrefix = "distribution:record:"
	distributionUnresolvedKey   = "distribution:unresolved:"
)

var _ RewardsSystem = &RedisRewardsSystem{}

// RedisRewardsSystem implements the RewardsSystem. A distribution is guarded three times: a lock record with a TTL
// keeps two runs for the same period from executing at the same time, a freshness record read under that lock
// refuses a second payout for the timeframe within the freshness window, and a run whose transfers have an unknown
// outcome blocks the timeframe until it is resolved.
type RedisRewardsSystem struct {
	config        *RewardsConfig
	store         ScoreStore
	leaderboards  LeaderboardsSystem
	collection    CollectionSystem
	notifications NotificationsSystem
	executor      *DistributionExecutor
	globelogix    Globelogix

	now func() time.Time
}

func NewRedisRewardsSystem(config *RewardsConfig, store ScoreStore, leaderboards LeaderboardsSystem, executor *DistributionExecutor) *RedisRewardsSystem {
	if config == nil {
		config = &RewardsConfig{}
	}
	config.applyDefaults()
	return &RedisRewardsSystem{
		config:       config,
		store:        store,
		leaderboards: leaderboards,
		executor:     executor,
		now:          time.Now,
	}
}

func (r *RedisRewardsSystem) SetGlobelogix(gl Globelogix) {
	r.globelogix = gl
}

// SetCollectionSystem enables the custody balance check of the weekly cycle.
func (r *RedisRewardsSystem) SetCollectionSystem(collection CollectionSystem) {
	r.collection = collection
}

// SetNotificationsSystem enables reward notifications to paid players.
func (r *RedisRewardsSystem) SetNotificationsSystem(notifications NotificationsSystem) {
	r.notifications = notifications
}

func (r *RedisRewardsSystem) GetType() SystemType {
	return SystemTypeRewards
}

func (r *RedisRewardsSystem) GetConfig() any {
	return r.config
}

func (r *RedisRewardsSystem) GetRewardConfig(ctx context.Context, logger runtime.Logger) (*RewardConfig, error) {
	raw, err := r.store.Get(ctx, rewardConfigKey)
	if err != nil {
		if errors.Is(err, ErrStoreKeyNotFound) {
			return nil, ErrRewardConfigNotFound
		}
		logger.Error("Failed to read reward config: %v", err)
		return nil, err
	}

	var config RewardConfig
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		logger.Error("Failed to decode reward config: %v", err)
		return nil, ErrRewardConfigNotFound
	}
	return &config, nil
}

func (r *RedisRewardsSystem) SetRewardConfig(ctx context.Context, logger runtime.Logger, config *RewardConfig) (*RewardConfig, error) {
	if config == nil || strings.TrimSpace(config.Symbol) == "" || !config.Amount.IsPositive() {
		return nil, ErrBadInput
	}

	updated := &RewardConfig{
		Symbol:        strings.TrimSpace(config.Symbol),
		Amount:        config.Amount,
		Description:   config.Description,
		UpdateTimeSec: r.now().Unix(),
	}
	data, err := json.Marshal(updated)
	if err != nil {
		return nil, ErrPayloadEncode
	}
	if err := r.store.Set(ctx, rewardConfigKey, string(data), 0); err != nil {
		logger.Error("Failed to save reward config: %v", err)
		return nil, err
	}
	return updated, nil
}

func (r *RedisRewardsSystem) PreviewDistribution(ctx context.Context, logger runtime.Logger, timeframe Timeframe) (*DistributionOutcome, error) {
	timeframe, err := ParseTimeframe(string(timeframe))
	if err != nil {
		return nil, err
	}

	outcome := &DistributionOutcome{
		Timeframe: timeframe,
		PeriodID:  timeframe.PeriodID(r.now()),
		TimeSec:   r.now().Unix(),
	}

	reward, err := r.GetRewardConfig(ctx, logger)
	if err != nil {
		if errors.Is(err, ErrRewardConfigNotFound) {
			return outcome.with(DistributionStatusNoRewardConfig, "No reward config has been set"), nil
		}
		return nil, err
	}
	outcome.Reward = reward

	standings, err := r.leaderboards.GetLeaderboard(ctx, logger, timeframe, len(RewardPercentages))
	if err != nil {
		return nil, err
	}
	outcome.Allocations = ComputeRewardDistribution(r.rankedPlayers(standings), reward.Amount)
	if len(outcome.Allocations) == 0 {
		return outcome.with(DistributionStatusNoPlayers, "No players qualify for rewards"), nil
	}
	if err := VerifyRewardDistribution(outcome.Allocations, reward.Amount); err != nil {
		return outcome.with(DistributionStatusInvalid, err.Error()), ErrDistributionInvalid
	}
	return outcome.with(DistributionStatusPreview, fmt.Sprintf("%s %s to %d players", TotalAmount(outcome.Allocations), reward.Symbol, len(outcome.Allocations))), nil
}

func (r *RedisRewardsSystem) Distribute(ctx context.Context, logger runtime.Logger, req *DistributionRequest) (*DistributionOutcome, error) {
	if req == nil {
		return nil, ErrBadInput
	}
	timeframe, err := ParseTimeframe(string(req.Timeframe))
	if err != nil {
		return nil, err
	}
	if r.executor == nil {
		return nil, ErrSystemNotAvailable
	}

	now := r.now()
	periodID := req.PeriodID
	if periodID == "" {
		periodID = timeframe.PeriodID(now)
	}
	outcome := &DistributionOutcome{
		Timeframe: timeframe,
		PeriodID:  periodID,
		TimeSec:   now.Unix(),
	}

	// Get reward config
	reward, err := r.GetRewardConfig(ctx, logger)
	if err != nil {
		if errors.Is(err, ErrRewardConfigNotFound) {
			return outcome.with(DistributionStatusNoRewardConfig, "No reward config has been set"), nil
		}
		return nil, err
	}
	outcome.Reward = reward

	// Acquire the run lock before reading any guard record
	runID := uuid.NewString()
	lockKey := distributionLockKey(timeframe, periodID)
	acquired, err := r.store.SetIfAbsent(ctx, lockKey, runID, time.Duration(r.config.LockTTLSec)*time.Second)
	if err != nil {
		logger.Error("Failed to acquire distribution lock %s: %v", lockKey, err)
		return nil, err
	}
	if !acquired {
		return outcome.with(DistributionStatusAlreadyRunning, "A distribution for this period is already running"), nil
	}
	defer releaseLock(context.WithoutCancel(ctx), logger, r.store, lockKey, runID)

	// Refuse while an earlier run may or may not have paid
	unresolved, err := r.GetUnresolvedDistribution(ctx, logger, timeframe)
	if err != nil {
		return nil, err
	}
	if unresolved != nil {
		return outcome.with(DistributionStatusBlocked, fmt.Sprintf("Run %s has transfers with an unknown outcome, reconcile and resolve it before distributing again", unresolved.RunID)), nil
	}

	// Refuse when the timeframe was paid out within the freshness window
	last, err := r.GetLastDistribution(ctx, logger, timeframe)
	if err != nil {
		return nil, err
	}
	window := NewEligibilityWindow(time.Duration(r.config.FreshnessWindowSec) * time.Second)
	if last != nil && !window.Eligible(now, unixTime(last.TimeSec)) {
		return outcome.with(DistributionStatusAlreadyDistributed, fmt.Sprintf("Rewards were already distributed by run %s, next distribution possible after %s", last.RunID, window.NextEligible(unixTime(last.TimeSec)).UTC().Format(time.RFC3339))), nil
	}
	outcome.RunID = runID

	// Compute and verify
	standings := req.Standings
	if standings == nil {
		standings, err = r.leaderboards.GetLeaderboard(ctx, logger, timeframe, len(RewardPercentages))
		if err != nil {
			return nil, err
		}
	}
	outcome.Allocations = ComputeRewardDistribution(r.rankedPlayers(standings), reward.Amount)
	if len(outcome.Allocations) == 0 {
		return outcome.with(DistributionStatusNoPlayers, "No players qualify for rewards"), nil
	}
	if err := VerifyRewardDistribution(outcome.Allocations, reward.Amount); err != nil {
		logger.Error("Refusing distribution %s: %v", runID, err)
		return outcome.with(DistributionStatusInvalid, err.Error()), ErrDistributionInvalid
	}

	// Execute
	execution, err := r.executor.Execute(ctx, logger, runID, outcome.Allocations)
	if err != nil {
		logger.Error("Failed to execute distribution %s: %v", runID, err)
		return nil, err
	}
	outcome.Execution = execution
	setExecutionStatus(outcome)
	outcome.TimeSec = r.now().Unix()

	r.recordDistribution(ctx, logger, outcome)
	r.publishDistribution(ctx, logger, outcome)

	if r.config.NotifyWinners && r.notifications != nil && execution.PaidCount > 0 {
		go r.notifications.NotifyRewardsPaid(context.WithoutCancel(ctx), logger, reward, execution)
	}
	return outcome, nil
}

func setExecutionStatus(outcome *DistributionOutcome) {
	execution := outcome.Execution
	symbol := ""
	if outcome.Reward != nil {
		symbol = outcome.Reward.Symbol
	}
	switch {
	case execution.UnknownCount > 0:
		outcome.with(DistributionStatusUnknown, fmt.Sprintf("Distributed %s %s to %d players, %d transfers have an unknown outcome and %d failed", execution.TotalPaid, symbol, execution.PaidCount, execution.UnknownCount, execution.FailedCount))
	case execution.FailedCount == 0:
		outcome.with(DistributionStatusCompleted, fmt.Sprintf("Distributed %s %s to %d players", execution.TotalPaid, symbol, execution.PaidCount))
	case execution.PaidCount > 0:
		outcome.with(DistributionStatusPartial, fmt.Sprintf("Distributed %s %s to %d players, %d transfers failed", execution.TotalPaid, symbol, execution.PaidCount, execution.FailedCount))
	default:
		outcome.with(DistributionStatusFailed, fmt.Sprintf("All %d transfers failed", execution.FailedCount))
	}
}

// recordDistribution persists the run. A run with unknown transfers blocks the timeframe, and a run that moved
// funds marks the timeframe as freshly distributed.
func (r *RedisRewardsSystem) recordDistribution(ctx context.Context, logger runtime.Logger, outcome *DistributionOutcome) {
	data, err := json.Marshal(outcome)
	if err != nil {
		logger.Error("Failed to encode distribution %s: %v", outcome.RunID, err)
		return
	}

	recordTTL := time.Duration(r.config.RecordTTLSec) * time.Second
	if err := r.store.Set(ctx, distributionRecordKeyPrefix+outcome.RunID, string(data), recordTTL); err != nil {
		logger.Error("Failed to record distribution %s: %v", outcome.RunID, err)
	}
	if outcome.Execution == nil {
		return
	}
	if outcome.Execution.UnknownCount > 0 {
		if err := r.store.Set(ctx, distributionUnresolvedKey+string(outcome.Timeframe), string(data), 0); err != nil {
			logger.Error("Failed to block %s distributions after run %s: %v", outcome.Timeframe, outcome.RunID, err)
		}
	}
	if outcome.Execution.PaidCount == 0 {
		return
	}
	if err := r.store.Set(ctx, distributionLastKeyPrefix+string(outcome.Timeframe), string(data), recordTTL); err != nil {
		logger.Error("Failed to mark %s distribution %s as done: %v", outcome.Timeframe, outcome.RunID, err)
	}
}

func (r *RedisRewardsSystem) publishDistribution(ctx context.Context, logger runtime.Logger, outcome *DistributionOutcome) {
	events := []*PublisherEvent{
		newPublisherEvent(r, EventDistributionExecuted, outcome.RunID, outcome.Execution.TotalPaid.String(), map[string]string{
			"timeframe": string(outcome.Timeframe),
			"period":    outcome.PeriodID,
			"symbol":    outcome.Reward.Symbol,
			"status":    string(outcome.Status),
			"paid":      itoa(outcome.Execution.PaidCount),
			"failed":    itoa(outcome.Execution.FailedCount),
		}),
	}
	for _, recipient := range outcome.Execution.Recipients {
		if recipient.Success || recipient.Skipped {
			continue
		}
		events = append(events, newPublisherEvent(r, EventTransferFailed, outcome.RunID, recipient.Amount.String(), map[string]string{
			"address": recipient.Address,
			"error":   recipient.Error,
		}))
	}
	sendEvents(ctx, logger, r.globelogix, "", events...)
}

func (r *RedisRewardsSystem) GetLastDistribution(ctx context.Context, logger runtime.Logger, timeframe Timeframe) (*DistributionOutcome, error) {
	timeframe, err := ParseTimeframe(string(timeframe))
	if err != nil {
		return nil, err
	}

	raw, err := r.store.Get(ctx, distributionLastKeyPrefix+string(timeframe))
	if err != nil {
		if errors.Is(err, ErrStoreKeyNotFound) {
			return nil, nil
		}
		logger.Error("Failed to read last %s distribution: %v", timeframe, err)
		return nil, err
	}

	var outcome DistributionOutcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		// An unreadable record must not reopen the window.
		logger.Error("Failed to decode last %s distribution: %v", timeframe, err)
		return nil, err
	}
	return &outcome, nil
}

func (r *RedisRewardsSystem) GetUnresolvedDistribution(ctx context.Context, logger runtime.Logger, timeframe Timeframe) (*DistributionOutcome, error) {
	timeframe, err := ParseTimeframe(string(timeframe))
	if err != nil {
		return nil, err
	}

	raw, err := r.store.Get(ctx, distributionUnresolvedKey+string(timeframe))
	if err != nil {
		if errors.Is(err, ErrStoreKeyNotFound) {
			return nil, nil
		}
		logger.Error("Failed to read unresolved %s distribution: %v", timeframe, err)
		return nil, err
	}

	var outcome DistributionOutcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		// Still blocks until an operator clears it
		logger.Error("Failed to decode unresolved %s distribution: %v", timeframe, err)
		return &DistributionOutcome{Timeframe: timeframe, Status: DistributionStatusUnknown}, nil
	}
	return &outcome, nil
}

func (r *RedisRewardsSystem) ResolveDistribution(ctx context.Context, logger runtime.Logger, timeframe Timeframe, landed bool) (*DistributionOutcome, error) {
	outcome, err := r.GetUnresolvedDistribution(ctx, logger, timeframe)
	if err != nil || outcome == nil {
		return nil, err
	}
	timeframe = outcome.Timeframe

	if execution := outcome.Execution; execution != nil {
		for _, recipient := range execution.Recipients {
			if !recipient.Unknown {
				continue
			}
			recipient.Unknown = false
			if landed {
				recipient.Success = true
				execution.PaidCount++
				execution.TotalPaid = execution.TotalPaid.Add(recipient.Amount)
			} else {
				execution.FailedCount++
			}
		}
		execution.UnknownCount = 0
		setExecutionStatus(outcome)
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		return nil, ErrPayloadEncode
	}
	recordTTL := time.Duration(r.config.RecordTTLSec) * time.Second
	if outcome.RunID != "" {
		if err := r.store.Set(ctx, distributionRecordKeyPrefix+outcome.RunID, string(data), recordTTL); err != nil {
			logger.Error("Failed to record resolved distribution %s: %v", outcome.RunID, err)
			return nil, err
		}
	}
	// The freshness record is written before the block is lifted
	if outcome.Execution != nil && outcome.Execution.PaidCount > 0 {
		if err := r.store.Set(ctx, distributionLastKeyPrefix+string(timeframe), string(data), recordTTL); err != nil {
			logger.Error("Failed to mark %s distribution %s as done: %v", timeframe, outcome.RunID, err)
			return nil, err
		}
	}
	if err := r.store.Delete(ctx, distributionUnresolvedKey+string(timeframe)); err != nil {
		logger.Error("Failed to unblock %s distributions: %v", timeframe, err)
		return nil, err
	}

	logger.Info("Resolved %s distribution %s as %s", timeframe, outcome.RunID, outcome.Status)
	return outcome, nil
}

func (r *RedisRewardsSystem) RunWeeklyCycle(ctx context.Context, logger runtime.Logger) (*WeeklyCycleResult, error) {
	now := r.now()
	result := &WeeklyCycleResult{
		PeriodID: TimeframeWeek.PeriodID(now),
	}

	// Capture the closing standings
	standings, err := r.leaderboards.GetLeaderboard(ctx, logger, TimeframeWeek, len(RewardPercentages))
	if err != nil {
		return nil, err
	}

	// Reset the weekly board, the distribution only runs once this returns
	count, err := r.leaderboards.ResetLeaderboard(ctx, logger, TimeframeWeek)
	if err != nil {
		logger.Error("Weekly cycle %s failed to reset the leaderboard: %v", result.PeriodID, err)
		return nil, err
	}
	result.ResetCount = count

	if _, err := r.GetRewardConfig(ctx, logger); err != nil {
		if errors.Is(err, ErrRewardConfigNotFound) {
			result.Skipped = "no reward config"
			logger.Info("Weekly cycle %s skipped distribution: %s", result.PeriodID, result.Skipped)
			return result, nil
		}
		return result, err
	}

	if r.collection != nil {
		trigger, err := r.collection.ShouldTriggerRewardDistribution(ctx, logger)
		if err != nil {
			result.Skipped = "custody balance unavailable"
			logger.Warn("Weekly cycle %s skipped distribution: %v", result.PeriodID, err)
			return result, nil
		}
		if !trigger {
			result.Skipped = "custody balance below threshold"
			logger.Info("Weekly cycle %s skipped distribution: %s", result.PeriodID, result.Skipped)
			return result, nil
		}
	}

	outcome, err := r.Distribute(ctx, logger, &DistributionRequest{
		Timeframe: TimeframeWeek,
		PeriodID:  result.PeriodID,
		Standings: standings,
	})
	result.Distribution = outcome
	if err != nil {
		return result, err
	}
	logger.Info("Weekly cycle %s reset %d players, distribution %s", result.PeriodID, count, outcome.Status)
	return result, nil
}

// rankedPlayers keeps the entries that qualify for a reward, in standing order.
func (r *RedisRewardsSystem) rankedPlayers(standings []*LeaderboardEntry) []*RankedPlayer {
	ranked := make([]*RankedPlayer, 0, len(standings))
	for _, entry := range standings {
		if entry == nil || entry.PlayerID == "" || entry.Score < r.config.MinQualifyingScore {
			continue
		}
		ranked = append(ranked, &RankedPlayer{
			Address: entry.PlayerID,
			Name:    entry.Name,
			Score:   entry.Score,
		})
	}
	return ranked
}

func (o *DistributionOutcome) with(status DistributionStatus, message string) *DistributionOutcome {
	o.Status = status
	o.Message = message
	return o
}

func distributionLockKey(timeframe Timeframe, periodID string) string {
	return distributionLockKeyPrefix + string(timeframe) + ":" + periodID
}
