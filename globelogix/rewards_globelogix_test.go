package globelogix

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rewardsFixture struct {
	store        *RedisScoreStore
	leaderboards *RedisLeaderboardsSystem
	progress     *RedisProgressSystem
	provider     *fakeFundsProvider
	rewards      *RedisRewardsSystem
	sender       *testEventSender
}

func newRewardsFixture(t *testing.T) *rewardsFixture {
	store, _ := newTestStore(t)
	locks := NewKeyedMutex()
	leaderboards := newTestLeaderboards(t, store, locks)
	progress := newTestProgress(t, store, locks, leaderboards)
	provider := newFakeFundsProvider()

	rewards := NewRedisRewardsSystem(&RewardsConfig{}, store, leaderboards, NewDistributionExecutor(provider, time.Second, 2))
	rewards.now = fixedClock(testNow)
	sender := newTestEventSender()
	rewards.SetGlobelogix(sender)

	return &rewardsFixture{
		store:        store,
		leaderboards: leaderboards,
		progress:     progress,
		provider:     provider,
		rewards:      rewards,
		sender:       sender,
	}
}

func (f *rewardsFixture) setPool(t *testing.T, amount string) {
	_, err := f.rewards.SetRewardConfig(context.Background(), newTestLogger(t), &RewardConfig{
		Symbol: "ETH",
		Amount: decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
}

func (f *rewardsFixture) seedStandings(t *testing.T) {
	seedPlayer(t, f.progress, "0xa", 300)
	seedPlayer(t, f.progress, "0xb", 200)
	seedPlayer(t, f.progress, "0xc", 100)
}

func TestRedisRewardsSystem_RewardConfig(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	_, err := f.rewards.GetRewardConfig(ctx, logger)
	assert.ErrorIs(t, err, ErrRewardConfigNotFound)

	invalid := []*RewardConfig{
		nil,
		{Symbol: "", Amount: decimal.NewFromInt(1)},
		{Symbol: "ETH", Amount: decimal.Zero},
		{Symbol: "ETH", Amount: decimal.NewFromInt(-1)},
	}
	for _, config := range invalid {
		_, err := f.rewards.SetRewardConfig(ctx, logger, config)
		assert.ErrorIs(t, err, ErrBadInput)
	}

	updated, err := f.rewards.SetRewardConfig(ctx, logger, &RewardConfig{Symbol: " ETH ", Amount: decimal.RequireFromString("0.25"), Description: "Weekly pool"})
	require.NoError(t, err)
	assert.Equal(t, "ETH", updated.Symbol)
	assert.Equal(t, testNow.Unix(), updated.UpdateTimeSec)

	config, err := f.rewards.GetRewardConfig(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, "ETH", config.Symbol)
	assert.Equal(t, "Weekly pool", config.Description)
	assert.True(t, config.Amount.Equal(decimal.RequireFromString("0.25")))
}

func TestRedisRewardsSystem_PreviewDistribution(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	outcome, err := f.rewards.PreviewDistribution(ctx, logger, TimeframeWeek)
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusNoRewardConfig, outcome.Status)

	f.setPool(t, "1")
	outcome, err = f.rewards.PreviewDistribution(ctx, logger, TimeframeWeek)
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusNoPlayers, outcome.Status)

	f.seedStandings(t)
	outcome, err = f.rewards.PreviewDistribution(ctx, logger, "")
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusPreview, outcome.Status)
	assert.Equal(t, TimeframeWeek, outcome.Timeframe)
	assert.Equal(t, "2026-W42", outcome.PeriodID)
	require.Len(t, outcome.Allocations, 3)
	assert.Equal(t, "0xa", outcome.Allocations[0].Address)
	assert.True(t, TotalAmount(outcome.Allocations).Equal(decimal.RequireFromString("0.45")))

	assert.Equal(t, 0, f.provider.transferCount())
	last, err := f.rewards.GetLastDistribution(ctx, logger, TimeframeWeek)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = f.rewards.PreviewDistribution(ctx, logger, "yearly")
	assert.ErrorIs(t, err, ErrUnknownTimeframe)
}

func TestRedisRewardsSystem_Distribute(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	f.setPool(t, "1")
	f.seedStandings(t)

	outcome, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusCompleted, outcome.Status)
	assert.NotEmpty(t, outcome.RunID)
	require.NotNil(t, outcome.Execution)
	assert.Equal(t, 3, outcome.Execution.PaidCount)
	assert.True(t, outcome.Execution.TotalPaid.Equal(decimal.RequireFromString("0.45")))
	assert.Equal(t, 3, f.provider.transferCount())

	// The run is recorded and marks the timeframe as distributed.
	exists, err := f.store.Exists(ctx, distributionRecordKeyPrefix+outcome.RunID)
	require.NoError(t, err)
	assert.True(t, exists)
	last, err := f.rewards.GetLastDistribution(ctx, logger, TimeframeWeek)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, outcome.RunID, last.RunID)

	// The run lock is released.
	exists, err = f.store.Exists(ctx, distributionLockKey(TimeframeWeek, outcome.PeriodID))
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Contains(t, f.sender.publisher.names(), EventDistributionExecuted)
}

func TestRedisRewardsSystem_Distribute_Freshness(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	f.setPool(t, "1")
	f.seedStandings(t)

	first, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	require.Equal(t, DistributionStatusCompleted, first.Status)

	f.rewards.now = fixedClock(testNow.Add(23 * time.Hour))
	second, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusAlreadyDistributed, second.Status)
	assert.Contains(t, second.Message, first.RunID)
	assert.Equal(t, 3, f.provider.transferCount())

	// Other timeframes have their own freshness record.
	monthly, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeMonth})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusCompleted, monthly.Status)

	f.rewards.now = fixedClock(testNow.Add(DailyWindow))
	third, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusCompleted, third.Status)
	assert.NotEqual(t, first.RunID, third.RunID)
}

func TestRedisRewardsSystem_Distribute_Partial(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	f.setPool(t, "1")
	f.seedStandings(t)
	f.provider.failFor["0xb"] = true

	outcome, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusPartial, outcome.Status)
	assert.Equal(t, 2, outcome.Execution.PaidCount)
	assert.Equal(t, 1, outcome.Execution.FailedCount)

	// Funds moved, so the timeframe counts as distributed.
	last, err := f.rewards.GetLastDistribution(ctx, logger, TimeframeWeek)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, DistributionStatusPartial, last.Status)

	assert.Contains(t, f.sender.publisher.names(), EventTransferFailed)
}

func TestRedisRewardsSystem_Distribute_AllFailedCanRetry(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	f.setPool(t, "1")
	f.seedStandings(t)
	for _, address := range []string{"0xa", "0xb", "0xc"} {
		f.provider.failFor[address] = true
	}

	outcome, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusFailed, outcome.Status)

	last, err := f.rewards.GetLastDistribution(ctx, logger, TimeframeWeek)
	require.NoError(t, err)
	assert.Nil(t, last)

	f.provider.failFor = map[string]bool{}
	outcome, err = f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusCompleted, outcome.Status)
}

// interleavingStore runs beforeLock once, right before the first distribution lock is requested.
type interleavingStore struct {
	ScoreStore
	beforeLock func()
}

func (s *interleavingStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if hook := s.beforeLock; hook != nil && strings.HasPrefix(key, distributionLockKeyPrefix) {
		s.beforeLock = nil
		hook()
	}
	return s.ScoreStore.SetIfAbsent(ctx, key, value, ttl)
}

func TestRedisRewardsSystem_Distribute_RunCompletedBeforeLock(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	f.setPool(t, "1")
	f.seedStandings(t)

	var earlier *DistributionOutcome
	store := &interleavingStore{ScoreStore: f.store}
	store.beforeLock = func() {
		var err error
		earlier, err = f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
		require.NoError(t, err)
	}
	f.rewards.store = store

	outcome, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	require.NotNil(t, earlier)
	assert.Equal(t, DistributionStatusCompleted, earlier.Status)
	assert.Equal(t, DistributionStatusAlreadyDistributed, outcome.Status)
	assert.Contains(t, outcome.Message, earlier.RunID)
	assert.Equal(t, 3, f.provider.transferCount())
}

func (f *rewardsFixture) useBatchProvider(provider *fakeBatchProvider) {
	f.rewards.executor = NewDistributionExecutor(provider, time.Second, 2)
}

func TestRedisRewardsSystem_Distribute_UnknownOutcomeBlocks(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	f.setPool(t, "1")
	f.seedStandings(t)
	provider := &fakeBatchProvider{fakeFundsProvider: f.provider, sentErr: context.DeadlineExceeded}
	f.useBatchProvider(provider)

	first, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusUnknown, first.Status)
	assert.Equal(t, 3, first.Execution.UnknownCount)
	assert.Equal(t, 1, provider.batchCount())

	unresolved, err := f.rewards.GetUnresolvedDistribution(ctx, logger, TimeframeWeek)
	require.NoError(t, err)
	require.NotNil(t, unresolved)
	assert.Equal(t, first.RunID, unresolved.RunID)

	// Retries are refused, also after the freshness window.
	provider.sentErr = nil
	second, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusBlocked, second.Status)
	assert.Contains(t, second.Message, first.RunID)

	f.rewards.now = fixedClock(testNow.Add(2 * DailyWindow))
	third, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusBlocked, third.Status)
	assert.Equal(t, 1, provider.batchCount())

	// Reconciled as landed, the run becomes the last distribution of the week.
	f.rewards.now = fixedClock(testNow.Add(time.Hour))
	resolved, err := f.rewards.ResolveDistribution(ctx, logger, TimeframeWeek, true)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, DistributionStatusCompleted, resolved.Status)
	assert.Equal(t, 3, resolved.Execution.PaidCount)
	assert.True(t, resolved.Execution.TotalPaid.Equal(decimal.RequireFromString("0.45")))

	last, err := f.rewards.GetLastDistribution(ctx, logger, TimeframeWeek)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, first.RunID, last.RunID)

	fourth, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusAlreadyDistributed, fourth.Status)
	assert.Equal(t, 1, provider.batchCount())
}

func TestRedisRewardsSystem_ResolveDistribution_NotLanded(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	resolved, err := f.rewards.ResolveDistribution(ctx, logger, TimeframeWeek, false)
	require.NoError(t, err)
	assert.Nil(t, resolved)

	f.setPool(t, "1")
	f.seedStandings(t)
	provider := &fakeBatchProvider{fakeFundsProvider: f.provider, batchErr: errors.New("connection refused")}
	f.useBatchProvider(provider)

	first, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	require.Equal(t, DistributionStatusUnknown, first.Status)

	resolved, err = f.rewards.ResolveDistribution(ctx, logger, TimeframeWeek, false)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, DistributionStatusFailed, resolved.Status)
	assert.Equal(t, 3, resolved.Execution.FailedCount)
	assert.Equal(t, 0, resolved.Execution.UnknownCount)

	last, err := f.rewards.GetLastDistribution(ctx, logger, TimeframeWeek)
	require.NoError(t, err)
	assert.Nil(t, last)

	provider.batchErr = nil
	retry, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusCompleted, retry.Status)
	assert.Equal(t, 1, provider.batchCount())
}

func TestRedisRewardsSystem_Distribute_AlreadyRunning(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	f.setPool(t, "1")
	f.seedStandings(t)

	lockKey := distributionLockKey(TimeframeWeek, TimeframeWeek.PeriodID(testNow))
	require.NoError(t, f.store.Set(ctx, lockKey, "another-run", time.Minute))

	outcome, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusAlreadyRunning, outcome.Status)
	assert.Equal(t, 0, f.provider.transferCount())

	// The lock of the other run is left alone.
	value, err := f.store.Get(ctx, lockKey)
	require.NoError(t, err)
	assert.Equal(t, "another-run", value)
}

func TestRedisRewardsSystem_Distribute_Refusals(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	outcome, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusNoRewardConfig, outcome.Status)

	f.setPool(t, "1")
	_, err = f.progress.SaveLevelProgress(ctx, logger, &SaveProgressRequest{PlayerID: "0xzero", Level: 1, Score: 0})
	require.NoError(t, err)

	outcome, err = f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: TimeframeWeek})
	require.NoError(t, err)
	assert.Equal(t, DistributionStatusNoPlayers, outcome.Status)

	_, err = f.rewards.Distribute(ctx, logger, nil)
	assert.ErrorIs(t, err, ErrBadInput)
	_, err = f.rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: "decade"})
	assert.ErrorIs(t, err, ErrUnknownTimeframe)
	assert.Equal(t, 0, f.provider.transferCount())
}

func TestRedisRewardsSystem_Distribute_Invalid(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	f.setPool(t, "1")
	outcome, err := f.rewards.Distribute(ctx, logger, &DistributionRequest{
		Timeframe: TimeframeWeek,
		Standings: []*LeaderboardEntry{
			{PlayerID: "0xabc", Score: 10},
			{PlayerID: "0xABC", Score: 5},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDistributionInvalid))
	require.NotNil(t, outcome)
	assert.Equal(t, DistributionStatusInvalid, outcome.Status)
	assert.Equal(t, 0, f.provider.transferCount())

	exists, err := f.store.Exists(ctx, distributionLockKey(TimeframeWeek, outcome.PeriodID))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisRewardsSystem_Distribute_NoExecutor(t *testing.T) {
	store, _ := newTestStore(t)
	rewards := NewRedisRewardsSystem(nil, store, newTestLeaderboards(t, store, nil), nil)

	_, err := rewards.Distribute(context.Background(), newTestLogger(t), &DistributionRequest{Timeframe: TimeframeWeek})
	assert.ErrorIs(t, err, ErrSystemNotAvailable)
}

func TestRedisRewardsSystem_RunWeeklyCycle(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	collection := NewRedisCollectionSystem(&CollectionConfig{MinDistributionBalance: decimal.NewFromInt(1)}, f.store, f.provider, time.Second)
	f.rewards.SetCollectionSystem(collection)
	f.provider.balance = decimal.NewFromInt(5)

	f.setPool(t, "1")
	f.seedStandings(t)

	result, err := f.rewards.RunWeeklyCycle(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, "2026-W42", result.PeriodID)
	assert.Equal(t, 3, result.ResetCount)
	assert.Empty(t, result.Skipped)
	require.NotNil(t, result.Distribution)
	assert.Equal(t, DistributionStatusCompleted, result.Distribution.Status)

	// Rewards follow the standings captured before the reset.
	require.Len(t, result.Distribution.Allocations, 3)
	assert.Equal(t, "0xa", result.Distribution.Allocations[0].Address)

	entries, err := f.leaderboards.GetLeaderboard(ctx, logger, TimeframeWeek, 10)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.Equal(t, int64(0), entry.Score)
	}
}

func TestRedisRewardsSystem_RunWeeklyCycle_Skips(t *testing.T) {
	f := newRewardsFixture(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	f.seedStandings(t)

	result, err := f.rewards.RunWeeklyCycle(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ResetCount)
	assert.Equal(t, "no reward config", result.Skipped)

	collection := NewRedisCollectionSystem(&CollectionConfig{MinDistributionBalance: decimal.NewFromInt(10)}, f.store, f.provider, time.Second)
	f.rewards.SetCollectionSystem(collection)
	f.provider.balance = decimal.NewFromInt(2)
	f.setPool(t, "1")

	result, err = f.rewards.RunWeeklyCycle(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, "custody balance below threshold", result.Skipped)
	assert.Nil(t, result.Distribution)

	f.provider.balanceErr = errors.New("rpc unavailable")
	result, err = f.rewards.RunWeeklyCycle(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, "custody balance unavailable", result.Skipped)
	assert.Equal(t, 0, f.provider.transferCount())
}
