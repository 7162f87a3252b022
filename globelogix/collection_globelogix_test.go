package globelogix

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollection(t *testing.T, store ScoreStore, provider FundsTransferProvider) *RedisCollectionSystem {
	collection := NewRedisCollectionSystem(&CollectionConfig{
		MinDistributionBalance: decimal.NewFromInt(1),
		PacingDelayMs:          -1,
		MaxDailyContribution:   decimal.NewFromInt(5),
	}, store, provider, time.Second)
	collection.now = fixedClock(testNow)
	return collection
}

func permissionFor(address string) json.RawMessage {
	return json.RawMessage(`{"account":"` + address + `","spender":"0xpool"}`)
}

func TestRedisCollectionSystem_RegisterSpendPermission(t *testing.T) {
	store, _ := newTestStore(t)
	collection := newTestCollection(t, store, newFakeFundsProvider())
	logger := newTestLogger(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		address    string
		permission json.RawMessage
		amount     decimal.Decimal
	}{
		{name: "missing address", address: " ", permission: permissionFor("0xa"), amount: decimal.NewFromInt(1)},
		{name: "missing permission", address: "0xa", permission: nil, amount: decimal.NewFromInt(1)},
		{name: "malformed permission", address: "0xa", permission: json.RawMessage(`{"account":`), amount: decimal.NewFromInt(1)},
		{name: "zero contribution", address: "0xa", permission: permissionFor("0xa"), amount: decimal.Zero},
		{name: "above maximum", address: "0xa", permission: permissionFor("0xa"), amount: decimal.NewFromInt(6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collection.RegisterSpendPermission(ctx, logger, tt.address, tt.permission, tt.amount)
			assert.ErrorIs(t, err, ErrBadInput)
		})
	}

	record, err := collection.RegisterSpendPermission(ctx, logger, "0xa", permissionFor("0xa"), decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.Equal(t, "0xa", record.UserAddress)
	assert.Equal(t, testNow.Unix(), record.CreateTimeSec)
	assert.Zero(t, record.LastCollectedTimeSec)
}

func TestRedisCollectionSystem_ReRegisterKeepsWindow(t *testing.T) {
	store, _ := newTestStore(t)
	provider := newFakeFundsProvider()
	collection := newTestCollection(t, store, provider)
	logger := newTestLogger(t)
	ctx := context.Background()

	_, err := collection.RegisterSpendPermission(ctx, logger, "0xa", permissionFor("0xa"), decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	result, err := collection.CollectDailyContributions(ctx, logger)
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)

	collection.now = fixedClock(testNow.Add(time.Hour))
	record, err := collection.RegisterSpendPermission(ctx, logger, "0xa", permissionFor("0xa"), decimal.RequireFromString("0.02"))
	require.NoError(t, err)
	assert.Equal(t, testNow.Unix(), record.LastCollectedTimeSec)
	assert.Equal(t, testNow.Unix(), record.CreateTimeSec)
	assert.Equal(t, testNow.Add(time.Hour).Unix(), record.UpdateTimeSec)

	result, err = collection.CollectDailyContributions(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Equal(t, 1, provider.pullCount())
}

// pullHookProvider runs duringPull once, while the first pull is in flight.
type pullHookProvider struct {
	*fakeFundsProvider
	duringPull func()
}

func (p *pullHookProvider) PullAuthorizedFunds(ctx context.Context, permission json.RawMessage, amount decimal.Decimal) (*TransferResult, error) {
	if hook := p.duringPull; hook != nil {
		p.duringPull = nil
		hook()
	}
	return p.fakeFundsProvider.PullAuthorizedFunds(ctx, permission, amount)
}

func TestRedisCollectionSystem_ReRegisterDuringPull(t *testing.T) {
	store, _ := newTestStore(t)
	provider := &pullHookProvider{fakeFundsProvider: newFakeFundsProvider()}
	collection := newTestCollection(t, store, provider)
	logger := newTestLogger(t)
	ctx := context.Background()

	_, err := collection.RegisterSpendPermission(ctx, logger, "0xa", json.RawMessage(`{"p":"old"}`), decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	provider.duringPull = func() {
		_, err := collection.RegisterSpendPermission(ctx, logger, "0xa", json.RawMessage(`{"p":"new"}`), decimal.RequireFromString("0.05"))
		require.NoError(t, err)
	}
	result, err := collection.CollectDailyContributions(ctx, logger)
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)
	assert.True(t, result.TotalCollected.Equal(decimal.RequireFromString("0.01")))

	record, err := collection.getRecord(ctx, "0xa")
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":"new"}`, string(record.Permission))
	assert.True(t, record.DailyContribution.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, testNow.Unix(), record.LastCollectedTimeSec)
	assert.Equal(t, testNow.Unix(), record.CreateTimeSec)
}

func TestRedisCollectionSystem_ConcurrentRegisterKeepsCollectionTime(t *testing.T) {
	store, _ := newTestStore(t)
	provider := newFakeFundsProvider()
	collection := newTestCollection(t, store, provider)
	logger := newTestLogger(t)
	ctx := context.Background()

	_, err := collection.RegisterSpendPermission(ctx, logger, "0xa", permissionFor("0xa"), decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := collection.RegisterSpendPermission(ctx, logger, "0xa", permissionFor("0xa"), decimal.RequireFromString("0.02"))
			assert.NoError(t, err)
		}()
	}
	result, err := collection.CollectDailyContributions(ctx, logger)
	wg.Wait()
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)

	record, err := collection.getRecord(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, testNow.Unix(), record.LastCollectedTimeSec)
	assert.True(t, record.DailyContribution.Equal(decimal.RequireFromString("0.02")))
}

func TestRedisCollectionSystem_CollectDailyContributions(t *testing.T) {
	store, _ := newTestStore(t)
	provider := newFakeFundsProvider()
	provider.failFor["0xbad"] = true
	collection := newTestCollection(t, store, provider)
	sender := newTestEventSender()
	collection.SetGlobelogix(sender)
	logger := newTestLogger(t)
	ctx := context.Background()

	for _, address := range []string{"0xa", "0xbad", "0xc"} {
		_, err := collection.RegisterSpendPermission(ctx, logger, address, permissionFor(address), decimal.RequireFromString("0.5"))
		require.NoError(t, err)
	}

	result, err := collection.CollectDailyContributions(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.SkippedCount)
	require.Len(t, result.FailedCollections, 1)
	assert.Equal(t, "0xbad", result.FailedCollections[0].UserAddress)
	assert.Equal(t, "permission revoked", result.FailedCollections[0].Error)
	assert.True(t, result.TotalCollected.Equal(decimal.NewFromInt(1)))
	assert.True(t, provider.balance.Equal(decimal.NewFromInt(1)))

	// The failed player keeps an open window, the others wait a day.
	provider.failFor = map[string]bool{}
	collection.now = fixedClock(testNow.Add(time.Hour))
	result, err = collection.CollectDailyContributions(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.SkippedCount)
	assert.Empty(t, result.FailedCollections)

	collection.now = fixedClock(testNow.Add(DailyWindow))
	result, err = collection.CollectDailyContributions(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Equal(t, 5, provider.pullCount())

	names := sender.publisher.names()
	assert.Contains(t, names, EventContributionCollected)
	assert.Contains(t, names, EventContributionFailed)

	// The run lock is released after every run.
	exists, err := store.Exists(ctx, collectionLockKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisCollectionSystem_CollectWhileRunning(t *testing.T) {
	store, _ := newTestStore(t)
	provider := newFakeFundsProvider()
	collection := newTestCollection(t, store, provider)
	logger := newTestLogger(t)
	ctx := context.Background()

	_, err := collection.RegisterSpendPermission(ctx, logger, "0xa", permissionFor("0xa"), decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, collectionLockKey, "other-run", time.Minute))

	_, err = collection.CollectDailyContributions(ctx, logger)
	assert.ErrorIs(t, err, ErrCollectionRunning)
	assert.Equal(t, 0, provider.pullCount())
}

func TestRedisCollectionSystem_NoProvider(t *testing.T) {
	store, _ := newTestStore(t)
	collection := newTestCollection(t, store, nil)
	logger := newTestLogger(t)
	ctx := context.Background()

	_, err := collection.CollectDailyContributions(ctx, logger)
	assert.ErrorIs(t, err, ErrSystemNotAvailable)
	_, err = collection.ShouldTriggerRewardDistribution(ctx, logger)
	assert.ErrorIs(t, err, ErrSystemNotAvailable)
}

func TestRedisCollectionSystem_ShouldTriggerRewardDistribution(t *testing.T) {
	store, _ := newTestStore(t)
	provider := newFakeFundsProvider()
	collection := newTestCollection(t, store, provider)
	logger := newTestLogger(t)
	ctx := context.Background()

	provider.balance = decimal.RequireFromString("0.999999")
	trigger, err := collection.ShouldTriggerRewardDistribution(ctx, logger)
	require.NoError(t, err)
	assert.False(t, trigger)

	provider.balance = decimal.NewFromInt(1)
	trigger, err = collection.ShouldTriggerRewardDistribution(ctx, logger)
	require.NoError(t, err)
	assert.True(t, trigger)

	provider.balanceErr = errors.New("rpc unavailable")
	_, err = collection.ShouldTriggerRewardDistribution(ctx, logger)
	assert.Error(t, err)
}
