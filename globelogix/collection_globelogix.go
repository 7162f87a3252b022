package globelogix

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	spendPermissionsKey = "spend_permissions"
	collectionLockKey   = "collection:in-progress"
)

var _ CollectionSystem = &RedisCollectionSystem{}

// RedisCollectionSystem implements the CollectionSystem with spend permissions kept in a single store hash keyed
// by user address.
type RedisCollectionSystem struct {
	config     *CollectionConfig
	store      ScoreStore
	provider   FundsTransferProvider
	timeout    time.Duration
	window     EligibilityWindow
	locks      *KeyedMutex
	globelogix Globelogix

	now func() time.Time
}

func NewRedisCollectionSystem(config *CollectionConfig, store ScoreStore, provider FundsTransferProvider, timeout time.Duration) *RedisCollectionSystem {
	if config == nil {
		config = &CollectionConfig{}
	}
	config.applyDefaults()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RedisCollectionSystem{
		config:   config,
		store:    store,
		provider: provider,
		timeout:  timeout,
		window:   NewEligibilityWindow(DailyWindow),
		locks:    NewKeyedMutex(),
		now:      time.Now,
	}
}

func (c *RedisCollectionSystem) SetGlobelogix(gl Globelogix) {
	c.globelogix = gl
}

func (c *RedisCollectionSystem) GetType() SystemType {
	return SystemTypeCollection
}

func (c *RedisCollectionSystem) GetConfig() any {
	return c.config
}

func (c *RedisCollectionSystem) RegisterSpendPermission(ctx context.Context, logger runtime.Logger, userAddress string, permission json.RawMessage, dailyContribution decimal.Decimal) (*SpendPermissionRecord, error) {
	userAddress = strings.TrimSpace(userAddress)
	if userAddress == "" || len(permission) == 0 || !json.Valid(permission) {
		return nil, ErrBadInput
	}
	if !dailyContribution.IsPositive() {
		return nil, ErrBadInput
	}
	if c.config.MaxDailyContribution.IsPositive() && dailyContribution.GreaterThan(c.config.MaxDailyContribution) {
		return nil, ErrBadInput
	}

	now := c.now().Unix()
	record := &SpendPermissionRecord{
		UserAddress:       userAddress,
		Permission:        permission,
		DailyContribution: dailyContribution,
		CreateTimeSec:     now,
		UpdateTimeSec:     now,
	}

	unlock := c.locks.Lock(permissionLockKey(userAddress))
	defer unlock()

	// Keep the collection history of a replaced permission so re-registering cannot reopen the window.
	existing, err := c.getRecord(ctx, userAddress)
	if err != nil && !errors.Is(err, ErrStoreKeyNotFound) {
		logger.Error("Failed to read spend permission for %s: %v", userAddress, err)
		return nil, err
	}
	if existing != nil {
		record.CreateTimeSec = existing.CreateTimeSec
		record.LastCollectedTimeSec = existing.LastCollectedTimeSec
	}

	if err := c.saveRecord(ctx, record); err != nil {
		logger.Error("Failed to save spend permission for %s: %v", userAddress, err)
		return nil, err
	}
	return record, nil
}

func (c *RedisCollectionSystem) CollectDailyContributions(ctx context.Context, logger runtime.Logger) (*CollectionResult, error) {
	if c.provider == nil {
		return nil, ErrSystemNotAvailable
	}

	// Only one collection run at a time
	token := uuid.NewString()
	acquired, err := c.store.SetIfAbsent(ctx, collectionLockKey, token, time.Duration(c.config.LockTTLSec)*time.Second)
	if err != nil {
		logger.Error("Failed to acquire collection lock: %v", err)
		return nil, err
	}
	if !acquired {
		return nil, ErrCollectionRunning
	}
	defer releaseLock(context.WithoutCancel(ctx), logger, c.store, collectionLockKey, token)

	records, err := c.listRecords(ctx, logger)
	if err != nil {
		logger.Error("Failed to list spend permissions: %v", err)
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if c.config.PacingDelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(c.config.PacingDelayMs)*time.Millisecond), 1)
	}

	result := &CollectionResult{
		TotalCollected:    decimal.Zero,
		FailedCollections: make([]*FailedCollection, 0),
		StartTimeSec:      c.now().Unix(),
	}
	for _, record := range records {
		if !c.window.Eligible(c.now(), unixTime(record.LastCollectedTimeSec)) {
			result.SkippedCount++
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			logger.Warn("Collection run stopped before %s: %v", record.UserAddress, err)
			break
		}

		if err := c.collect(ctx, logger, record); err != nil {
			result.FailedCollections = append(result.FailedCollections, &FailedCollection{
				UserAddress: record.UserAddress,
				Amount:      record.DailyContribution,
				Error:       err.Error(),
			})
			sendEvents(ctx, logger, c.globelogix, "", newPublisherEvent(c, EventContributionFailed, record.UserAddress, record.DailyContribution.String(), map[string]string{
				"error": err.Error(),
			}))
			continue
		}

		result.SuccessCount++
		result.TotalCollected = result.TotalCollected.Add(record.DailyContribution)
		sendEvents(ctx, logger, c.globelogix, "", newPublisherEvent(c, EventContributionCollected, record.UserAddress, record.DailyContribution.String(), nil))
	}
	result.EndTimeSec = c.now().Unix()

	logger.Info("Collected %s from %d players, %d skipped, %d failed", result.TotalCollected, result.SuccessCount, result.SkippedCount, len(result.FailedCollections))
	return result, nil
}

// collect pulls one contribution and advances its window only once the pull succeeded.
func (c *RedisCollectionSystem) collect(ctx context.Context, logger runtime.Logger, record *SpendPermissionRecord) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	transfer, err := c.provider.PullAuthorizedFunds(callCtx, record.Permission, record.DailyContribution)
	if err != nil {
		logger.Error("Failed to pull contribution from %s: %v", record.UserAddress, err)
		return err
	}
	if transfer == nil || !transfer.Success {
		message := "pull rejected"
		if transfer != nil && transfer.Error != "" {
			message = transfer.Error
		}
		logger.Error("Contribution pull from %s rejected: %s", record.UserAddress, message)
		return errors.New(message)
	}

	if err := c.markCollected(ctx, record); err != nil {
		// Funds moved, the run still counts the contribution.
		logger.Error("Failed to record collection time for %s after pull %s: %v", record.UserAddress, transfer.TransactionRef, err)
	}
	return nil
}

// markCollected advances only the collection time of the stored record, which may have been replaced while the
// pull was in flight.
func (c *RedisCollectionSystem) markCollected(ctx context.Context, pulled *SpendPermissionRecord) error {
	unlock := c.locks.Lock(permissionLockKey(pulled.UserAddress))
	defer unlock()

	record, err := c.getRecord(ctx, pulled.UserAddress)
	switch {
	case errors.Is(err, ErrStoreKeyNotFound):
		record = pulled
	case err != nil:
		return err
	}
	record.UserAddress = pulled.UserAddress

	now := c.now().Unix()
	if now > record.LastCollectedTimeSec {
		record.LastCollectedTimeSec = now
	}
	record.UpdateTimeSec = now
	return c.saveRecord(ctx, record)
}

func (c *RedisCollectionSystem) ShouldTriggerRewardDistribution(ctx context.Context, logger runtime.Logger) (bool, error) {
	if c.provider == nil {
		return false, ErrSystemNotAvailable
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	balance, err := c.provider.Balance(callCtx)
	if err != nil {
		logger.Error("Failed to read custody balance: %v", err)
		return false, err
	}
	return balance.GreaterThanOrEqual(c.config.MinDistributionBalance), nil
}

func (c *RedisCollectionSystem) getRecord(ctx context.Context, userAddress string) (*SpendPermissionRecord, error) {
	raw, err := c.store.HashGet(ctx, spendPermissionsKey, userAddress)
	if err != nil {
		return nil, err
	}
	var record SpendPermissionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *RedisCollectionSystem) saveRecord(ctx context.Context, record *SpendPermissionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.store.HashSet(ctx, spendPermissionsKey, map[string]string{record.UserAddress: string(data)})
}

// listRecords returns every decodable permission in address order.
func (c *RedisCollectionSystem) listRecords(ctx context.Context, logger runtime.Logger) ([]*SpendPermissionRecord, error) {
	fields, err := c.store.HashGetAll(ctx, spendPermissionsKey)
	if err != nil {
		return nil, err
	}

	records := make([]*SpendPermissionRecord, 0, len(fields))
	for address, raw := range fields {
		var record SpendPermissionRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			logger.Warn("Skipping malformed spend permission for %s: %v", address, err)
			continue
		}
		record.UserAddress = address
		records = append(records, &record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UserAddress < records[j].UserAddress
	})
	return records, nil
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// releaseLock deletes a lock record if it still holds the token it was acquired with.
func releaseLock(ctx context.Context, logger runtime.Logger, store ScoreStore, key, token string) {
	current, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrStoreKeyNotFound) {
			logger.Warn("Failed to read lock %s for release, it will expire: %v", key, err)
		}
		return
	}
	if current != token {
		return
	}
	if err := store.Delete(ctx, key); err != nil {
		logger.Warn("Failed to release lock %s, it will expire: %v", key, err)
	}
}
