package globelogix

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	leaderboardKeyPrefix  = "leaderboard:"
	leaderboardEntriesKey = ":entries"
)

var _ LeaderboardsSystem = &RedisLeaderboardsSystem{}

// RedisLeaderboardsSystem implements the LeaderboardsSystem on a ScoreStore. Each timeframe period is a sorted set
// of player IDs scored by total score, with a companion hash holding the versioned entry snapshots.
type RedisLeaderboardsSystem struct {
	config     *LeaderboardsConfig
	store      ScoreStore
	locks      *KeyedMutex
	globelogix Globelogix

	now func() time.Time
}

func NewRedisLeaderboardsSystem(config *LeaderboardsConfig, store ScoreStore, locks *KeyedMutex) *RedisLeaderboardsSystem {
	if config == nil {
		config = &LeaderboardsConfig{}
	}
	config.applyDefaults()
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &RedisLeaderboardsSystem{
		config: config,
		store:  store,
		locks:  locks,
		now:    time.Now,
	}
}

func (l *RedisLeaderboardsSystem) SetGlobelogix(gl Globelogix) {
	l.globelogix = gl
}

func (l *RedisLeaderboardsSystem) GetType() SystemType {
	return SystemTypeLeaderboards
}

func (l *RedisLeaderboardsSystem) GetConfig() any {
	return l.config
}

// LeaderboardKey returns the store key of the timeframe period containing at.
func LeaderboardKey(timeframe Timeframe, at time.Time) string {
	return leaderboardKeyPrefix + string(timeframe) + ":" + timeframe.PeriodID(at)
}

func (l *RedisLeaderboardsSystem) ttl(timeframe Timeframe) time.Duration {
	switch timeframe {
	case TimeframeWeek:
		return time.Duration(l.config.WeeklyTTLSec) * time.Second
	case TimeframeMonth:
		return time.Duration(l.config.MonthlyTTLSec) * time.Second
	default:
		return 0
	}
}

func (l *RedisLeaderboardsSystem) clampLimit(limit int) int {
	if limit <= 0 {
		return l.config.DefaultLimit
	}
	if limit > l.config.MaxLimit {
		return l.config.MaxLimit
	}
	return limit
}

// maxLeaderboardFetches bounds how often a read goes further down a board full of malformed entries.
const maxLeaderboardFetches = 5

func (l *RedisLeaderboardsSystem) GetLeaderboard(ctx context.Context, logger runtime.Logger, timeframe Timeframe, limit int) ([]*LeaderboardEntry, error) {
	timeframe, err := ParseTimeframe(string(timeframe))
	if err != nil {
		return nil, err
	}
	limit = l.clampLimit(limit)
	key := LeaderboardKey(timeframe, l.now())

	// Skipped entries are replaced by reading further down the board.
	var entries []*LeaderboardEntry
	fetch := limit
	for attempt := 0; attempt < maxLeaderboardFetches; attempt++ {
		members, err := l.store.SortedSetRange(ctx, key, 0, int64(fetch-1), true)
		if err != nil {
			logger.Error("Failed to read leaderboard %s: %v", key, err)
			return []*LeaderboardEntry{}, nil
		}
		if len(members) == 0 {
			return []*LeaderboardEntry{}, nil
		}
		exhausted := len(members) < fetch

		// Pull in everyone tied with the last member so the tie-break is decided here and not by member order.
		if !exhausted {
			boundary := members[len(members)-1].Score
			tied, err := l.store.SortedSetRangeByScore(ctx, key, boundary, boundary, true)
			if err != nil {
				logger.Warn("Failed to read tied entries at score %v on leaderboard %s: %v", boundary, key, err)
			} else {
				members = mergeScoredMembers(members, tied)
			}
		}

		entries = l.loadEntries(ctx, logger, key, members)
		skipped := len(members) - len(entries)
		if len(entries) >= limit || exhausted || skipped == 0 {
			break
		}
		fetch = limit + skipped
	}

	sortLeaderboardEntries(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i, entry := range entries {
		entry.Rank = i + 1
	}
	return entries, nil
}

// loadEntries resolves sorted set members into their stored snapshots, skipping anything missing or malformed.
func (l *RedisLeaderboardsSystem) loadEntries(ctx context.Context, logger runtime.Logger, key string, members []ScoredMember) []*LeaderboardEntry {
	playerIDs := make([]string, 0, len(members))
	for _, member := range members {
		playerIDs = append(playerIDs, member.Member)
	}

	snapshots, err := l.store.HashMultiGet(ctx, key+leaderboardEntriesKey, playerIDs...)
	if err != nil {
		logger.Error("Failed to read leaderboard entries for %s: %v", key, err)
		return []*LeaderboardEntry{}
	}

	entries := make([]*LeaderboardEntry, 0, len(members))
	for _, member := range members {
		raw, found := snapshots[member.Member]
		if !found {
			logger.Warn("Skipping leaderboard member %s on %s with no entry", member.Member, key)
			continue
		}
		entry, err := decodeLeaderboardEntry(raw)
		if err != nil {
			logger.Warn("Skipping leaderboard entry %s on %s: %v", member.Member, key, err)
			continue
		}
		if entry.PlayerID != member.Member {
			logger.Warn("Skipping leaderboard entry %s on %s stored under %s", entry.PlayerID, key, member.Member)
			continue
		}
		// The sorted set score is what the board is ordered by.
		entry.Score = int64(member.Score)
		entries = append(entries, entry)
	}
	return entries
}

func mergeScoredMembers(members, extra []ScoredMember) []ScoredMember {
	seen := make(map[string]struct{}, len(members))
	for _, member := range members {
		seen[member.Member] = struct{}{}
	}
	for _, member := range extra {
		if _, found := seen[member.Member]; found {
			continue
		}
		seen[member.Member] = struct{}{}
		members = append(members, member)
	}
	return members
}

// sortLeaderboardEntries orders by score descending, then by who reached the score first, then by player ID.
func sortLeaderboardEntries(entries []*LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ScoreTimeNsec != b.ScoreTimeNsec {
			return a.ScoreTimeNsec < b.ScoreTimeNsec
		}
		return a.PlayerID < b.PlayerID
	})
}

func (l *RedisLeaderboardsSystem) UpdateLeaderboards(ctx context.Context, logger runtime.Logger, update *LeaderboardUpdate) error {
	if update == nil || update.PlayerID == "" {
		return ErrBadInput
	}

	unlock := l.locks.Lock(entryLockKey(update.PlayerID))
	defer unlock()

	now := l.now()
	var errs []error
	for _, timeframe := range Timeframes {
		if err := l.upsertEntry(ctx, LeaderboardKey(timeframe, now), l.ttl(timeframe), update, now); err != nil {
			logger.Error("Failed to update %s leaderboard for player %s: %v", timeframe, update.PlayerID, err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// upsertEntry replaces the player's entry on one board. Removal is by player ID so no other entry is touched.
func (l *RedisLeaderboardsSystem) upsertEntry(ctx context.Context, key string, ttl time.Duration, update *LeaderboardUpdate, now time.Time) error {
	entriesKey := key + leaderboardEntriesKey

	scoreTime := now.UnixNano()
	if raw, err := l.store.HashGet(ctx, entriesKey, update.PlayerID); err == nil {
		if previous, err := decodeLeaderboardEntry(raw); err == nil && previous.Score == update.TotalScore && previous.ScoreTimeNsec > 0 {
			scoreTime = previous.ScoreTimeNsec
		}
	} else if !errors.Is(err, ErrStoreKeyNotFound) {
		return err
	}

	encoded, err := encodeLeaderboardEntry(&LeaderboardEntry{
		PlayerID:        update.PlayerID,
		Name:            update.Name,
		Avatar:          update.Avatar,
		Score:           update.TotalScore,
		LevelsCompleted: update.LevelsCompleted,
		BestLevel:       update.BestLevel,
		ScoreTimeNsec:   scoreTime,
	})
	if err != nil {
		return err
	}

	if err := l.store.SortedSetRemove(ctx, key, update.PlayerID); err != nil {
		return err
	}
	if err := l.store.HashSet(ctx, entriesKey, map[string]string{update.PlayerID: encoded}); err != nil {
		return err
	}
	if err := l.store.SortedSetAdd(ctx, key, float64(update.TotalScore), update.PlayerID); err != nil {
		return err
	}

	if ttl > 0 {
		if err := l.store.Expire(ctx, key, ttl); err != nil {
			return err
		}
		if err := l.store.Expire(ctx, entriesKey, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (l *RedisLeaderboardsSystem) GetPlayerRank(ctx context.Context, logger runtime.Logger, playerID string, timeframe Timeframe) int {
	entries, err := l.GetLeaderboard(ctx, logger, timeframe, l.config.RankScanLimit)
	if err != nil {
		logger.Warn("Failed to get rank for player %s: %v", playerID, err)
		return 0
	}
	for _, entry := range entries {
		if entry.PlayerID == playerID {
			return entry.Rank
		}
	}
	return 0
}

func (l *RedisLeaderboardsSystem) ResetLeaderboard(ctx context.Context, logger runtime.Logger, timeframe Timeframe) (int, error) {
	timeframe, err := ParseTimeframe(string(timeframe))
	if err != nil {
		return 0, err
	}

	now := l.now()
	key := LeaderboardKey(timeframe, now)

	var count int
	if timeframe == TimeframeWeek {
		count, err = l.resetWeek(ctx, logger, key, now)
	} else {
		count, err = l.deleteBoard(ctx, logger, key)
	}
	if err != nil {
		return 0, err
	}

	logger.Info("Reset %s leaderboard %s, %d players affected", timeframe, key, count)
	sendEvents(ctx, logger, l.globelogix, "", newPublisherEvent(l, EventLeaderboardReset, key, itoa(count), map[string]string{
		"timeframe": string(timeframe),
	}))
	return count, nil
}

func (l *RedisLeaderboardsSystem) deleteBoard(ctx context.Context, logger runtime.Logger, key string) (int, error) {
	members, err := l.store.SortedSetRange(ctx, key, 0, -1, true)
	if err != nil {
		logger.Error("Failed to read leaderboard %s for reset: %v", key, err)
		return 0, err
	}
	if err := l.store.Delete(ctx, key, key+leaderboardEntriesKey); err != nil {
		logger.Error("Failed to delete leaderboard %s: %v", key, err)
		return 0, err
	}
	return len(members), nil
}

// resetWeek zeroes the stats of every player on the weekly board, erases their stored progress and puts them
// back on a fresh board. Players whose reset failed keep their current standing.
func (l *RedisLeaderboardsSystem) resetWeek(ctx context.Context, logger runtime.Logger, key string, now time.Time) (int, error) {
	entriesKey := key + leaderboardEntriesKey

	// Read all entries
	members, err := l.store.SortedSetRange(ctx, key, 0, -1, true)
	if err != nil {
		logger.Error("Failed to read leaderboard %s for reset: %v", key, err)
		return 0, err
	}
	playerIDs := make([]string, 0, len(members))
	for _, member := range members {
		if member.Member != "" {
			playerIDs = append(playerIDs, member.Member)
		}
	}
	snapshots, err := l.store.HashMultiGet(ctx, entriesKey, playerIDs...)
	if err != nil {
		logger.Error("Failed to read leaderboard entries %s for reset: %v", entriesKey, err)
		return 0, err
	}

	// Reset each player's profile
	count := 0
	for _, playerID := range playerIDs {
		if err := l.resetProfile(ctx, logger, playerID, snapshots[playerID], now); err != nil {
			logger.Error("Failed to reset profile of player %s: %v", playerID, err)
			continue
		}
		count++
	}

	// Recreate the board from the stored profiles, which include any save made since the reset above
	if err := l.store.Delete(ctx, key, entriesKey); err != nil {
		logger.Error("Failed to delete leaderboard %s: %v", key, err)
		return 0, err
	}
	ttl := l.ttl(TimeframeWeek)
	for _, playerID := range playerIDs {
		if err := l.repopulateEntry(ctx, logger, key, ttl, playerID, snapshots[playerID], now); err != nil {
			logger.Error("Failed to repopulate leaderboard %s with player %s: %v", key, playerID, err)
			return 0, err
		}
	}
	return count, nil
}

// repopulateEntry puts one player back on a fresh board from their stored profile. When the profile cannot be
// read the previous snapshot is restored, or a zero entry when there is none.
func (l *RedisLeaderboardsSystem) repopulateEntry(ctx context.Context, logger runtime.Logger, key string, ttl time.Duration, playerID, snapshot string, now time.Time) error {
	unlockProfile := l.locks.Lock(profileLockKey(playerID))
	defer unlockProfile()
	unlockEntry := l.locks.Lock(entryLockKey(playerID))
	defer unlockEntry()

	update := &LeaderboardUpdate{PlayerID: playerID, BestLevel: l.config.InitialBestLevel}
	profile, err := readProfile(ctx, l.store, playerID)
	if err == nil {
		update = profile.leaderboardUpdate()
	} else {
		logger.Warn("Failed to read profile of player %s, restoring the previous entry: %v", playerID, err)
		if entry, err := decodeLeaderboardEntry(snapshot); err == nil {
			update = &LeaderboardUpdate{
				PlayerID:        playerID,
				Name:            entry.Name,
				Avatar:          entry.Avatar,
				TotalScore:      entry.Score,
				LevelsCompleted: entry.LevelsCompleted,
				BestLevel:       entry.BestLevel,
			}
		}
	}
	return l.upsertEntry(ctx, key, ttl, update, now)
}

func (l *RedisLeaderboardsSystem) resetProfile(ctx context.Context, logger runtime.Logger, playerID, snapshot string, now time.Time) error {
	unlock := l.locks.Lock(profileLockKey(playerID))
	defer unlock()

	profile, err := readProfile(ctx, l.store, playerID)
	if err != nil {
		if !errors.Is(err, ErrPlayerNotFound) {
			return err
		}
		// Rebuild the identity from the leaderboard snapshot.
		profile = newPlayerProfile(playerID, now, l.config.InitialBestLevel)
		if entry, err := decodeLeaderboardEntry(snapshot); err == nil {
			profile.Name = entry.Name
			profile.Avatar = entry.Avatar
		}
	}

	reset := profile.resetStats(now, l.config.InitialBestLevel)
	if err := eraseProfile(ctx, l.store, playerID); err != nil {
		return err
	}
	return writeProfile(ctx, l.store, reset)
}
