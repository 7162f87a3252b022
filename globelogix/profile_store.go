package globelogix

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/heroiclabs/nakama-common/runtime"
)

func profileKey(playerID string) string {
	return "player:" + playerID
}

func levelProgressKey(playerID string) string {
	return "player:" + playerID + ":progress"
}

// readProfile fetches the stored profile for a player, or ErrPlayerNotFound.
func readProfile(ctx context.Context, store ScoreStore, playerID string) (*PlayerProfile, error) {
	raw, err := store.Get(ctx, profileKey(playerID))
	if err != nil {
		if errors.Is(err, ErrStoreKeyNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}

	var profile PlayerProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, err
	}
	if profile.PlayerID == "" {
		profile.PlayerID = playerID
	}
	return &profile, nil
}

func writeProfile(ctx context.Context, store ScoreStore, profile *PlayerProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return store.Set(ctx, profileKey(profile.PlayerID), string(data), 0)
}

// readLevelProgress fetches every level record of a player. Records that cannot be decoded are skipped.
func readLevelProgress(ctx context.Context, logger runtime.Logger, store ScoreStore, playerID string) (map[int]*LevelProgress, error) {
	fields, err := store.HashGetAll(ctx, levelProgressKey(playerID))
	if err != nil {
		return nil, err
	}

	levels := make(map[int]*LevelProgress, len(fields))
	for field, raw := range fields {
		level, err := strconv.Atoi(field)
		if err != nil || level <= 0 {
			logger.Warn("Skipping level progress with invalid level %q for player %s", field, playerID)
			continue
		}
		var progress LevelProgress
		if err := json.Unmarshal([]byte(raw), &progress); err != nil {
			logger.Warn("Skipping malformed level progress %d for player %s: %v", level, playerID, err)
			continue
		}
		progress.Level = level
		if progress.BestScore < progress.Score {
			progress.BestScore = progress.Score
		}
		levels[level] = &progress
	}
	return levels, nil
}

func writeLevelProgress(ctx context.Context, store ScoreStore, playerID string, progress *LevelProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	return store.HashSet(ctx, levelProgressKey(playerID), map[string]string{
		strconv.Itoa(progress.Level): string(data),
	})
}

// eraseProfile removes a player's profile and all of its level records.
func eraseProfile(ctx context.Context, store ScoreStore, playerID string) error {
	return store.Delete(ctx, profileKey(playerID), levelProgressKey(playerID))
}
