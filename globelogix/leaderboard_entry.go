package globelogix

import (
	"encoding/json"
	"errors"
	"fmt"
)

// leaderboardEntryVersion is the current schema version of stored leaderboard entries.
const leaderboardEntryVersion = 1

var (
	errEntryMalformed = errors.New("malformed leaderboard entry")
	errEntryVersion   = errors.New("unsupported leaderboard entry version")
)

type storedLeaderboardEntry struct {
	Version         int    `json:"v"`
	PlayerID        string `json:"player_id"`
	Name            string `json:"name,omitempty"`
	Avatar          string `json:"avatar,omitempty"`
	Score           int64  `json:"score"`
	LevelsCompleted int    `json:"levels_completed"`
	BestLevel       int    `json:"best_level"`
	ScoreTimeNsec   int64  `json:"score_time_nsec,omitempty"`
}

func encodeLeaderboardEntry(entry *LeaderboardEntry) (string, error) {
	if entry == nil || entry.PlayerID == "" {
		return "", errEntryMalformed
	}
	data, err := json.Marshal(&storedLeaderboardEntry{
		Version:         leaderboardEntryVersion,
		PlayerID:        entry.PlayerID,
		Name:            entry.Name,
		Avatar:          entry.Avatar,
		Score:           entry.Score,
		LevelsCompleted: entry.LevelsCompleted,
		BestLevel:       entry.BestLevel,
		ScoreTimeNsec:   entry.ScoreTimeNsec,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeLeaderboardEntry parses a stored entry. Records that are not valid JSON, carry another schema version or
// have no player identity are rejected so callers can skip them.
func decodeLeaderboardEntry(raw string) (*LeaderboardEntry, error) {
	var stored storedLeaderboardEntry
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", errEntryMalformed, err)
	}
	if stored.Version != leaderboardEntryVersion {
		return nil, fmt.Errorf("%w: %d", errEntryVersion, stored.Version)
	}
	if stored.PlayerID == "" {
		return nil, errEntryMalformed
	}
	return &LeaderboardEntry{
		PlayerID:        stored.PlayerID,
		Name:            stored.Name,
		Avatar:          stored.Avatar,
		Score:           stored.Score,
		LevelsCompleted: stored.LevelsCompleted,
		BestLevel:       stored.BestLevel,
		ScoreTimeNsec:   stored.ScoreTimeNsec,
	}, nil
}
