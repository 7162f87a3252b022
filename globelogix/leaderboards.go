package globelogix

import (
	"context"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// A Timeframe is a leaderboard scope with its own storage key.
type Timeframe string

const (
	TimeframeWeek    Timeframe = "week"
	TimeframeMonth   Timeframe = "month"
	TimeframeAllTime Timeframe = "all-time"
)

// Timeframes lists every maintained leaderboard scope.
var Timeframes = []Timeframe{TimeframeWeek, TimeframeMonth, TimeframeAllTime}

// ParseTimeframe validates a timeframe name, an empty name selects the weekly board.
func ParseTimeframe(name string) (Timeframe, error) {
	switch Timeframe(name) {
	case "":
		return TimeframeWeek, nil
	case TimeframeWeek, TimeframeMonth, TimeframeAllTime:
		return Timeframe(name), nil
	default:
		return "", ErrUnknownTimeframe
	}
}

// PeriodID identifies the bucket a time falls into for the timeframe: ISO-8601 week ("2026-W42", weeks start on
// Monday), calendar month ("2026-10") or "all-time".
func (t Timeframe) PeriodID(at time.Time) string {
	at = at.UTC()
	switch t {
	case TimeframeWeek:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case TimeframeMonth:
		return fmt.Sprintf("%d-%02d", at.Year(), int(at.Month()))
	default:
		return string(TimeframeAllTime)
	}
}

// LeaderboardsConfig is the data definition for the LeaderboardsSystem type.
type LeaderboardsConfig struct {
	WeeklyTTLSec     int64 `json:"weekly_ttl_sec,omitempty"`     // 14 days
	MonthlyTTLSec    int64 `json:"monthly_ttl_sec,omitempty"`    // 62 days
	DefaultLimit     int   `json:"default_limit,omitempty"`      // 50
	MaxLimit         int   `json:"max_limit,omitempty"`          // 1000
	RankScanLimit    int   `json:"rank_scan_limit,omitempty"`    // 1000
	InitialBestLevel int   `json:"initial_best_level,omitempty"` // 1
	NotifyOnRead     bool  `json:"notify_on_read,omitempty"`
}

func (c *LeaderboardsConfig) applyDefaults() {
	if c.WeeklyTTLSec <= 0 {
		c.WeeklyTTLSec = int64((14 * 24 * time.Hour).Seconds())
	}
	if c.MonthlyTTLSec <= 0 {
		c.MonthlyTTLSec = int64((62 * 24 * time.Hour).Seconds())
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 50
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 1000
	}
	if c.RankScanLimit <= 0 {
		c.RankScanLimit = 1000
	}
	if c.InitialBestLevel <= 0 {
		c.InitialBestLevel = 1
	}
}

// LeaderboardEntry is the denormalized snapshot of a player stored per timeframe. Rank is positional and only
// set on read.
type LeaderboardEntry struct {
	PlayerID        string `json:"player_id"`
	Name            string `json:"name,omitempty"`
	Avatar          string `json:"avatar,omitempty"`
	Score           int64  `json:"score"`
	LevelsCompleted int    `json:"levels_completed"`
	BestLevel       int    `json:"best_level"`
	Rank            int    `json:"rank,omitempty"`
	// ScoreTimeNsec is when the player first reached the current score; earlier wins a tie.
	ScoreTimeNsec int64 `json:"score_time_nsec,omitempty"`
}

// LeaderboardUpdate carries a player's freshly saved totals.
type LeaderboardUpdate struct {
	PlayerID        string
	Name            string
	Avatar          string
	TotalScore      int64
	LevelsCompleted int
	BestLevel       int
}

// The LeaderboardsSystem maintains the week, month and all-time ranked views of player scores.
type LeaderboardsSystem interface {
	System

	// GetLeaderboard returns the top entries of a timeframe in descending score order with 1-based ranks.
	// A store failure yields an empty list.
	GetLeaderboard(ctx context.Context, logger runtime.Logger, timeframe Timeframe, limit int) (entries []*LeaderboardEntry, err error)

	// UpdateLeaderboards replaces the player's entry in every timeframe with the new snapshot.
	UpdateLeaderboards(ctx context.Context, logger runtime.Logger, update *LeaderboardUpdate) (err error)

	// GetPlayerRank returns the player's 1-based rank in the timeframe, or 0 if absent.
	GetPlayerRank(ctx context.Context, logger runtime.Logger, playerID string, timeframe Timeframe) (rank int)

	// ResetLeaderboard resets a timeframe and returns how many players or entries were affected. The weekly
	// reset zeroes each participating player's stats while keeping their identity; other timeframes are deleted.
	ResetLeaderboard(ctx context.Context, logger runtime.Logger, timeframe Timeframe) (count int, err error)
}
