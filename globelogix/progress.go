package globelogix

import (
	"context"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// ProgressConfig is the data definition for the ProgressSystem type.
type ProgressConfig struct {
	MaxLevel         int   `json:"max_level,omitempty"`          // 0 means unbounded
	MaxStars         int   `json:"max_stars,omitempty"`          // 3
	DailyBonusPoints int64 `json:"daily_bonus_points,omitempty"` // 100
	NotifyOnImprove  bool  `json:"notify_on_improve,omitempty"`
}

func (c *ProgressConfig) applyDefaults() {
	if c.MaxStars <= 0 {
		c.MaxStars = 3
	}
	if c.DailyBonusPoints <= 0 {
		c.DailyBonusPoints = 100
	}
}

// PlayerProfile is a player keyed by wallet address. TotalScore is a cache of the sum of best level scores plus
// bonus points and is recomputed on every save.
type PlayerProfile struct {
	PlayerID   string `json:"player_id"`
	Name       string `json:"name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	TotalScore      int64 `json:"total_score"`
	LevelsCompleted int   `json:"levels_completed"`
	BestLevel       int   `json:"best_level"`
	BonusPoints     int64 `json:"bonus_points"`

	CreateTimeSec          int64 `json:"create_time_sec"`
	LastActiveTimeSec      int64 `json:"last_active_time_sec,omitempty"`
	LastWeeklyResetTimeSec int64 `json:"last_weekly_reset_time_sec,omitempty"`
	LastBonusTimeSec       int64 `json:"last_bonus_time_sec,omitempty"`
}

// LevelProgress is a player's record for one level. BestScore is never lower than Score.
type LevelProgress struct {
	Level            int   `json:"level"`
	Score            int64 `json:"score"`
	BestScore        int64 `json:"best_score"`
	Completed        bool  `json:"completed"`
	Stars            int   `json:"stars"`
	CompletedTimeSec int64 `json:"completed_time_sec,omitempty"`
}

// SaveProgressRequest is a finished level attempt reported by the game client.
type SaveProgressRequest struct {
	PlayerID   string `json:"player_id"`
	Name       string `json:"name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Level      int    `json:"level"`
	Score      int64  `json:"score"`
	Completed  bool   `json:"completed"`
	Stars      int    `json:"stars"`
}

// DailyBonusResult describes a daily bonus claim. When Claimed is false the bonus was already taken in the
// current window and NextClaimTimeSec says when it opens again.
type DailyBonusResult struct {
	Claimed          bool           `json:"claimed"`
	Points           int64          `json:"points"`
	NextClaimTimeSec int64          `json:"next_claim_time_sec"`
	Profile          *PlayerProfile `json:"profile,omitempty"`
}

// The ProgressSystem is the gameplay save path feeding the leaderboards.
type ProgressSystem interface {
	System

	// SaveLevelProgress records a level attempt, recomputes the player's totals and updates every leaderboard.
	SaveLevelProgress(ctx context.Context, logger runtime.Logger, req *SaveProgressRequest) (profile *PlayerProfile, err error)

	// GetProfile returns a player's profile or ErrPlayerNotFound.
	GetProfile(ctx context.Context, logger runtime.Logger, playerID string) (profile *PlayerProfile, err error)

	// GetLevelProgress returns a player's per-level records keyed by level.
	GetLevelProgress(ctx context.Context, logger runtime.Logger, playerID string) (levels map[int]*LevelProgress, err error)

	// ClaimDailyBonus credits the daily bonus points once per 24 hour window.
	ClaimDailyBonus(ctx context.Context, logger runtime.Logger, playerID string) (result *DailyBonusResult, err error)
}

func newPlayerProfile(playerID string, now time.Time, initialBestLevel int) *PlayerProfile {
	return &PlayerProfile{
		PlayerID:          playerID,
		BestLevel:         initialBestLevel,
		CreateTimeSec:     now.Unix(),
		LastActiveTimeSec: now.Unix(),
	}
}

// recompute derives the cached totals from the level records.
func (p *PlayerProfile) recompute(levels map[int]*LevelProgress, initialBestLevel int) {
	var total int64
	completed := 0
	best := initialBestLevel
	for level, progress := range levels {
		total += progress.BestScore
		if progress.Completed {
			completed++
			if level > best {
				best = level
			}
		}
	}
	p.TotalScore = total + p.BonusPoints
	p.LevelsCompleted = completed
	p.BestLevel = best
}

// resetStats zeroes the competitive stats and keeps identity and creation time.
func (p *PlayerProfile) resetStats(now time.Time, initialBestLevel int) *PlayerProfile {
	return &PlayerProfile{
		PlayerID:               p.PlayerID,
		Name:                   p.Name,
		Avatar:                 p.Avatar,
		ExternalID:             p.ExternalID,
		BestLevel:              initialBestLevel,
		CreateTimeSec:          p.CreateTimeSec,
		LastActiveTimeSec:      p.LastActiveTimeSec,
		LastWeeklyResetTimeSec: now.Unix(),
		LastBonusTimeSec:       p.LastBonusTimeSec,
	}
}

func (p *PlayerProfile) leaderboardUpdate() *LeaderboardUpdate {
	return &LeaderboardUpdate{
		PlayerID:        p.PlayerID,
		Name:            p.Name,
		Avatar:          p.Avatar,
		TotalScore:      p.TotalScore,
		LevelsCompleted: p.LevelsCompleted,
		BestLevel:       p.BestLevel,
	}
}
