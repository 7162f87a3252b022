package globelogix

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

var _ ProgressSystem = &RedisProgressSystem{}

// RedisProgressSystem implements the ProgressSystem. Saves for one player are serialized so the read, recompute
// and write of the profile never interleave.
type RedisProgressSystem struct {
	config           *ProgressConfig
	store            ScoreStore
	locks            *KeyedMutex
	leaderboards     LeaderboardsSystem
	notifications    NotificationsSystem
	initialBestLevel int
	globelogix       Globelogix

	now func() time.Time
}

func NewRedisProgressSystem(config *ProgressConfig, store ScoreStore, locks *KeyedMutex, leaderboards LeaderboardsSystem, initialBestLevel int) *RedisProgressSystem {
	if config == nil {
		config = &ProgressConfig{}
	}
	config.applyDefaults()
	if locks == nil {
		locks = NewKeyedMutex()
	}
	if initialBestLevel <= 0 {
		initialBestLevel = 1
	}
	return &RedisProgressSystem{
		config:           config,
		store:            store,
		locks:            locks,
		leaderboards:     leaderboards,
		initialBestLevel: initialBestLevel,
		now:              time.Now,
	}
}

func (p *RedisProgressSystem) SetGlobelogix(gl Globelogix) {
	p.globelogix = gl
}

// SetNotificationsSystem enables score beaten notifications when a save improves the total.
func (p *RedisProgressSystem) SetNotificationsSystem(notifications NotificationsSystem) {
	p.notifications = notifications
}

func (p *RedisProgressSystem) GetType() SystemType {
	return SystemTypeProgress
}

func (p *RedisProgressSystem) GetConfig() any {
	return p.config
}

func (p *RedisProgressSystem) SaveLevelProgress(ctx context.Context, logger runtime.Logger, req *SaveProgressRequest) (*PlayerProfile, error) {
	if req == nil || strings.TrimSpace(req.PlayerID) == "" || req.Level <= 0 || req.Score < 0 {
		return nil, ErrBadInput
	}
	if p.config.MaxLevel > 0 && req.Level > p.config.MaxLevel {
		return nil, ErrBadInput
	}
	stars := req.Stars
	if stars < 0 {
		stars = 0
	} else if stars > p.config.MaxStars {
		stars = p.config.MaxStars
	}

	playerID := strings.TrimSpace(req.PlayerID)
	unlock := p.locks.Lock(profileLockKey(playerID))
	defer unlock()

	now := p.now()

	// Get player profile
	profile, err := readProfile(ctx, p.store, playerID)
	if err != nil {
		if !errors.Is(err, ErrPlayerNotFound) {
			logger.Error("Failed to read profile for player %s: %v", playerID, err)
			return nil, err
		}
		profile = newPlayerProfile(playerID, now, p.initialBestLevel)
	}
	previousName, previousExternalID := profile.Name, profile.ExternalID
	if req.Name != "" {
		profile.Name = req.Name
	}
	if req.Avatar != "" {
		profile.Avatar = req.Avatar
	}
	if req.ExternalID != "" {
		profile.ExternalID = req.ExternalID
	}

	// Update the level record
	levels, err := readLevelProgress(ctx, logger, p.store, playerID)
	if err != nil {
		logger.Error("Failed to read level progress for player %s: %v", playerID, err)
		return nil, err
	}
	progress, found := levels[req.Level]
	if !found {
		progress = &LevelProgress{Level: req.Level}
		levels[req.Level] = progress
	}
	progress.Score = req.Score
	if req.Score > progress.BestScore {
		progress.BestScore = req.Score
	}
	if stars > progress.Stars {
		progress.Stars = stars
	}
	if req.Completed && !progress.Completed {
		progress.Completed = true
		progress.CompletedTimeSec = now.Unix()
	}
	if err := writeLevelProgress(ctx, p.store, playerID, progress); err != nil {
		logger.Error("Failed to save level %d progress for player %s: %v", req.Level, playerID, err)
		return nil, err
	}

	// Recompute totals and save the profile
	previousTotal := profile.TotalScore
	profile.recompute(levels, p.initialBestLevel)
	profile.LastActiveTimeSec = now.Unix()
	if err := writeProfile(ctx, p.store, profile); err != nil {
		logger.Error("Failed to save profile for player %s: %v", playerID, err)
		return nil, err
	}

	if p.notifications != nil && (profile.Name != previousName || profile.ExternalID != previousExternalID) {
		p.notifications.ForgetRecipient(playerID)
	}

	// Update leaderboards
	if err := p.leaderboards.UpdateLeaderboards(ctx, logger, profile.leaderboardUpdate()); err != nil {
		return nil, err
	}

	sendEvents(ctx, logger, p.globelogix, playerID, newPublisherEvent(p, EventScoreSaved, itoa(req.Level), itoa(int(profile.TotalScore)), map[string]string{
		"level":     itoa(req.Level),
		"completed": boolString(progress.Completed),
	}))

	if p.config.NotifyOnImprove && p.notifications != nil && profile.TotalScore > previousTotal {
		go p.notifications.NotifyScoreBeaten(context.WithoutCancel(ctx), logger, playerID, profile.TotalScore)
	}
	return profile, nil
}

func (p *RedisProgressSystem) GetProfile(ctx context.Context, logger runtime.Logger, playerID string) (*PlayerProfile, error) {
	if playerID == "" {
		return nil, ErrBadInput
	}
	profile, err := readProfile(ctx, p.store, playerID)
	if err != nil {
		if !errors.Is(err, ErrPlayerNotFound) {
			logger.Error("Failed to read profile for player %s: %v", playerID, err)
		}
		return nil, err
	}
	return profile, nil
}

func (p *RedisProgressSystem) GetLevelProgress(ctx context.Context, logger runtime.Logger, playerID string) (map[int]*LevelProgress, error) {
	if playerID == "" {
		return nil, ErrBadInput
	}
	levels, err := readLevelProgress(ctx, logger, p.store, playerID)
	if err != nil {
		logger.Error("Failed to read level progress for player %s: %v", playerID, err)
		return nil, err
	}
	return levels, nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
