package globelogix

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// ClaimDailyBonus credits the configured bonus points once per daily window. A claim inside the window is not an
// error, the result reports when the next claim opens.
func (p *RedisProgressSystem) ClaimDailyBonus(ctx context.Context, logger runtime.Logger, playerID string) (*DailyBonusResult, error) {
	if playerID == "" {
		return nil, ErrBadInput
	}

	unlock := p.locks.Lock(profileLockKey(playerID))
	defer unlock()

	now := p.now()
	profile, err := readProfile(ctx, p.store, playerID)
	if err != nil {
		return nil, err
	}

	window := NewEligibilityWindow(DailyWindow)
	lastClaim := unixTime(profile.LastBonusTimeSec)
	if !window.Eligible(now, lastClaim) {
		return &DailyBonusResult{
			Claimed:          false,
			NextClaimTimeSec: window.NextEligible(lastClaim).Unix(),
			Profile:          profile,
		}, nil
	}

	levels, err := readLevelProgress(ctx, logger, p.store, playerID)
	if err != nil {
		logger.Error("Failed to read level progress for player %s: %v", playerID, err)
		return nil, err
	}

	profile.BonusPoints += p.config.DailyBonusPoints
	profile.LastBonusTimeSec = now.Unix()
	profile.LastActiveTimeSec = now.Unix()
	profile.recompute(levels, p.initialBestLevel)
	if err := writeProfile(ctx, p.store, profile); err != nil {
		logger.Error("Failed to save daily bonus for player %s: %v", playerID, err)
		return nil, err
	}

	if err := p.leaderboards.UpdateLeaderboards(ctx, logger, profile.leaderboardUpdate()); err != nil {
		return nil, err
	}

	sendEvents(ctx, logger, p.globelogix, playerID, newPublisherEvent(p, EventDailyBonusClaimed, playerID, itoa(int(p.config.DailyBonusPoints)), nil))

	return &DailyBonusResult{
		Claimed:          true,
		Points:           p.config.DailyBonusPoints,
		NextClaimTimeSec: window.NextEligible(now).Unix(),
		Profile:          profile,
	}, nil
}
