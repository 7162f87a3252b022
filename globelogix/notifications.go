package globelogix

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

type NotificationType string

const (
	NotificationTypeScoreBeaten NotificationType = "score_beaten"
	NotificationTypeNearTop     NotificationType = "near_top"
	NotificationTypeElite       NotificationType = "elite_status"
	NotificationTypeRewardPaid  NotificationType = "reward_paid"
)

// NotificationsConfig is the data definition for the NotificationsSystem type.
type NotificationsConfig struct {
	RateLimitWindowSec int64 `json:"rate_limit_window_sec,omitempty"` // 3600
	ScanLimit          int   `json:"scan_limit,omitempty"`            // 100
	MaxConcurrency     int   `json:"max_concurrency,omitempty"`       // 8
	RecipientCacheSize int   `json:"recipient_cache_size,omitempty"`  // 1024
	TimeoutSec         int64 `json:"timeout_sec,omitempty"`           // 10
	NearTopFromRank    int   `json:"near_top_from_rank,omitempty"`    // 11
	NearTopToRank      int   `json:"near_top_to_rank,omitempty"`      // 15
	EliteToRank        int   `json:"elite_to_rank,omitempty"`         // 5
	NotificationCode   int   `json:"notification_code,omitempty"`     // 1001
}

func (c *NotificationsConfig) applyDefaults() {
	if c.RateLimitWindowSec <= 0 {
		c.RateLimitWindowSec = 3600
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = 100
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.RecipientCacheSize <= 0 {
		c.RecipientCacheSize = 1024
	}
	if c.TimeoutSec <= 0 {
		c.TimeoutSec = 10
	}
	if c.NearTopFromRank <= 0 {
		c.NearTopFromRank = 11
	}
	if c.NearTopToRank < c.NearTopFromRank {
		c.NearTopToRank = c.NearTopFromRank + 4
	}
	if c.EliteToRank <= 0 {
		c.EliteToRank = 5
	}
	if c.NotificationCode <= 0 {
		c.NotificationCode = 1001
	}
}

// The NotificationProvider delivers a message to a player's notification channel.
//
// Implementations must safely handle concurrent calls.
type NotificationProvider interface {
	Send(ctx context.Context, recipientID, title, body string) (delivered bool, err error)
}

// The NotificationsSystem sends best-effort competitive notifications. Every failure is logged and swallowed per
// recipient and each notification type reaches a recipient at most once per rate limit window.
type NotificationsSystem interface {
	System

	// NotifyScoreBeaten tells the players in the all-time scan window whose score is now below newScore that
	// they were beaten. Returns the number of notifications delivered.
	NotifyScoreBeaten(ctx context.Context, logger runtime.Logger, playerID string, newScore int64) (sent int)

	// NotifyLeaderboardStanding tells players just outside the top 10 that they are close and players in the top 5
	// that they hold elite status.
	NotifyLeaderboardStanding(ctx context.Context, logger runtime.Logger, entries []*LeaderboardEntry) (sent int)

	// NotifyRewardsPaid tells every paid recipient of a distribution about their reward.
	NotifyRewardsPaid(ctx context.Context, logger runtime.Logger, reward *RewardConfig, execution *DistributionExecution) (sent int)

	// ForgetRecipient drops any cached delivery details of a player whose identity changed.
	ForgetRecipient(playerID string)
}
