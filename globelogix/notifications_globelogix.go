package globelogix

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/heroiclabs/nakama-common/runtime"
	"golang.org/x/sync/errgroup"
)

var _ NotificationsSystem = &CompetitiveNotificationsSystem{}

// CompetitiveNotificationsSystem implements the NotificationsSystem. Rate limits are store records that expire
// with the window, so they hold across server instances.
type CompetitiveNotificationsSystem struct {
	config       *NotificationsConfig
	store        ScoreStore
	provider     NotificationProvider
	leaderboards LeaderboardsSystem
	recipients   *lru.Cache
	globelogix   Globelogix
}

type notificationRecipient struct {
	externalID string
	name       string
}

type notification struct {
	playerID string
	kind     NotificationType
	title    string
	body     string
}

func NewCompetitiveNotificationsSystem(config *NotificationsConfig, store ScoreStore, provider NotificationProvider) (*CompetitiveNotificationsSystem, error) {
	if config == nil {
		config = &NotificationsConfig{}
	}
	config.applyDefaults()

	recipients, err := lru.New(config.RecipientCacheSize)
	if err != nil {
		return nil, err
	}

	return &CompetitiveNotificationsSystem{
		config:     config,
		store:      store,
		provider:   provider,
		recipients: recipients,
	}, nil
}

func (n *CompetitiveNotificationsSystem) SetGlobelogix(gl Globelogix) {
	n.globelogix = gl
}

// SetLeaderboardsSystem sets the board scanned for beaten players.
func (n *CompetitiveNotificationsSystem) SetLeaderboardsSystem(leaderboards LeaderboardsSystem) {
	n.leaderboards = leaderboards
}

func (n *CompetitiveNotificationsSystem) GetType() SystemType {
	return SystemTypeNotifications
}

func (n *CompetitiveNotificationsSystem) GetConfig() any {
	return n.config
}

func (n *CompetitiveNotificationsSystem) NotifyScoreBeaten(ctx context.Context, logger runtime.Logger, playerID string, newScore int64) int {
	if n.leaderboards == nil || playerID == "" {
		return 0
	}

	entries, err := n.leaderboards.GetLeaderboard(ctx, logger, TimeframeAllTime, n.config.ScanLimit)
	if err != nil {
		logger.Warn("Failed to scan leaderboard for beaten players: %v", err)
		return 0
	}

	improver := playerID
	for _, entry := range entries {
		if entry.PlayerID == playerID && entry.Name != "" {
			improver = entry.Name
			break
		}
	}

	notifications := make([]*notification, 0)
	for _, entry := range entries {
		if entry.PlayerID == playerID || entry.Score >= newScore {
			continue
		}
		notifications = append(notifications, &notification{
			playerID: entry.PlayerID,
			kind:     NotificationTypeScoreBeaten,
			title:    "Your score was beaten!",
			body:     fmt.Sprintf("%s just reached %d points and passed your %d. Time to fight back!", improver, newScore, entry.Score),
		})
	}
	return n.dispatch(ctx, logger, notifications)
}

func (n *CompetitiveNotificationsSystem) NotifyLeaderboardStanding(ctx context.Context, logger runtime.Logger, entries []*LeaderboardEntry) int {
	notifications := make([]*notification, 0)
	for _, entry := range entries {
		if entry == nil || entry.PlayerID == "" {
			continue
		}
		switch {
		case entry.Rank >= 1 && entry.Rank <= n.config.EliteToRank:
			notifications = append(notifications, &notification{
				playerID: entry.PlayerID,
				kind:     NotificationTypeElite,
				title:    "Elite status",
				body:     fmt.Sprintf("You are #%d on the leaderboard. Keep it up to stay in the top %d!", entry.Rank, n.config.EliteToRank),
			})
		case entry.Rank >= n.config.NearTopFromRank && entry.Rank <= n.config.NearTopToRank:
			notifications = append(notifications, &notification{
				playerID: entry.PlayerID,
				kind:     NotificationTypeNearTop,
				title:    "Almost in the top 10",
				body:     fmt.Sprintf("You are #%d, only %d places away from the top 10!", entry.Rank, entry.Rank-10),
			})
		}
	}
	return n.dispatch(ctx, logger, notifications)
}

func (n *CompetitiveNotificationsSystem) NotifyRewardsPaid(ctx context.Context, logger runtime.Logger, reward *RewardConfig, execution *DistributionExecution) int {
	if execution == nil {
		return 0
	}
	symbol := ""
	if reward != nil {
		symbol = reward.Symbol
	}

	notifications := make([]*notification, 0, len(execution.Recipients))
	for _, recipient := range execution.Recipients {
		if !recipient.Success {
			continue
		}
		notifications = append(notifications, &notification{
			playerID: recipient.Address,
			kind:     NotificationTypeRewardPaid,
			title:    "You won a reward!",
			body:     fmt.Sprintf("You finished #%d and received %s %s.", recipient.Position, recipient.Amount.String(), symbol),
		})
	}
	return n.dispatch(ctx, logger, notifications)
}

// dispatch delivers notifications concurrently up to the configured limit and returns how many were delivered.
func (n *CompetitiveNotificationsSystem) dispatch(ctx context.Context, logger runtime.Logger, notifications []*notification) int {
	if n.provider == nil || len(notifications) == 0 {
		return 0
	}

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.config.MaxConcurrency)
	for _, item := range notifications {
		g.Go(func() error {
			if n.deliver(gctx, logger, item) {
				sent.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(sent.Load())
}

func (n *CompetitiveNotificationsSystem) deliver(ctx context.Context, logger runtime.Logger, item *notification) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic delivering %s notification to %s: %v", item.kind, item.playerID, r)
			delivered = false
		}
	}()

	recipient, err := n.recipient(ctx, item.playerID)
	if err != nil {
		logger.Warn("Skipping %s notification to %s: %v", item.kind, item.playerID, err)
		return false
	}
	if recipient.externalID == "" {
		logger.Debug("Skipping %s notification to %s with no notification channel", item.kind, item.playerID)
		return false
	}

	if !n.acquireSlot(ctx, logger, item.playerID, item.kind) {
		sendEvents(ctx, logger, n.globelogix, item.playerID, newPublisherEvent(n, EventNotificationSuppressed, string(item.kind), "", nil))
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(n.config.TimeoutSec)*time.Second)
	defer cancel()

	delivered, err = n.provider.Send(callCtx, recipient.externalID, item.title, item.body)
	if err != nil {
		logger.Warn("Failed to deliver %s notification to %s: %v", item.kind, item.playerID, err)
		return false
	}
	if delivered {
		sendEvents(ctx, logger, n.globelogix, item.playerID, newPublisherEvent(n, EventNotificationSent, string(item.kind), "", nil))
	}
	return delivered
}

// acquireSlot claims the per recipient and type rate limit window. If the store cannot answer the notification is
// allowed.
func (n *CompetitiveNotificationsSystem) acquireSlot(ctx context.Context, logger runtime.Logger, playerID string, kind NotificationType) bool {
	key := notificationRateKey(playerID, kind)
	window := time.Duration(n.config.RateLimitWindowSec) * time.Second
	acquired, err := n.store.SetIfAbsent(ctx, key, time.Now().UTC().Format(time.RFC3339), window)
	if err != nil {
		logger.Warn("Notification rate limit unavailable for %s, allowing: %v", key, err)
		return true
	}
	return acquired
}

func (n *CompetitiveNotificationsSystem) recipient(ctx context.Context, playerID string) (*notificationRecipient, error) {
	if cached, found := n.recipients.Get(playerID); found {
		if recipient, ok := cached.(*notificationRecipient); ok {
			return recipient, nil
		}
	}

	profile, err := readProfile(ctx, n.store, playerID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return &notificationRecipient{}, nil
		}
		return nil, err
	}

	recipient := &notificationRecipient{
		externalID: profile.ExternalID,
		name:       profile.Name,
	}
	n.recipients.Add(playerID, recipient)
	return recipient, nil
}

func (n *CompetitiveNotificationsSystem) ForgetRecipient(playerID string) {
	n.recipients.Remove(playerID)
}

func notificationRateKey(playerID string, kind NotificationType) string {
	return "notify:" + playerID + ":" + string(kind)
}

var _ NotificationProvider = &NakamaNotificationProvider{}

// NakamaNotificationProvider delivers notifications as Nakama in-app notifications. The recipient ID is the
// player's Nakama user ID.
type NakamaNotificationProvider struct {
	nk         runtime.NakamaModule
	code       int
	persistent bool
}

func NewNakamaNotificationProvider(nk runtime.NakamaModule, code int, persistent bool) *NakamaNotificationProvider {
	return &NakamaNotificationProvider{
		nk:         nk,
		code:       code,
		persistent: persistent,
	}
}

func (p *NakamaNotificationProvider) Send(ctx context.Context, recipientID, title, body string) (bool, error) {
	content := map[string]interface{}{
		"body": body,
	}
	if err := p.nk.NotificationSend(ctx, recipientID, title, content, p.code, "", p.persistent); err != nil {
		return false, err
	}
	return true, nil
}
