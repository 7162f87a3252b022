package globelogix

import (
	"context"
	"database/sql"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

type leaderboardGetRequest struct {
	Timeframe string `json:"timeframe"`
	Limit     int    `json:"limit"`
}

type leaderboardGetResponse struct {
	Timeframe Timeframe           `json:"timeframe"`
	PeriodID  string              `json:"period_id"`
	Entries   []*LeaderboardEntry `json:"entries"`
}

type leaderboardRankRequest struct {
	Timeframe string `json:"timeframe"`
	PlayerID  string `json:"player_id"`
}

type leaderboardRankResponse struct {
	Timeframe Timeframe `json:"timeframe"`
	PlayerID  string    `json:"player_id"`
	Rank      int       `json:"rank"`
}

type leaderboardResetRequest struct {
	Timeframe string `json:"timeframe"`
}

type leaderboardResetResponse struct {
	Timeframe Timeframe `json:"timeframe"`
	Count     int       `json:"count"`
}

func rpcLeaderboardGet(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		leaderboards := g.GetLeaderboardsSystem()
		if leaderboards == nil {
			return "", ErrSystemNotAvailable
		}

		var req leaderboardGetRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}
		timeframe, err := ParseTimeframe(req.Timeframe)
		if err != nil {
			return "", err
		}

		entries, err := leaderboards.GetLeaderboard(ctx, logger, timeframe, req.Limit)
		if err != nil {
			return "", err
		}

		// Standing notifications never hold up the read
		if config, ok := leaderboards.GetConfig().(*LeaderboardsConfig); ok && config.NotifyOnRead {
			if notifications := g.GetNotificationsSystem(); notifications != nil && len(entries) > 0 {
				go notifications.NotifyLeaderboardStanding(context.WithoutCancel(ctx), logger, entries)
			}
		}

		return encodeResponse(logger, &leaderboardGetResponse{
			Timeframe: timeframe,
			PeriodID:  timeframe.PeriodID(time.Now()),
			Entries:   entries,
		})
	}
}

func rpcLeaderboardRank(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		leaderboards := g.GetLeaderboardsSystem()
		if leaderboards == nil {
			return "", ErrSystemNotAvailable
		}

		var req leaderboardRankRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}
		if req.PlayerID == "" {
			userID, ok := sessionUserID(ctx)
			if !ok {
				return "", ErrNoSessionUser
			}
			req.PlayerID = userID
		}
		timeframe, err := ParseTimeframe(req.Timeframe)
		if err != nil {
			return "", err
		}

		return encodeResponse(logger, &leaderboardRankResponse{
			Timeframe: timeframe,
			PlayerID:  req.PlayerID,
			Rank:      leaderboards.GetPlayerRank(ctx, logger, req.PlayerID, timeframe),
		})
	}
}

func rpcLeaderboardReset(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		leaderboards := g.GetLeaderboardsSystem()
		if leaderboards == nil {
			return "", ErrSystemNotAvailable
		}
		adminID, err := g.requireAdmin(ctx)
		if err != nil {
			return "", err
		}

		var req leaderboardResetRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}
		timeframe, err := ParseTimeframe(req.Timeframe)
		if err != nil {
			return "", err
		}

		logger.Info("Leaderboard %s reset requested by %s", timeframe, adminID)
		count, err := leaderboards.ResetLeaderboard(ctx, logger, timeframe)
		if err != nil {
			return "", err
		}

		return encodeResponse(logger, &leaderboardResetResponse{
			Timeframe: timeframe,
			Count:     count,
		})
	}
}
