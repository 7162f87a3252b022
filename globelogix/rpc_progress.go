package globelogix

import (
	"context"
	"database/sql"

	"github.com/heroiclabs/nakama-common/runtime"
)

type progressSaveRequest struct {
	PlayerID   string `json:"player_id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
	ExternalID string `json:"external_id"`
	Level      int    `json:"level"`
	Score      int64  `json:"score"`
	Completed  bool   `json:"completed"`
	Stars      int    `json:"stars"`
}

type profileGetRequest struct {
	PlayerID      string `json:"player_id"`
	IncludeLevels bool   `json:"include_levels"`
}

type dailyBonusClaimRequest struct {
	PlayerID string `json:"player_id"`
}

type profileGetResponse struct {
	Profile *PlayerProfile         `json:"profile"`
	Levels  map[int]*LevelProgress `json:"levels,omitempty"`
	Ranks   map[Timeframe]int      `json:"ranks,omitempty"`
}

func rpcProgressSave(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		progress := g.GetProgressSystem()
		if progress == nil {
			return "", ErrSystemNotAvailable
		}
		userID, ok := sessionUserID(ctx)
		if !ok {
			return "", ErrNoSessionUser
		}
		if payload == "" {
			return "", ErrPayloadEmpty
		}

		var req progressSaveRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}
		// Players are keyed by wallet address when the client sends one, notifications go to the Nakama user
		if req.PlayerID == "" {
			req.PlayerID = userID
		}
		if req.ExternalID == "" {
			req.ExternalID = userID
		}

		profile, err := progress.SaveLevelProgress(ctx, logger, &SaveProgressRequest{
			PlayerID:   req.PlayerID,
			Name:       req.Name,
			Avatar:     req.Avatar,
			ExternalID: req.ExternalID,
			Level:      req.Level,
			Score:      req.Score,
			Completed:  req.Completed,
			Stars:      req.Stars,
		})
		if err != nil {
			return "", err
		}
		return encodeResponse(logger, profile)
	}
}

func rpcProfileGet(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		progress := g.GetProgressSystem()
		if progress == nil {
			return "", ErrSystemNotAvailable
		}

		var req profileGetRequest
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

		profile, err := progress.GetProfile(ctx, logger, req.PlayerID)
		if err != nil {
			return "", err
		}
		response := &profileGetResponse{Profile: profile}

		if req.IncludeLevels {
			levels, err := progress.GetLevelProgress(ctx, logger, req.PlayerID)
			if err != nil {
				return "", err
			}
			response.Levels = levels
		}

		if leaderboards := g.GetLeaderboardsSystem(); leaderboards != nil {
			response.Ranks = make(map[Timeframe]int, len(Timeframes))
			for _, timeframe := range Timeframes {
				response.Ranks[timeframe] = leaderboards.GetPlayerRank(ctx, logger, req.PlayerID, timeframe)
			}
		}

		return encodeResponse(logger, response)
	}
}

func rpcDailyBonusClaim(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		progress := g.GetProgressSystem()
		if progress == nil {
			return "", ErrSystemNotAvailable
		}
		userID, ok := sessionUserID(ctx)
		if !ok {
			return "", ErrNoSessionUser
		}

		var req dailyBonusClaimRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}
		if req.PlayerID == "" {
			req.PlayerID = userID
		}

		result, err := progress.ClaimDailyBonus(ctx, logger, req.PlayerID)
		if err != nil {
			return "", err
		}
		return encodeResponse(logger, result)
	}
}
