package globelogix

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/shopspring/decimal"
)

type spendPermissionRegisterRequest struct {
	UserAddress       string          `json:"user_address"`
	Permission        json.RawMessage `json:"permission"`
	DailyContribution decimal.Decimal `json:"daily_contribution"`
}

type collectionRunResponse struct {
	Result         *CollectionResult `json:"result"`
	TriggerRewards bool              `json:"trigger_rewards"`
}

func rpcSpendPermissionRegister(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		collection := g.GetCollectionSystem()
		if collection == nil {
			return "", ErrSystemNotAvailable
		}
		if _, ok := sessionUserID(ctx); !ok {
			return "", ErrNoSessionUser
		}
		if payload == "" {
			return "", ErrPayloadEmpty
		}

		var req spendPermissionRegisterRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}

		record, err := collection.RegisterSpendPermission(ctx, logger, req.UserAddress, req.Permission, req.DailyContribution)
		if err != nil {
			return "", err
		}
		return encodeResponse(logger, record)
	}
}

func rpcCollectionRun(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		collection := g.GetCollectionSystem()
		if collection == nil {
			return "", ErrSystemNotAvailable
		}
		adminID, err := g.requireAdmin(ctx)
		if err != nil {
			return "", err
		}

		logger.Info("Contribution collection requested by %s", adminID)
		result, err := collection.CollectDailyContributions(ctx, logger)
		if err != nil {
			if !errors.Is(err, ErrCollectionRunning) {
				logger.Error("Failed to collect contributions: %v", err)
			}
			return "", err
		}

		response := &collectionRunResponse{Result: result}
		if trigger, err := collection.ShouldTriggerRewardDistribution(ctx, logger); err == nil {
			response.TriggerRewards = trigger
		}
		return encodeResponse(logger, response)
	}
}
