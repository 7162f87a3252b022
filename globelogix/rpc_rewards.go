package globelogix

import (
	"context"
	"database/sql"
	"errors"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/shopspring/decimal"
)

type rewardsConfigSetRequest struct {
	Symbol      string          `json:"symbol"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type rewardsConfigGetResponse struct {
	Configured bool          `json:"configured"`
	Config     *RewardConfig `json:"config,omitempty"`
}

type rewardsTimeframeRequest struct {
	Timeframe string `json:"timeframe"`
}

type rewardsLastDistributionResponse struct {
	Found        bool                 `json:"found"`
	Distribution *DistributionOutcome `json:"distribution,omitempty"`
	Unresolved   *DistributionOutcome `json:"unresolved,omitempty"`
}

type rewardsResolveRequest struct {
	Timeframe string `json:"timeframe"`
	Landed    bool   `json:"landed"`
}

type rewardsResolveResponse struct {
	Resolved     bool                 `json:"resolved"`
	Distribution *DistributionOutcome `json:"distribution,omitempty"`
}

func rpcRewardsConfigGet(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		rewards := g.GetRewardsSystem()
		if rewards == nil {
			return "", ErrSystemNotAvailable
		}

		config, err := rewards.GetRewardConfig(ctx, logger)
		if err != nil {
			if errors.Is(err, ErrRewardConfigNotFound) {
				return encodeResponse(logger, &rewardsConfigGetResponse{Configured: false})
			}
			return "", err
		}
		return encodeResponse(logger, &rewardsConfigGetResponse{Configured: true, Config: config})
	}
}

func rpcRewardsConfigSet(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		rewards := g.GetRewardsSystem()
		if rewards == nil {
			return "", ErrSystemNotAvailable
		}
		adminID, err := g.requireAdmin(ctx)
		if err != nil {
			return "", err
		}
		if payload == "" {
			return "", ErrPayloadEmpty
		}

		var req rewardsConfigSetRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}

		config, err := rewards.SetRewardConfig(ctx, logger, &RewardConfig{
			Symbol:      req.Symbol,
			Amount:      req.Amount,
			Description: req.Description,
		})
		if err != nil {
			return "", err
		}
		logger.Info("Reward config set to %s %s by %s", config.Amount.String(), config.Symbol, adminID)
		return encodeResponse(logger, config)
	}
}

func rpcRewardsPreview(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		rewards := g.GetRewardsSystem()
		if rewards == nil {
			return "", ErrSystemNotAvailable
		}

		var req rewardsTimeframeRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}
		timeframe, err := ParseTimeframe(req.Timeframe)
		if err != nil {
			return "", err
		}

		outcome, err := rewards.PreviewDistribution(ctx, logger, timeframe)
		if err != nil && (outcome == nil || !errors.Is(err, ErrDistributionInvalid)) {
			return "", err
		}
		return encodeResponse(logger, outcome)
	}
}

func rpcRewardsDistribute(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		rewards := g.GetRewardsSystem()
		if rewards == nil {
			return "", ErrSystemNotAvailable
		}
		adminID, err := g.requireAdmin(ctx)
		if err != nil {
			return "", err
		}

		var req rewardsTimeframeRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}
		timeframe, err := ParseTimeframe(req.Timeframe)
		if err != nil {
			return "", err
		}

		logger.Info("Reward distribution for %s requested by %s", timeframe, adminID)
		outcome, err := rewards.Distribute(ctx, logger, &DistributionRequest{Timeframe: timeframe})
		if err != nil {
			// An invalid distribution still reports its outcome to the caller
			if outcome != nil && errors.Is(err, ErrDistributionInvalid) {
				return encodeResponse(logger, outcome)
			}
			return "", err
		}
		return encodeResponse(logger, outcome)
	}
}

func rpcRewardsLastDistribution(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		rewards := g.GetRewardsSystem()
		if rewards == nil {
			return "", ErrSystemNotAvailable
		}

		var req rewardsTimeframeRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}
		timeframe, err := ParseTimeframe(req.Timeframe)
		if err != nil {
			return "", err
		}

		outcome, err := rewards.GetLastDistribution(ctx, logger, timeframe)
		if err != nil {
			return "", err
		}
		unresolved, err := rewards.GetUnresolvedDistribution(ctx, logger, timeframe)
		if err != nil {
			return "", err
		}
		return encodeResponse(logger, &rewardsLastDistributionResponse{Found: outcome != nil, Distribution: outcome, Unresolved: unresolved})
	}
}

func rpcRewardsWeeklyCycle(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		rewards := g.GetRewardsSystem()
		if rewards == nil {
			return "", ErrSystemNotAvailable
		}
		adminID, err := g.requireAdmin(ctx)
		if err != nil {
			return "", err
		}

		logger.Info("Weekly cycle requested by %s", adminID)
		result, err := rewards.RunWeeklyCycle(ctx, logger)
		if err != nil {
			return "", err
		}
		return encodeResponse(logger, result)
	}
}

func rpcRewardsResolve(g *globelogixImpl) rpcHandler {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		rewards := g.GetRewardsSystem()
		if rewards == nil {
			return "", ErrSystemNotAvailable
		}
		adminID, err := g.requireAdmin(ctx)
		if err != nil {
			return "", err
		}

		var req rewardsResolveRequest
		if err := decodePayload(logger, payload, &req); err != nil {
			return "", err
		}
		timeframe, err := ParseTimeframe(req.Timeframe)
		if err != nil {
			return "", err
		}

		logger.Info("Resolution of the %s distribution as landed=%t requested by %s", timeframe, req.Landed, adminID)
		outcome, err := rewards.ResolveDistribution(ctx, logger, timeframe, req.Landed)
		if err != nil {
			return "", err
		}
		return encodeResponse(logger, &rewardsResolveResponse{Resolved: outcome != nil, Distribution: outcome})
	}
}
