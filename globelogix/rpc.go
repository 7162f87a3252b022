package globelogix

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

// RpcId identifies an RPC registered with the game server.
type RpcId string

const (
	RpcId_RPC_ID_LEADERBOARD_GET           RpcId = "globelogix_leaderboard_get"
	RpcId_RPC_ID_LEADERBOARD_RANK          RpcId = "globelogix_leaderboard_rank"
	RpcId_RPC_ID_LEADERBOARD_RESET         RpcId = "globelogix_leaderboard_reset"
	RpcId_RPC_ID_PROGRESS_SAVE             RpcId = "globelogix_progress_save"
	RpcId_RPC_ID_PROFILE_GET               RpcId = "globelogix_profile_get"
	RpcId_RPC_ID_DAILY_BONUS_CLAIM         RpcId = "globelogix_daily_bonus_claim"
	RpcId_RPC_ID_SPEND_PERMISSION_REGISTER RpcId = "globelogix_spend_permission_register"
	RpcId_RPC_ID_COLLECTION_RUN            RpcId = "globelogix_collection_run"
	RpcId_RPC_ID_REWARDS_CONFIG_GET        RpcId = "globelogix_rewards_config_get"
	RpcId_RPC_ID_REWARDS_CONFIG_SET        RpcId = "globelogix_rewards_config_set"
	RpcId_RPC_ID_REWARDS_PREVIEW           RpcId = "globelogix_rewards_preview"
	RpcId_RPC_ID_REWARDS_DISTRIBUTE        RpcId = "globelogix_rewards_distribute"
	RpcId_RPC_ID_REWARDS_LAST_DISTRIBUTION RpcId = "globelogix_rewards_last_distribution"
	RpcId_RPC_ID_REWARDS_WEEKLY_CYCLE      RpcId = "globelogix_rewards_weekly_cycle"
	RpcId_RPC_ID_REWARDS_RESOLVE           RpcId = "globelogix_rewards_resolve"
)

func (r RpcId) String() string {
	return string(r)
}

type rpcHandler func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error)

// registerSystemRpcs registers the appropriate RPCs for a given system type
func (g *globelogixImpl) registerSystemRpcs(initializer runtime.Initializer, systemType SystemType) error {
	var rpcs map[RpcId]rpcHandler
	switch systemType {
	case SystemTypeLeaderboards:
		rpcs = map[RpcId]rpcHandler{
			RpcId_RPC_ID_LEADERBOARD_GET:   rpcLeaderboardGet(g),
			RpcId_RPC_ID_LEADERBOARD_RANK:  rpcLeaderboardRank(g),
			RpcId_RPC_ID_LEADERBOARD_RESET: rpcLeaderboardReset(g),
		}
	case SystemTypeProgress:
		rpcs = map[RpcId]rpcHandler{
			RpcId_RPC_ID_PROGRESS_SAVE:     rpcProgressSave(g),
			RpcId_RPC_ID_PROFILE_GET:       rpcProfileGet(g),
			RpcId_RPC_ID_DAILY_BONUS_CLAIM: rpcDailyBonusClaim(g),
		}
	case SystemTypeCollection:
		rpcs = map[RpcId]rpcHandler{
			RpcId_RPC_ID_SPEND_PERMISSION_REGISTER: rpcSpendPermissionRegister(g),
			RpcId_RPC_ID_COLLECTION_RUN:            rpcCollectionRun(g),
		}
	case SystemTypeRewards:
		rpcs = map[RpcId]rpcHandler{
			RpcId_RPC_ID_REWARDS_CONFIG_GET:        rpcRewardsConfigGet(g),
			RpcId_RPC_ID_REWARDS_CONFIG_SET:        rpcRewardsConfigSet(g),
			RpcId_RPC_ID_REWARDS_PREVIEW:           rpcRewardsPreview(g),
			RpcId_RPC_ID_REWARDS_DISTRIBUTE:        rpcRewardsDistribute(g),
			RpcId_RPC_ID_REWARDS_LAST_DISTRIBUTION: rpcRewardsLastDistribution(g),
			RpcId_RPC_ID_REWARDS_WEEKLY_CYCLE:      rpcRewardsWeeklyCycle(g),
			RpcId_RPC_ID_REWARDS_RESOLVE:           rpcRewardsResolve(g),
		}
	}

	for id, handler := range rpcs {
		if err := initializer.RegisterRpc(id.String(), handler); err != nil {
			return err
		}
	}
	return nil
}

// requireAdmin returns the caller's user ID when it is on the admin allow-list.
func (g *globelogixImpl) requireAdmin(ctx context.Context) (string, error) {
	userID, ok := sessionUserID(ctx)
	if !ok {
		return "", ErrNoSessionUser
	}
	base := g.GetBaseSystem()
	if base == nil || !base.IsAdmin(userID) {
		return "", ErrPermissionDenied
	}
	return userID, nil
}

// decodePayload unmarshals an optional JSON payload. An empty payload leaves out untouched.
func decodePayload(logger runtime.Logger, payload string, out any) error {
	if payload == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		logger.Error("Failed to unmarshal request payload: %v", err)
		return ErrPayloadDecode
	}
	return nil
}

func encodeResponse(logger runtime.Logger, response any) (string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		logger.Error("Failed to marshal response: %v", err)
		return "", ErrPayloadEncode
	}
	return string(data), nil
}
