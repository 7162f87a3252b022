package main

import (
	"context"
	"database/sql"
	"time"

	"aroundtheworld/examples"
	"aroundtheworld/globelogix"

	"github.com/heroiclabs/nakama-common/runtime"
)

// noinspection GoUnusedExportedFunction
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	initStart := time.Now()

	logger.Info("Loading Around the World Nakama plugin...")

	gl, err := globelogix.Init(ctx, logger, nk, initializer,
		globelogix.WithBaseSystem("globelogix/base.json", false),
		globelogix.WithNotificationsSystem("globelogix/notifications.json", false),
		globelogix.WithLeaderboardsSystem("globelogix/leaderboards.json", true),
		globelogix.WithProgressSystem("globelogix/progress.json", true),
		globelogix.WithCollectionSystem("globelogix/collection.json", true),
		globelogix.WithRewardsSystem("globelogix/rewards.json", true),
	)
	if err != nil {
		logger.Error("Failed to initialize globelogix: %v", err)
		return err
	}

	if err := examples.RegisterWeeklyRecap(initializer, gl); err != nil {
		logger.Error("Failed to register weekly recap: %v", err)
		return err
	}

	if err := initializer.RegisterShutdown(func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) {
		if err := gl.Close(); err != nil {
			logger.Error("Failed to close globelogix: %v", err)
		}
	}); err != nil {
		logger.Error("Failed to register shutdown hook: %v", err)
		return err
	}

	logger.Info("Around the World Nakama plugin loaded in '%d' msec.", time.Now().Sub(initStart).Milliseconds())
	return nil
}

// main is unused: the module is loaded by Nakama as a plugin via InitModule.
func main() {}
