package globelogix

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// globelogixImpl implements the Globelogix interface
type globelogixImpl struct {
	sync.RWMutex

	publishers []Publisher
	locks      *KeyedMutex
	scheduler  *Scheduler
	metrics    *MetricsPublisher
	cancel     context.CancelFunc

	// Store systems in a map by type
	systems map[SystemType]System
}

// Init initializes a Globelogix type with the configurations provided. A base system config is required; the
// other systems are optional and are initialized in dependency order whatever order they are given in.
func Init(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, initializer runtime.Initializer, configs ...SystemConfig) (Globelogix, error) {
	backgroundCtx, cancel := context.WithCancel(context.Background())
	gl := &globelogixImpl{
		publishers: make([]Publisher, 0),
		locks:      NewKeyedMutex(),
		cancel:     cancel,
		systems:    make(map[SystemType]System),
	}

	sorted := make([]SystemConfig, 0, len(configs))
	for _, config := range configs {
		if config != nil {
			sorted = append(sorted, config)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].GetType() < sorted[j].GetType()
	})
	if len(sorted) == 0 || sorted[0].GetType() != SystemTypeBase {
		cancel()
		logger.Error("Base system config is required")
		return nil, ErrSystemNotFound
	}

	// Initialize systems based on provided configs
	for _, config := range sorted {
		if err := gl.initSystem(ctx, logger, nk, initializer, config); err != nil {
			_ = gl.Close()
			return nil, err
		}
	}
	gl.wireSystems(logger)

	// Expose metrics if configured
	base := gl.GetBaseSystem()
	if baseConfig, ok := base.GetConfig().(*BaseSystemConfig); ok && baseConfig.MetricsAddr != "" {
		gl.metrics = NewMetricsPublisher()
		gl.AddPublisher(gl.metrics)
		gl.metrics.Serve(backgroundCtx, logger, baseConfig.MetricsAddr)
	}

	// Start the scheduler if any job is configured
	if err := gl.startScheduler(logger); err != nil {
		_ = gl.Close()
		return nil, err
	}

	return gl, nil
}

// initSystem initializes a specific system based on its type
func (g *globelogixImpl) initSystem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, initializer runtime.Initializer, config SystemConfig) error {
	logger.Info("Initializing system type: %v, config file: %s", config.GetType(), config.GetConfigFile())

	// 1. Load the config file
	configBytes, err := readConfigFile(nk, config.GetConfigFile())
	if err != nil {
		logger.Error("Failed to read config file %s: %v", config.GetConfigFile(), err)
		return err
	}

	// 2. Create the appropriate system instance based on system type
	var system System
	switch config.GetType() {
	case SystemTypeBase:
		baseConfig := &BaseSystemConfig{}
		if err := json.Unmarshal(configBytes, baseConfig); err != nil {
			logger.Error("Failed to parse Base system config: %v", err)
			return err
		}
		base, err := g.newBaseSystem(ctx, logger, baseConfig, config.GetExtra())
		if err != nil {
			return err
		}
		system = base

	case SystemTypeNotifications:
		notificationsConfig := &NotificationsConfig{}
		if err := json.Unmarshal(configBytes, notificationsConfig); err != nil {
			logger.Error("Failed to parse Notifications system config: %v", err)
			return err
		}
		notificationsConfig.applyDefaults()
		provider, ok := config.GetExtra().(NotificationProvider)
		if !ok || provider == nil {
			provider = NewNakamaNotificationProvider(nk, notificationsConfig.NotificationCode, true)
		}
		notifications, err := NewCompetitiveNotificationsSystem(notificationsConfig, g.store(), provider)
		if err != nil {
			logger.Error("Failed to create Notifications system: %v", err)
			return err
		}
		system = notifications

	case SystemTypeLeaderboards:
		leaderboardsConfig := &LeaderboardsConfig{}
		if err := json.Unmarshal(configBytes, leaderboardsConfig); err != nil {
			logger.Error("Failed to parse Leaderboards system config: %v", err)
			return err
		}
		system = NewRedisLeaderboardsSystem(leaderboardsConfig, g.store(), g.locks)

	case SystemTypeProgress:
		progressConfig := &ProgressConfig{}
		if err := json.Unmarshal(configBytes, progressConfig); err != nil {
			logger.Error("Failed to parse Progress system config: %v", err)
			return err
		}
		leaderboards := g.GetLeaderboardsSystem()
		if leaderboards == nil {
			logger.Error("Progress system requires the Leaderboards system")
			return ErrSystemNotFound
		}
		system = NewRedisProgressSystem(progressConfig, g.store(), g.locks, leaderboards, initialBestLevel(leaderboards))

	case SystemTypeCollection:
		collectionConfig := &CollectionConfig{}
		if err := json.Unmarshal(configBytes, collectionConfig); err != nil {
			logger.Error("Failed to parse Collection system config: %v", err)
			return err
		}
		base := g.GetBaseSystem()
		system = NewRedisCollectionSystem(collectionConfig, base.Store(), base.FundsProvider(), g.externalTimeout())

	case SystemTypeRewards:
		rewardsConfig := &RewardsConfig{}
		if err := json.Unmarshal(configBytes, rewardsConfig); err != nil {
			logger.Error("Failed to parse Rewards system config: %v", err)
			return err
		}
		rewardsConfig.applyDefaults()
		leaderboards := g.GetLeaderboardsSystem()
		if leaderboards == nil {
			logger.Error("Rewards system requires the Leaderboards system")
			return ErrSystemNotFound
		}
		var executor *DistributionExecutor
		if provider := g.GetBaseSystem().FundsProvider(); provider != nil {
			executor = NewDistributionExecutor(provider, g.externalTimeout(), rewardsConfig.BatchMinRecipients)
		} else {
			logger.Warn("No funds provider configured, reward distributions are disabled")
		}
		system = NewRedisRewardsSystem(rewardsConfig, g.store(), leaderboards, executor)

	default:
		logger.Error("Unknown system type: %v", config.GetType())
		return runtime.NewError("unknown system type", INVALID_ARGUMENT_ERROR_CODE)
	}

	// 3. Store the system
	g.Lock()
	g.systems[config.GetType()] = system
	g.Unlock()

	// 4. Register RPCs if requested
	if config.GetRegister() {
		if err := g.registerSystemRpcs(initializer, config.GetType()); err != nil {
			logger.Error("Failed to register RPCs for system type %v: %v", config.GetType(), err)
			return err
		}
	}

	return nil
}

func (g *globelogixImpl) newBaseSystem(ctx context.Context, logger runtime.Logger, config *BaseSystemConfig, extra any) (*BaseGlobelogix, error) {
	var (
		store    ScoreStore
		provider FundsTransferProvider
	)
	if overrides, ok := extra.(*BaseSystemOverrides); ok {
		store = overrides.Store
		provider = overrides.FundsProvider
	}

	if store == nil {
		redisStore, err := NewRedisScoreStore(ctx, config)
		if err != nil {
			logger.Error("Failed to connect score store: %v", err)
			return nil, ErrStoreUnavailable
		}
		store = redisStore
	}

	if provider == nil && config.FundsProviderURL != "" {
		provider = NewHTTPFundsProvider(config)
	}

	return NewBaseGlobelogix(config, store, provider), nil
}

// wireSystems sets the cross-system references once every configured system exists.
func (g *globelogixImpl) wireSystems(logger runtime.Logger) {
	leaderboards := g.GetLeaderboardsSystem()
	notifications := g.GetNotificationsSystem()
	collection := g.GetCollectionSystem()

	for _, system := range g.systems {
		if s, ok := system.(interface{ SetGlobelogix(Globelogix) }); ok {
			s.SetGlobelogix(g)
		}
	}

	if s, ok := notifications.(*CompetitiveNotificationsSystem); ok && leaderboards != nil {
		s.SetLeaderboardsSystem(leaderboards)
		logger.Info("Set leaderboards reference in notifications system")
	}
	if s, ok := g.systems[SystemTypeProgress].(*RedisProgressSystem); ok && notifications != nil {
		s.SetNotificationsSystem(notifications)
		logger.Info("Set notifications reference in progress system")
	}
	if s, ok := g.systems[SystemTypeRewards].(*RedisRewardsSystem); ok {
		if collection != nil {
			s.SetCollectionSystem(collection)
			logger.Info("Set collection reference in rewards system")
		}
		if notifications != nil {
			s.SetNotificationsSystem(notifications)
			logger.Info("Set notifications reference in rewards system")
		}
	}
}

func (g *globelogixImpl) startScheduler(logger runtime.Logger) error {
	rewards := g.GetRewardsSystem()
	if rewards == nil {
		return nil
	}
	config, ok := rewards.GetConfig().(*RewardsConfig)
	if !ok || (config.WeeklyCycleCron == "" && config.CollectionCron == "") {
		return nil
	}

	scheduler := NewScheduler(logger.WithField("component", "scheduler"), rewards, g.GetCollectionSystem(), 0)
	if config.WeeklyCycleCron != "" {
		if err := scheduler.AddWeeklyCycle(config.WeeklyCycleCron); err != nil {
			logger.Error("Failed to schedule weekly cycle: %v", err)
			return err
		}
	}
	if config.CollectionCron != "" {
		if err := scheduler.AddDailyCollection(config.CollectionCron); err != nil {
			logger.Error("Failed to schedule daily collection: %v", err)
			return err
		}
	}
	scheduler.Start()
	g.scheduler = scheduler
	return nil
}

func (g *globelogixImpl) store() ScoreStore {
	if base := g.GetBaseSystem(); base != nil {
		return base.Store()
	}
	return nil
}

func (g *globelogixImpl) externalTimeout() time.Duration {
	if base := g.GetBaseSystem(); base != nil {
		if config, ok := base.GetConfig().(*BaseSystemConfig); ok && config.ExternalTimeoutSec > 0 {
			return time.Duration(config.ExternalTimeoutSec) * time.Second
		}
	}
	return 15 * time.Second
}

func initialBestLevel(leaderboards LeaderboardsSystem) int {
	if config, ok := leaderboards.GetConfig().(*LeaderboardsConfig); ok {
		return config.InitialBestLevel
	}
	return 1
}

func readConfigFile(nk runtime.NakamaModule, configFile string) ([]byte, error) {
	if configFile == "" {
		return []byte("{}"), nil
	}
	file, err := nk.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	return data, nil
}

// AddPublisher adds a publisher to the chain
func (g *globelogixImpl) AddPublisher(publisher Publisher) {
	g.Lock()
	defer g.Unlock()
	g.publishers = append(g.publishers, publisher)
}

// SendPublisherEvents broadcasts events to all registered publishers
func (g *globelogixImpl) SendPublisherEvents(ctx context.Context, logger runtime.Logger, userID string, events []*PublisherEvent) {
	g.RLock()
	publishers := g.publishers
	g.RUnlock()
	if len(publishers) == 0 || len(events) == 0 {
		return
	}

	for _, publisher := range publishers {
		publisher.Send(ctx, logger, userID, events)
	}
}

func (g *globelogixImpl) getSystem(systemType SystemType) System {
	g.RLock()
	defer g.RUnlock()
	return g.systems[systemType]
}

func (g *globelogixImpl) GetBaseSystem() BaseSystem {
	if system, ok := g.getSystem(SystemTypeBase).(BaseSystem); ok {
		return system
	}
	return nil
}

func (g *globelogixImpl) GetLeaderboardsSystem() LeaderboardsSystem {
	if system, ok := g.getSystem(SystemTypeLeaderboards).(LeaderboardsSystem); ok {
		return system
	}
	return nil
}

func (g *globelogixImpl) GetProgressSystem() ProgressSystem {
	if system, ok := g.getSystem(SystemTypeProgress).(ProgressSystem); ok {
		return system
	}
	return nil
}

func (g *globelogixImpl) GetRewardsSystem() RewardsSystem {
	if system, ok := g.getSystem(SystemTypeRewards).(RewardsSystem); ok {
		return system
	}
	return nil
}

func (g *globelogixImpl) GetCollectionSystem() CollectionSystem {
	if system, ok := g.getSystem(SystemTypeCollection).(CollectionSystem); ok {
		return system
	}
	return nil
}

func (g *globelogixImpl) GetNotificationsSystem() NotificationsSystem {
	if system, ok := g.getSystem(SystemTypeNotifications).(NotificationsSystem); ok {
		return system
	}
	return nil
}

func (g *globelogixImpl) GetScheduler() *Scheduler {
	return g.scheduler
}

func (g *globelogixImpl) Close() error {
	g.cancel()

	if g.scheduler != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = g.scheduler.Stop(stopCtx)
	}

	if store := g.store(); store != nil {
		return store.Close()
	}
	return nil
}
