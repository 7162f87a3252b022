package globelogix

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrInternal           = runtime.NewError("internal error occurred", INTERNAL_ERROR_CODE)          // INTERNAL
	ErrBadInput           = runtime.NewError("bad input", INVALID_ARGUMENT_ERROR_CODE)                // INVALID_ARGUMENT
	ErrFileNotFound       = runtime.NewError("file not found", INVALID_ARGUMENT_ERROR_CODE)           // INVALID_ARGUMENT
	ErrNoSessionUser      = runtime.NewError("no user ID in session", INVALID_ARGUMENT_ERROR_CODE)    // INVALID_ARGUMENT
	ErrPayloadDecode      = runtime.NewError("cannot decode json", INTERNAL_ERROR_CODE)               // INTERNAL
	ErrPayloadEmpty       = runtime.NewError("payload should not be empty", INVALID_ARGUMENT_ERROR_CODE)
	ErrPayloadEncode      = runtime.NewError("cannot encode json", INTERNAL_ERROR_CODE)               // INTERNAL
	ErrPermissionDenied   = runtime.NewError("permission denied", PERMISSION_DENIED_ERROR_CODE)       // PERMISSION_DENIED
	ErrSystemNotAvailable = runtime.NewError("system not available", INTERNAL_ERROR_CODE)            // INTERNAL
	ErrSystemNotFound     = runtime.NewError("system not found", INTERNAL_ERROR_CODE)                // INTERNAL
	ErrStoreKeyNotFound   = runtime.NewError("store key not found", NOT_FOUND_ERROR_CODE)             // NOT_FOUND
	ErrStoreUnavailable   = runtime.NewError("score store unavailable", UNAVAILABLE_ERROR_CODE)       // UNAVAILABLE
	ErrPlayerNotFound     = runtime.NewError("player not found", NOT_FOUND_ERROR_CODE)                // NOT_FOUND
	ErrUnknownTimeframe   = runtime.NewError("unknown leaderboard timeframe", INVALID_ARGUMENT_ERROR_CODE)
)

// Globelogix provides a type which combines the leaderboard, reward and payout systems.
type Globelogix interface {
	EventSender

	AddPublisher(publisher Publisher)

	GetBaseSystem() BaseSystem
	GetLeaderboardsSystem() LeaderboardsSystem
	GetProgressSystem() ProgressSystem
	GetRewardsSystem() RewardsSystem
	GetCollectionSystem() CollectionSystem
	GetNotificationsSystem() NotificationsSystem

	// GetScheduler returns the cron scheduler driving the weekly cycle and daily collection, or nil when no
	// schedule is configured.
	GetScheduler() *Scheduler

	// Close stops the scheduler and releases the score store.
	Close() error
}

// The BaseSystem owns the shared infrastructure every other system is built on.
type BaseSystem interface {
	System

	// Store returns the score store shared by all systems.
	Store() ScoreStore

	// FundsProvider returns the configured funds transfer provider, or nil when payouts are disabled.
	FundsProvider() FundsTransferProvider

	// IsAdmin reports whether the Nakama user is allowed to run administrative operations.
	IsAdmin(userID string) bool
}

// BaseSystemConfig is the data definition for the BaseSystem type.
type BaseSystemConfig struct {
	RedisAddr     string `json:"redis_addr,omitempty"`     // "127.0.0.1:6379"
	RedisPassword string `json:"redis_password,omitempty"` // ""
	RedisDB       int    `json:"redis_db,omitempty"`       // 0
	KeyPrefix     string `json:"key_prefix,omitempty"`     // "atw:"

	AdminUserIDs []string `json:"admin_user_ids,omitempty"`

	ExternalTimeoutSec  int64   `json:"external_timeout_sec,omitempty"` // 15
	FundsProviderURL    string  `json:"funds_provider_url,omitempty"`
	FundsProviderAPIKey string  `json:"funds_provider_api_key,omitempty"`
	FundsProviderAsset  string  `json:"funds_provider_asset,omitempty"` // "ETH"
	FundsProviderRPS    float64 `json:"funds_provider_rps,omitempty"`   // 5

	MetricsAddr string `json:"metrics_addr,omitempty"` // ":9180", empty disables the metrics listener
}

// The SystemType identifies each of the systems. Systems are initialised in this order.
type SystemType uint

const (
	SystemTypeUnknown SystemType = iota
	SystemTypeBase
	SystemTypeNotifications
	SystemTypeLeaderboards
	SystemTypeProgress
	SystemTypeCollection
	SystemTypeRewards
)

func (t SystemType) String() string {
	switch t {
	case SystemTypeBase:
		return "base"
	case SystemTypeNotifications:
		return "notifications"
	case SystemTypeLeaderboards:
		return "leaderboards"
	case SystemTypeProgress:
		return "progress"
	case SystemTypeCollection:
		return "collection"
	case SystemTypeRewards:
		return "rewards"
	default:
		return "unknown"
	}
}

// The SystemConfig describes the configuration that each system must use to configure itself.
type SystemConfig interface {
	// GetType returns the runtime type of the system.
	GetType() SystemType

	// GetConfigFile returns the configuration file used for the data definitions in the system.
	GetConfigFile() string

	// GetRegister returns true if the system's RPCs should be registered with the game server.
	GetRegister() bool

	// GetExtra returns the extra parameter used to configure the system.
	GetExtra() any
}

var _ SystemConfig = &systemConfig{}

type systemConfig struct {
	systemType SystemType
	configFile string
	register   bool

	extra any
}

func (sc *systemConfig) GetType() SystemType {
	return sc.systemType
}
func (sc *systemConfig) GetConfigFile() string {
	return sc.configFile
}
func (sc *systemConfig) GetRegister() bool {
	return sc.register
}
func (sc *systemConfig) GetExtra() any {
	return sc.extra
}

// A System is a base type for a system.
type System interface {
	// GetType provides the runtime type of the system.
	GetType() SystemType

	// GetConfig returns the configuration type of the system.
	GetConfig() any
}

// BaseSystemOverrides replaces infrastructure the BaseSystem would otherwise build from its config file.
type BaseSystemOverrides struct {
	Store         ScoreStore
	FundsProvider FundsTransferProvider
}

// WithBaseSystem configures the BaseSystem type. It must be present, every other system depends on its store.
// Optional overrides replace the Redis store and the HTTP funds provider.
func WithBaseSystem(configFile string, register bool, overrides ...*BaseSystemOverrides) SystemConfig {
	var extra any
	if len(overrides) > 0 && overrides[0] != nil {
		extra = overrides[0]
	}
	return &systemConfig{
		systemType: SystemTypeBase,
		configFile: configFile,
		register:   register,
		extra:      extra,
	}
}

// WithNotificationsSystem configures a NotificationsSystem type. An optional NotificationProvider replaces
// delivery through Nakama in-app notifications.
func WithNotificationsSystem(configFile string, register bool, provider ...NotificationProvider) SystemConfig {
	var extra any
	if len(provider) > 0 {
		extra = provider[0]
	}
	return &systemConfig{
		systemType: SystemTypeNotifications,
		configFile: configFile,
		register:   register,
		extra:      extra,
	}
}

// WithLeaderboardsSystem configures a LeaderboardsSystem type and optionally registers its RPCs with the game server.
func WithLeaderboardsSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeLeaderboards,
		configFile: configFile,
		register:   register,
	}
}

// WithProgressSystem configures a ProgressSystem type and optionally registers its RPCs with the game server.
func WithProgressSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeProgress,
		configFile: configFile,
		register:   register,
	}
}

// WithCollectionSystem configures a CollectionSystem type and optionally registers its RPCs with the game server.
func WithCollectionSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeCollection,
		configFile: configFile,
		register:   register,
	}
}

// WithRewardsSystem configures a RewardsSystem type and optionally registers its RPCs with the game server.
func WithRewardsSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeRewards,
		configFile: configFile,
		register:   register,
	}
}

// sessionUserID extracts the caller's Nakama user ID from an RPC context.
func sessionUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	return userID, ok && userID != ""
}
