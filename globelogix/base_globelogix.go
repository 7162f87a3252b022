package globelogix

var _ BaseSystem = &BaseGlobelogix{}

// BaseGlobelogix holds the store and funds provider shared by the other systems.
type BaseGlobelogix struct {
	config   *BaseSystemConfig
	store    ScoreStore
	provider FundsTransferProvider
	admins   map[string]struct{}
}

func NewBaseGlobelogix(config *BaseSystemConfig, store ScoreStore, provider FundsTransferProvider) *BaseGlobelogix {
	if config == nil {
		config = &BaseSystemConfig{}
	}
	admins := make(map[string]struct{}, len(config.AdminUserIDs))
	for _, userID := range config.AdminUserIDs {
		if userID != "" {
			admins[userID] = struct{}{}
		}
	}
	return &BaseGlobelogix{
		config:   config,
		store:    store,
		provider: provider,
		admins:   admins,
	}
}

func (b *BaseGlobelogix) GetType() SystemType {
	return SystemTypeBase
}

func (b *BaseGlobelogix) GetConfig() any {
	return b.config
}

func (b *BaseGlobelogix) Store() ScoreStore {
	return b.store
}

func (b *BaseGlobelogix) FundsProvider() FundsTransferProvider {
	return b.provider
}

func (b *BaseGlobelogix) IsAdmin(userID string) bool {
	_, found := b.admins[userID]
	return found
}
