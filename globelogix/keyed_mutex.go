package globelogix

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// KeyedMutex serializes work per key, typically per player, without a global lock.
type KeyedMutex struct {
	locks *xsync.MapOf[string, *sync.Mutex]
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: xsync.NewMapOf[string, *sync.Mutex](),
	}
}

// Lock blocks until the key is free and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	mu, _ := k.locks.LoadOrCompute(key, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	mu.Lock()
	return mu.Unlock
}

func profileLockKey(playerID string) string {
	return "profile:" + playerID
}

func entryLockKey(playerID string) string {
	return "entry:" + playerID
}

func permissionLockKey(userAddress string) string {
	return "permission:" + userAddress
}
