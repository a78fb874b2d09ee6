// Package device owns the identifier this daemon presents to the media server.
package device

import (
	"sync"

	"github.com/google/uuid"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
)

// StorageKey is where the identifier is persisted.
const StorageKey = "device_id"

// KV persists the identifier between runs.
type KV interface {
	String(key string) (string, bool)
	SetString(key, value string) error
}

// Identity generates the device id on first use and hands out the same
// value until Clear.
type Identity struct {
	mu    sync.Mutex
	id    string
	store KV
}

// NewIdentity returns an Identity backed by store, which may be nil.
func NewIdentity(store KV) *Identity {
	return &Identity{store: store}
}

// ID returns the device id, creating and persisting it if needed.
func (i *Identity) ID() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.id != "" {
		return i.id
	}
	if i.store != nil {
		if id, ok := i.store.String(StorageKey); ok {
			i.id = id
			return id
		}
	}

	i.id = uuid.NewString()
	if i.store != nil {
		if err := i.store.SetString(StorageKey, i.id); err != nil {
			logger := log.WithComponent("device")
			logger.Warn().Err(err).Msg("failed to persist device id")
		}
	}
	return i.id
}

// Clear drops the cached and stored id; the next ID call makes a new one.
func (i *Identity) Clear() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.id = ""
	if i.store != nil {
		return i.store.SetString(StorageKey, "")
	}
	return nil
}
