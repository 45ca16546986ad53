// Package store persists small values between runs: the list of belts that
// completed a handshake, most recent first.
package store

import (
	"errors"
	"fmt"

	"github.com/srg/beltctl/pkg/config"
)

// ErrNotFound is returned by Backend.Get for a key never set.
var ErrNotFound = errors.New("key not found")

// Backend is a key-value store.
type Backend interface {
	Get(key string) ([]byte, error)
	Set(key string, data []byte) error
}

// Open creates the backend selected by cfg.
func Open(cfg config.StoreConfig) (Backend, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return NewMemoryBackend(), nil
	case config.StoreFile:
		return NewFileBackend(cfg.Path), nil
	case config.StoreKeyring:
		return OpenKeyring(cfg.KeyringService)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
