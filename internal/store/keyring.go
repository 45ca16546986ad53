package store

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringBackend stores values in the system credential store.
type KeyringBackend struct {
	ring keyring.Keyring
}

// OpenKeyring opens the system keyring under service.
func OpenKeyring(service string) (*KeyringBackend, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              service,
		KeychainTrustApplication: true,
		KeyCtlScope:              "user",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyringBackend(ring), nil
}

// NewKeyringBackend stores values in ring.
func NewKeyringBackend(ring keyring.Keyring) *KeyringBackend {
	return &KeyringBackend{ring: ring}
}

func (b *KeyringBackend) Get(key string) ([]byte, error) {
	item, err := b.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not load %s: %w", key, err)
	}
	return item.Data, nil
}

func (b *KeyringBackend) Set(key string, data []byte) error {
	if err := b.ring.Set(keyring.Item{
		Key:         key,
		Data:        data,
		Label:       "beltctl " + key,
		Description: "belts connected by beltctl",
	}); err != nil {
		return fmt.Errorf("failed to store %s in keyring: %w", key, err)
	}
	return nil
}
