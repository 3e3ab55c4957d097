package securestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps values in the system keychain under one service
// name per namespace.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a keychain-backed store.
func NewKeyringStore(namespace string) *KeyringStore {
	return &KeyringStore{service: namespace + "-tokens"}
}

// Get returns the keychain entry for key.
func (s *KeyringStore) Get(_ context.Context, key string) (string, bool, error) {
	v, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("reading keychain: %w", err)
	}

	return v, true, nil
}

// Set writes the keychain entry for key.
func (s *KeyringStore) Set(_ context.Context, key, value string) error {
	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("writing keychain: %w", err)
	}

	return nil
}

// RemoveAll deletes every entry under the service name.
func (s *KeyringStore) RemoveAll(_ context.Context) error {
	if err := keyring.DeleteAll(s.service); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("clearing keychain: %w", err)
	}

	return nil
}

// Close is a no-op.
func (s *KeyringStore) Close() error { return nil }
