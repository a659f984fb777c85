// Package credentials resolves SSH credentials for a workspace and keeps
// passwords and private keys in the operating system keyring.
package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ErrSecretNotFound indicates the store has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore persists opaque secrets by key.
type SecretStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// KeyringStore keeps secrets in the system keyring under one service name.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a store for service.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Get(key string) (string, error) {
	v, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load %s from keyring: %w", key, err)
	}
	return v, nil
}

func (s *KeyringStore) Set(key, value string) error {
	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("failed to store %s in keyring: %w", key, err)
	}
	return nil
}

// Delete is a no-op for absent keys.
func (s *KeyringStore) Delete(key string) error {
	err := keyring.Delete(s.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s from keyring: %w", key, err)
	}
	return nil
}
