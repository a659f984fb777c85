package credentials

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// KeyPrefix namespaces every entry this application writes.
	KeyPrefix = "scpsync-"

	// MaxStoredKeys bounds the key ids probed by StoredKeyIDs.
	MaxStoredKeys = 10
)

// CredentialManager stores per-server passwords and private keys.
// Server ids have the form "user@host:port".
type CredentialManager struct {
	store  SecretStore
	logger *zap.Logger
}

// NewCredentialManager creates a new credential manager
func NewCredentialManager(store SecretStore, logger *zap.Logger) *CredentialManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialManager{
		store:  store,
		logger: logger.With(zap.String("component", "credential-manager")),
	}
}

func passwordKey(serverID string) string {
	return KeyPrefix + serverID + "-password"
}

func privateKeyKey(serverID, keyID string) string {
	return KeyPrefix + serverID + "-key-" + keyID
}

// KeyID returns the id of the i-th stored key slot.
func KeyID(i int) string {
	return fmt.Sprintf("key-%d", i)
}

// StorePassword saves the password for serverID.
func (cm *CredentialManager) StorePassword(serverID, password string) error {
	if serverID == "" {
		return fmt.Errorf("server id cannot be empty")
	}
	if err := cm.store.Set(passwordKey(serverID), password); err != nil {
		return err
	}
	cm.logger.Info("password stored", zap.String("server", serverID))
	return nil
}

// Password returns the stored password or ErrSecretNotFound.
func (cm *CredentialManager) Password(serverID string) (string, error) {
	return cm.store.Get(passwordKey(serverID))
}

// DeletePassword removes the stored password.
func (cm *CredentialManager) DeletePassword(serverID string) error {
	return cm.store.Delete(passwordKey(serverID))
}

// StorePrivateKey saves key content under keyID.
func (cm *CredentialManager) StorePrivateKey(serverID, keyID, key string) error {
	if serverID == "" || keyID == "" {
		return fmt.Errorf("server id and key id cannot be empty")
	}
	if !ValidateKeyContent(key) {
		return ErrInvalidKey
	}
	if err := cm.store.Set(privateKeyKey(serverID, keyID), key); err != nil {
		return err
	}
	cm.logger.Info("private key stored",
		zap.String("server", serverID),
		zap.String("key_id", keyID))
	return nil
}

// PrivateKey returns the stored key content or ErrSecretNotFound.
func (cm *CredentialManager) PrivateKey(serverID, keyID string) (string, error) {
	return cm.store.Get(privateKeyKey(serverID, keyID))
}

// DeletePrivateKey removes one stored key.
func (cm *CredentialManager) DeletePrivateKey(serverID, keyID string) error {
	return cm.store.Delete(privateKeyKey(serverID, keyID))
}

// StoredKeyIDs lists the occupied key slots key-0..key-9.
func (cm *CredentialManager) StoredKeyIDs(serverID string) []string {
	var ids []string
	for i := 0; i < MaxStoredKeys; i++ {
		id := KeyID(i)
		if _, err := cm.store.Get(privateKeyKey(serverID, id)); err == nil {
			ids = append(ids, id)
		} else if !errors.Is(err, ErrSecretNotFound) {
			cm.logger.Warn("failed to probe stored key",
				zap.String("server", serverID),
				zap.String("key_id", id),
				zap.Error(err))
		}
	}
	return ids
}

// DeleteAll removes the password and every stored key for serverID.
func (cm *CredentialManager) DeleteAll(serverID string) error {
	err := cm.DeletePassword(serverID)
	for _, id := range cm.StoredKeyIDs(serverID) {
		err = multierr.Append(err, cm.DeletePrivateKey(serverID, id))
	}
	if err == nil {
		cm.logger.Info("credentials deleted", zap.String("server", serverID))
	}
	return err
}
