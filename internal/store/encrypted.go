package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// EncryptedArtifactStore wraps another store with AES-256-GCM. A random
// 96-bit nonce is prepended to each ciphertext. Metadata size reflects
// the encrypted size; health checks are delegated.
type EncryptedArtifactStore struct {
	inner ArtifactStore
	gcm   cipher.AEAD
}

// NewEncryptedArtifactStore expects the host-provided master key as 64
// hex chars (32 bytes).
func NewEncryptedArtifactStore(inner ArtifactStore, masterKeyHex string) (*EncryptedArtifactStore, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (64 hex chars), got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptedArtifactStore{inner: inner, gcm: gcm}, nil
}

func (e *EncryptedArtifactStore) encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, data, nil), nil
}

func (e *EncryptedArtifactStore) decrypt(data []byte) ([]byte, error) {
	ns := e.gcm.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return e.gcm.Open(nil, data[:ns], data[ns:], nil)
}

func (e *EncryptedArtifactStore) Save(ctx context.Context, data []byte) (RefId, error) {
	enc, err := e.encrypt(data)
	if err != nil {
		return "", err
	}
	return e.inner.Save(ctx, enc)
}

func (e *EncryptedArtifactStore) SaveWithID(ctx context.Context, id RefId, data []byte) error {
	enc, err := e.encrypt(data)
	if err != nil {
		return err
	}
	return e.inner.SaveWithID(ctx, id, enc)
}

func (e *EncryptedArtifactStore) SaveWithType(ctx context.Context, data []byte, contentType string) (RefId, error) {
	enc, err := e.encrypt(data)
	if err != nil {
		return "", err
	}
	return e.inner.SaveWithType(ctx, enc, contentType)
}

func (e *EncryptedArtifactStore) Load(ctx context.Context, id RefId) ([]byte, error) {
	enc, err := e.inner.Load(ctx, id)
	if err != nil || enc == nil {
		return nil, err
	}
	return e.decrypt(enc)
}

func (e *EncryptedArtifactStore) Delete(ctx context.Context, id RefId) error {
	return e.inner.Delete(ctx, id)
}

func (e *EncryptedArtifactStore) Exists(ctx context.Context, id RefId) (bool, error) {
	return e.inner.Exists(ctx, id)
}

func (e *EncryptedArtifactStore) Metadata(ctx context.Context, id RefId) (*ArtifactMetadata, error) {
	return e.inner.Metadata(ctx, id)
}

func (e *EncryptedArtifactStore) HealthCheck(ctx context.Context) error {
	return e.inner.HealthCheck(ctx)
}
