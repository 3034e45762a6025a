// Package store provides the durability layer: content-addressed
// artifacts with tiered placement, and session snapshots for resume.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RefId is an opaque content identifier generated on save.
type RefId string

// NewRefId mints a fresh identifier.
func NewRefId() RefId { return RefId(uuid.NewString()) }

func (r RefId) String() string { return string(r) }

// Tier identifies a storage placement.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// ArtifactMetadata describes a stored artifact.
type ArtifactMetadata struct {
	Size        int       `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	Tier        Tier      `json:"tier"`
}

// ArtifactStore is the blob storage contract. Artifacts are immutable
// post-write; deletion is total.
type ArtifactStore interface {
	Save(ctx context.Context, data []byte) (RefId, error)
	SaveWithID(ctx context.Context, id RefId, data []byte) error
	SaveWithType(ctx context.Context, data []byte, contentType string) (RefId, error)
	Load(ctx context.Context, id RefId) ([]byte, error)
	Delete(ctx context.Context, id RefId) error
	Exists(ctx context.Context, id RefId) (bool, error)
	Metadata(ctx context.Context, id RefId) (*ArtifactMetadata, error)
	HealthCheck(ctx context.Context) error
}

// ErrNotFound reports a missing artifact. Load/Metadata return
// (nil, nil) for absent ids; this error is reserved for callers that
// require presence.
var ErrNotFound = fmt.Errorf("artifact not found")

// LargeContentThreshold is the pass-by-reference cutoff in bytes.
const LargeContentThreshold = 1000

// TieredStore routes saves by size: hot ≤ hotThreshold, warm ≤
// warmThreshold (when configured), else cold. Loads probe
// hot → warm → cold and return the first hit.
type TieredStore struct {
	hot  ArtifactStore
	warm ArtifactStore
	cold ArtifactStore

	hotThreshold  int
	warmThreshold int
}

func NewTieredStore(hot ArtifactStore) *TieredStore {
	return &TieredStore{
		hot:           hot,
		hotThreshold:  10 * 1024 * 1024,
		warmThreshold: 100 * 1024 * 1024,
	}
}

func (t *TieredStore) WithWarm(warm ArtifactStore) *TieredStore {
	t.warm = warm
	return t
}

func (t *TieredStore) WithCold(cold ArtifactStore) *TieredStore {
	t.cold = cold
	return t
}

func (t *TieredStore) WithHotThreshold(bytes int) *TieredStore {
	t.hotThreshold = bytes
	return t
}

func (t *TieredStore) selectStore(size int) ArtifactStore {
	switch {
	case size <= t.hotThreshold:
		return t.hot
	case size <= t.warmThreshold && t.warm != nil:
		return t.warm
	case t.cold != nil:
		return t.cold
	case t.warm != nil:
		return t.warm
	default:
		return t.hot
	}
}

func (t *TieredStore) tiers() []ArtifactStore {
	stores := []ArtifactStore{t.hot}
	if t.warm != nil {
		stores = append(stores, t.warm)
	}
	if t.cold != nil {
		stores = append(stores, t.cold)
	}
	return stores
}

func (t *TieredStore) Save(ctx context.Context, data []byte) (RefId, error) {
	return t.selectStore(len(data)).Save(ctx, data)
}

func (t *TieredStore) SaveWithID(ctx context.Context, id RefId, data []byte) error {
	return t.selectStore(len(data)).SaveWithID(ctx, id, data)
}

func (t *TieredStore) SaveWithType(ctx context.Context, data []byte, contentType string) (RefId, error) {
	return t.selectStore(len(data)).SaveWithType(ctx, data, contentType)
}

func (t *TieredStore) Load(ctx context.Context, id RefId) ([]byte, error) {
	for _, s := range t.tiers() {
		data, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if data != nil {
			return data, nil
		}
	}
	return nil, nil
}

// Delete attempts every tier and ignores per-tier misses.
func (t *TieredStore) Delete(ctx context.Context, id RefId) error {
	for _, s := range t.tiers() {
		_ = s.Delete(ctx, id)
	}
	return nil
}

func (t *TieredStore) Exists(ctx context.Context, id RefId) (bool, error) {
	for _, s := range t.tiers() {
		ok, err := s.Exists(ctx, id)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (t *TieredStore) Metadata(ctx context.Context, id RefId) (*ArtifactMetadata, error) {
	for _, s := range t.tiers() {
		meta, err := s.Metadata(ctx, id)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			return meta, nil
		}
	}
	return nil, nil
}

func (t *TieredStore) HealthCheck(ctx context.Context) error {
	for _, s := range t.tiers() {
		if err := s.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MaybeStoreByRef returns (content, "") for small content; larger
// content is saved and replaced by the RefID sentinel.
func MaybeStoreByRef(ctx context.Context, store ArtifactStore, content string) (string, RefId, error) {
	if len(content) <= LargeContentThreshold {
		return content, "", nil
	}
	id, err := store.Save(ctx, []byte(content))
	if err != nil {
		return "", "", err
	}
	sentinel := fmt.Sprintf("Output too large. Saved as RefID: %s. Use 'read_artifact' to view.", id)
	return sentinel, id, nil
}
