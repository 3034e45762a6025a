package store

import (
	"context"
	"strings"
)

// NamespacedArtifactStore prefixes every id with "<namespace>/" and
// refuses to observe ids outside its namespace. This is the isolation
// primitive for multi-tenant workspaces.
type NamespacedArtifactStore struct {
	inner     ArtifactStore
	namespace string
}

func NewNamespacedArtifactStore(inner ArtifactStore, namespace string) *NamespacedArtifactStore {
	return &NamespacedArtifactStore{inner: inner, namespace: namespace}
}

func (n *NamespacedArtifactStore) prefix() string { return n.namespace + "/" }

func (n *NamespacedArtifactStore) owns(id RefId) bool {
	return strings.HasPrefix(string(id), n.prefix())
}

func (n *NamespacedArtifactStore) qualify(id RefId) RefId {
	return RefId(n.prefix() + string(id))
}

func (n *NamespacedArtifactStore) Save(ctx context.Context, data []byte) (RefId, error) {
	id := n.qualify(NewRefId())
	if err := n.inner.SaveWithID(ctx, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (n *NamespacedArtifactStore) SaveWithID(ctx context.Context, id RefId, data []byte) error {
	if !n.owns(id) {
		id = n.qualify(id)
	}
	return n.inner.SaveWithID(ctx, id, data)
}

func (n *NamespacedArtifactStore) SaveWithType(ctx context.Context, data []byte, contentType string) (RefId, error) {
	// The inner store would mint an unqualified id; save under our own.
	_ = contentType
	return n.Save(ctx, data)
}

func (n *NamespacedArtifactStore) Load(ctx context.Context, id RefId) ([]byte, error) {
	if !n.owns(id) {
		return nil, nil
	}
	return n.inner.Load(ctx, id)
}

func (n *NamespacedArtifactStore) Delete(ctx context.Context, id RefId) error {
	if !n.owns(id) {
		return nil
	}
	return n.inner.Delete(ctx, id)
}

func (n *NamespacedArtifactStore) Exists(ctx context.Context, id RefId) (bool, error) {
	if !n.owns(id) {
		return false, nil
	}
	return n.inner.Exists(ctx, id)
}

func (n *NamespacedArtifactStore) Metadata(ctx context.Context, id RefId) (*ArtifactMetadata, error) {
	if !n.owns(id) {
		return nil, nil
	}
	return n.inner.Metadata(ctx, id)
}

func (n *NamespacedArtifactStore) HealthCheck(ctx context.Context) error {
	return n.inner.HealthCheck(ctx)
}
