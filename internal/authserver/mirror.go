package authserver

import (
	"context"
	"log/slog"

	miniogo "github.com/minio/minio-go/v7"

	"github.com/ava-platform/ava-core/pkg/clients/minio"
)

// DefaultMirrorObject is the object name of the mirrored key set.
const DefaultMirrorObject = ".well-known/jwks.json"

// ObjectWriter stores objects in a bucket. *minio.Client satisfies it.
type ObjectWriter interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, obj minio.Object) (miniogo.UploadInfo, error)
}

var _ ObjectWriter = (*minio.Client)(nil)

// JWKSMirror copies the public key set into object storage for consumers
// that cannot reach the auth service directly.
type JWKSMirror struct {
	store  ObjectWriter
	object string
}

// NewJWKSMirror returns a mirror writing to object, or
// DefaultMirrorObject when object is empty.
func NewJWKSMirror(store ObjectWriter, object string) *JWKSMirror {
	if object == "" {
		object = DefaultMirrorObject
	}
	return &JWKSMirror{store: store, object: object}
}

// Publish uploads doc, creating the bucket on first use.
func (m *JWKSMirror) Publish(ctx context.Context, doc []byte) error {
	if err := m.store.EnsureBucket(ctx); err != nil {
		return err
	}
	info, err := m.store.Put(ctx, minio.Object{
		Name:         m.object,
		Data:         doc,
		ContentType:  "application/json",
		CacheControl: jwksCacheControl,
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "authserver: published key set",
		"bucket", info.Bucket,
		"object", m.object,
		"etag", info.ETag,
	)
	return nil
}
