// Package blob is the boundary to attachment object storage. The core only
// ever handles already-encrypted bytes; whatever backs Store never sees
// plaintext.
package blob

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("blob not found")

// Store persists opaque encrypted blobs and hands back retrievable
// references. Production deployments plug a CDN-backed implementation in
// here; the disk store below is the self-hosted default.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}
