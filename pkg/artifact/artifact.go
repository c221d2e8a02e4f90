// Package artifact defines durable binary storage for build outputs.
//
// References are opaque: callers persist the ref returned by Put and use
// it for later retrieval or deletion. Backends must tolerate Delete on a
// ref that no longer exists.
package artifact

import (
	"context"
	"errors"
)

// ErrNotFound indicates the referenced artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store is durable binary storage keyed by opaque references.
type Store interface {
	// Put stores data under a fresh reference.
	Put(ctx context.Context, filename string, data []byte) (ref string, err error)

	// Get returns the stored bytes and original filename for ref.
	Get(ctx context.Context, ref string) (data []byte, filename string, err error)

	// Delete removes the artifact. Deleting a missing ref is not an error.
	Delete(ctx context.Context, ref string) error
}
