// Package storage abstracts where encrypted attachment bytes live. The
// pipeline always writes ciphertext; backends never see plaintext.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	evalhub_errors "evalhub/pkg/errors"
)

// DefaultStreamChunk is the buffer size used when a caller passes a
// non-positive chunk size to Stream.
const DefaultStreamChunk = 64 * 1024

// Backend is the storage contract. Implementations do not serialize
// concurrent writers of the same key; callers own that. Delete is
// idempotent: deleting a missing key is not an error.
type Backend interface {
	// Store writes data at key, overwriting any existing object.
	Store(ctx context.Context, key string, data []byte) error
	// Retrieve returns the full object, or ErrNotFound.
	Retrieve(ctx context.Context, key string) ([]byte, error)
	// Stream opens a lazy reader over the object. chunkSize sizes the
	// read buffer; restart is re-invocation. Returns ErrNotFound if the
	// object is absent.
	Stream(ctx context.Context, key string, chunkSize int) (io.ReadCloser, error)
	// Delete removes the object if present.
	Delete(ctx context.Context, key string) error
	// Exists reports object presence without reading it.
	Exists(ctx context.Context, key string) (bool, error)
	// AppendChunk appends data to the object at key, creating it if
	// missing. Concurrent appends to one key are the caller's problem.
	AppendChunk(ctx context.Context, key string, data []byte) error
}

// checkKey rejects keys that could escape a rooted namespace. Flat object
// stores have no root to resolve against, so any dot-dot segment, absolute
// path, or empty key is refused outright. LocalBackend resolves against its
// root and verifies the result instead.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: key %q escapes storage root", evalhub_errors.ErrPathTraversal, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: key %q escapes storage root", evalhub_errors.ErrPathTraversal, key)
		}
	}
	return nil
}
