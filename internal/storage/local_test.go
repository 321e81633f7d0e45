package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	evalhub_errors "evalhub/pkg/errors"
)

var (
	_ Backend = (*LocalBackend)(nil)
	_ Backend = (*S3Backend)(nil)
	_ Backend = (*MemoryBackend)(nil)
)

func newLocal(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestLocalStoreRetrieveRoundTrip(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	key := "attachments/ab/cd/abcd-1234/car.jpg"
	data := []byte("encrypted bytes")
	require.NoError(t, b.Store(ctx, key, data))

	got, err := b.Retrieve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := b.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalStoreOverwrites(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	require.NoError(t, b.Store(ctx, "k/v", []byte("one")))
	require.NoError(t, b.Store(ctx, "k/v", []byte("two")))

	got, err := b.Retrieve(ctx, "k/v")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestLocalRetrieveMissing(t *testing.T) {
	b := newLocal(t)
	_, err := b.Retrieve(context.Background(), "no/such/object")
	assert.True(t, errors.Is(err, evalhub_errors.ErrNotFound))

	ok, err := b.Exists(context.Background(), "no/such/object")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalRejectsTraversal(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	keys := []string{
		"../outside",
		"a/../../outside",
		"/etc/passwd",
		"..",
		"",
		".",
	}
	for _, key := range keys {
		err := b.Store(ctx, key, []byte("x"))
		assert.True(t, errors.Is(err, evalhub_errors.ErrPathTraversal), "store %q: %v", key, err)

		_, err = b.Retrieve(ctx, key)
		assert.True(t, errors.Is(err, evalhub_errors.ErrPathTraversal), "retrieve %q: %v", key, err)

		err = b.Delete(ctx, key)
		assert.True(t, errors.Is(err, evalhub_errors.ErrPathTraversal), "delete %q: %v", key, err)
	}

	// Interior dot-dot segments that still resolve inside the root are fine.
	require.NoError(t, b.Store(ctx, "a/b/../c.bin", []byte("x")))
	got, err := b.Retrieve(ctx, "a/c.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestLocalDeleteIdempotentAndPrunes(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	key := "attachments/aa/bb/id-1/doc.pdf"
	require.NoError(t, b.Store(ctx, key, []byte("x")))
	require.NoError(t, b.Delete(ctx, key))

	// Shard directories are pruned once empty.
	_, err := os.Stat(filepath.Join(b.root, "attachments"))
	assert.True(t, os.IsNotExist(err), "expected shard dirs pruned")

	// Second delete is a no-op.
	require.NoError(t, b.Delete(ctx, key))
}

func TestLocalDeleteKeepsSiblings(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	require.NoError(t, b.Store(ctx, "attachments/aa/bb/id-1/doc.pdf", []byte("x")))
	require.NoError(t, b.Store(ctx, "attachments/aa/bb/id-1/doc.pdf.chunk_000000", []byte("y")))
	require.NoError(t, b.Delete(ctx, "attachments/aa/bb/id-1/doc.pdf"))

	got, err := b.Retrieve(ctx, "attachments/aa/bb/id-1/doc.pdf.chunk_000000")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestLocalStream(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	data := make([]byte, 300000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, b.Store(ctx, "big/object.bin", data))

	r, err := b.Stream(ctx, "big/object.bin", 4096)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, data, got)

	// Restart is simply another Stream call.
	r2, err := b.Stream(ctx, "big/object.bin", 0)
	require.NoError(t, err)
	defer r2.Close()
	first := make([]byte, 10)
	_, err = io.ReadFull(r2, first)
	require.NoError(t, err)
	assert.Equal(t, data[:10], first)

	_, err = b.Stream(ctx, "missing.bin", 0)
	assert.True(t, errors.Is(err, evalhub_errors.ErrNotFound))
}

func TestLocalAppendChunk(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	require.NoError(t, b.AppendChunk(ctx, "parts/app.bin", []byte("aaa")))
	require.NoError(t, b.AppendChunk(ctx, "parts/app.bin", []byte("bbb")))

	got, err := b.Retrieve(ctx, "parts/app.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("aaabbb"), got)
}

func TestFlatBackendsRejectTraversal(t *testing.T) {
	// MemoryBackend and S3Backend share the key guard: no root to resolve
	// against, so every dot-dot segment is refused, not just escaping ones.
	b := NewMemoryBackend()
	ctx := context.Background()

	keys := []string{
		"../outside",
		"a/../../outside",
		"a/../b",
		"/etc/passwd",
		"..",
		"",
	}
	for _, key := range keys {
		err := b.Store(ctx, key, []byte("x"))
		assert.True(t, errors.Is(err, evalhub_errors.ErrPathTraversal), "store %q: %v", key, err)

		_, err = b.Retrieve(ctx, key)
		assert.True(t, errors.Is(err, evalhub_errors.ErrPathTraversal), "retrieve %q: %v", key, err)

		err = b.Delete(ctx, key)
		assert.True(t, errors.Is(err, evalhub_errors.ErrPathTraversal), "delete %q: %v", key, err)

		err = b.AppendChunk(ctx, key, []byte("x"))
		assert.True(t, errors.Is(err, evalhub_errors.ErrPathTraversal), "append %q: %v", key, err)
	}
	assert.Equal(t, 0, b.Len())
}

func TestMemoryBackend(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, b.Store(ctx, "k", []byte("v1")))
	require.NoError(t, b.AppendChunk(ctx, "k", []byte("v2")))

	got, err := b.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1v2"), got)

	// Stored bytes are isolated from caller buffers.
	buf := []byte("mutate me")
	require.NoError(t, b.Store(ctx, "iso", buf))
	buf[0] = 'X'
	got, err = b.Retrieve(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, []byte("mutate me"), got)

	r, err := b.Stream(ctx, "k", 2)
	require.NoError(t, err)
	streamed, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1v2"), streamed)

	_, err = b.Retrieve(ctx, "gone")
	assert.True(t, errors.Is(err, evalhub_errors.ErrNotFound))

	require.NoError(t, b.Delete(ctx, "k"))
	require.NoError(t, b.Delete(ctx, "k"))
	assert.Equal(t, 1, b.Len())
}
