package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"evalhub/config"
	"evalhub/internal/domain/attachment"
	"evalhub/internal/repository"
	"evalhub/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reaperHarness struct {
	reaper *OrphanReaper
	repo   *repository.MemoryAttachmentRepository
	store  *storage.MemoryBackend
}

func newReaperHarness(t *testing.T, cfg *config.Config) *reaperHarness {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{OrphanTTLMin: 60, SweepIntervalSec: 300}
	}
	h := &reaperHarness{
		repo:  repository.NewMemoryAttachmentRepository(),
		store: storage.NewMemoryBackend(),
	}
	h.reaper = NewOrphanReaper(cfg, h.repo, h.store, nopLogger())
	return h
}

type seedOpts struct {
	status      attachment.Status
	age         time.Duration
	linked      bool
	totalChunks int
	thumbnail   bool
}

func (h *reaperHarness) seed(t *testing.T, opts seedOpts) attachment.Attachment {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	a := attachment.Attachment{
		ID:               id,
		UploaderID:       uuid.New(),
		Filename:         "photo.jpg",
		ContentType:      "image/jpeg",
		FileSize:         64,
		StorageKey:       attachment.BuildStorageKey(id, "photo.jpg"),
		ChecksumSHA256:   "deadbeef",
		EncryptedFileKey: "wrapped",
		Status:           opts.status,
		TotalChunks:      opts.totalChunks,
		ReceivedChunks:   opts.totalChunks,
		CreatedAt:        time.Now().UTC().Add(-opts.age),
		UpdatedAt:        time.Now().UTC().Add(-opts.age),
	}
	if opts.linked {
		a.CommentID = uuid.NullUUID{UUID: uuid.New(), Valid: true}
	}
	if opts.thumbnail {
		a.ThumbnailStorageKey = sql.NullString{String: a.StorageKey + ".thumb.webp", Valid: true}
		require.NoError(t, h.store.Store(ctx, a.ThumbnailStorageKey.String, []byte("thumb")))
	}
	require.NoError(t, h.repo.Create(ctx, &a))

	if opts.status == attachment.StatusReady {
		require.NoError(t, h.store.Store(ctx, a.StorageKey, []byte("sealed object")))
	}
	for i := 0; i < opts.totalChunks; i++ {
		require.NoError(t, h.store.Store(ctx, attachment.ChunkKey(a.StorageKey, i), []byte("sealed chunk")))
	}
	return a
}

func TestSweepOnceReapsExpiredOrphans(t *testing.T) {
	h := newReaperHarness(t, nil)
	ctx := context.Background()

	oldReady := h.seed(t, seedOpts{status: attachment.StatusReady, age: 2 * time.Hour, thumbnail: true})
	oldUploading := h.seed(t, seedOpts{status: attachment.StatusUploading, age: 2 * time.Hour, totalChunks: 2})
	oldQuarantined := h.seed(t, seedOpts{status: attachment.StatusQuarantined, age: 2 * time.Hour, totalChunks: 1})
	oldLinked := h.seed(t, seedOpts{status: attachment.StatusReady, age: 2 * time.Hour, linked: true})
	oldProcessing := h.seed(t, seedOpts{status: attachment.StatusProcessing, age: 2 * time.Hour, totalChunks: 1})
	freshReady := h.seed(t, seedOpts{status: attachment.StatusReady, age: 5 * time.Minute})

	reaped, err := h.reaper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, reaped)

	for _, gone := range []uuid.UUID{oldReady.ID, oldUploading.ID, oldQuarantined.ID} {
		_, err := h.repo.GetByID(ctx, gone)
		assert.Error(t, err, "row %s should be reaped", gone)
	}
	for _, kept := range []uuid.UUID{oldLinked.ID, oldProcessing.ID, freshReady.ID} {
		_, err := h.repo.GetByID(ctx, kept)
		assert.NoError(t, err, "row %s should survive", kept)
	}

	// Storage for reaped rows is gone, including thumbnail and chunks.
	for _, key := range []string{
		oldReady.StorageKey,
		oldReady.ThumbnailStorageKey.String,
		attachment.ChunkKey(oldUploading.StorageKey, 0),
		attachment.ChunkKey(oldUploading.StorageKey, 1),
		attachment.ChunkKey(oldQuarantined.StorageKey, 0),
	} {
		exists, err := h.store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, "object %s should be deleted", key)
	}

	exists, err := h.store.Exists(ctx, oldLinked.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = h.store.Exists(ctx, freshReady.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists)

	m := h.reaper.MetricsSnapshot()
	assert.Equal(t, uint64(1), m.Cycles)
	assert.Equal(t, uint64(3), m.Reaped)
	assert.Equal(t, uint64(0), m.StorageErrors)

	// Nothing left to reap on the second pass.
	reaped, err = h.reaper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reaped)
	assert.Equal(t, uint64(2), h.reaper.MetricsSnapshot().Cycles)
}

func TestSweepOnceHonorsTTLBoundary(t *testing.T) {
	h := newReaperHarness(t, &config.Config{OrphanTTLMin: 1, SweepIntervalSec: 300})
	ctx := context.Background()

	h.seed(t, seedOpts{status: attachment.StatusReady, age: 2 * time.Minute})
	h.seed(t, seedOpts{status: attachment.StatusReady, age: 10 * time.Second})

	reaped, err := h.reaper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 1, h.repo.Len())
}

func TestReaperLoopRunsCycles(t *testing.T) {
	h := newReaperHarness(t, &config.Config{OrphanTTLMin: 60, SweepIntervalSec: 1})

	h.reaper.Start()
	defer h.reaper.Stop()

	require.Eventually(t, func() bool {
		return h.reaper.MetricsSnapshot().Cycles >= 1
	}, 3*time.Second, 50*time.Millisecond)
}
