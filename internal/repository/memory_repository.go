package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"evalhub/internal/domain/attachment"
	evalhub_errors "evalhub/pkg/errors"
)

// MemoryAttachmentRepository implements AttachmentRepository over a map with
// the same conditional semantics as the Postgres statements. It backs tests
// and database-free dev runs.
type MemoryAttachmentRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*attachment.Attachment
}

func NewMemoryAttachmentRepository() *MemoryAttachmentRepository {
	return &MemoryAttachmentRepository{rows: make(map[uuid.UUID]*attachment.Attachment)}
}

func (r *MemoryAttachmentRepository) Create(ctx context.Context, a *attachment.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[a.ID]; ok {
		return fmt.Errorf("%w: attachment %s", evalhub_errors.ErrAlreadyExists, a.ID)
	}
	for _, row := range r.rows {
		if row.StorageKey == a.StorageKey {
			return fmt.Errorf("%w: storage key already in use", evalhub_errors.ErrAlreadyExists)
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	cp := *a
	r.rows[a.ID] = &cp
	return nil
}

func (r *MemoryAttachmentRepository) GetByID(ctx context.Context, id uuid.UUID) (attachment.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return attachment.Attachment{}, fmt.Errorf("%w: attachment %s", evalhub_errors.ErrNotFound, id)
	}
	return *row, nil
}

func (r *MemoryAttachmentRepository) ListByUploader(ctx context.Context, uploaderID uuid.UUID) ([]attachment.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []attachment.Attachment
	for _, row := range r.rows {
		if row.UploaderID == uploaderID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryAttachmentRepository) IncrementReceivedChunks(ctx context.Context, id uuid.UUID) (ChunkProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != attachment.StatusUploading || row.ReceivedChunks >= row.TotalChunks {
		return ChunkProgress{}, fmt.Errorf("%w: attachment %s is not accepting chunks", evalhub_errors.ErrInvalidState, id)
	}
	row.ReceivedChunks++
	row.UpdatedAt = time.Now()
	return ChunkProgress{Received: row.ReceivedChunks, Total: row.TotalChunks}, nil
}

func (r *MemoryAttachmentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to attachment.Status) error {
	if !attachment.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s is not a legal transition", evalhub_errors.ErrInvalidState, from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != from {
		return fmt.Errorf("%w: attachment %s is not %s", evalhub_errors.ErrInvalidState, id, from)
	}
	row.Status = to
	row.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryAttachmentRepository) MarkReady(ctx context.Context, id uuid.UUID, fileSize int64, checksum string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != attachment.StatusProcessing {
		return fmt.Errorf("%w: attachment %s is not processing", evalhub_errors.ErrInvalidState, id)
	}
	row.Status = attachment.StatusReady
	row.FileSize = fileSize
	row.ChecksumSHA256 = checksum
	row.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryAttachmentRepository) LinkToComment(ctx context.Context, id, commentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("%w: attachment %s", evalhub_errors.ErrNotFound, id)
	}
	if row.CommentID.Valid {
		return fmt.Errorf("%w: attachment %s is already linked", evalhub_errors.ErrInvalidState, id)
	}
	row.CommentID = uuid.NullUUID{UUID: commentID, Valid: true}
	row.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryAttachmentRepository) DeleteUnlinked(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("%w: attachment %s", evalhub_errors.ErrNotFound, id)
	}
	if row.CommentID.Valid {
		return fmt.Errorf("%w: attachment %s is linked to a comment", evalhub_errors.ErrInvalidState, id)
	}
	delete(r.rows, id)
	return nil
}

func (r *MemoryAttachmentRepository) ListOrphans(ctx context.Context, cutoff time.Time, limit int) ([]attachment.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []attachment.Attachment
	for _, row := range r.rows {
		if !row.CommentID.Valid && statusReapable(row.Status) && row.CreatedAt.Before(cutoff) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryAttachmentRepository) DeleteOrphan(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.CommentID.Valid || !statusReapable(row.Status) || !row.CreatedAt.Before(cutoff) {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

func statusReapable(s attachment.Status) bool {
	for _, rs := range attachment.ReapableStatuses {
		if s == rs {
			return true
		}
	}
	return false
}

// Len reports the number of rows, for tests.
func (r *MemoryAttachmentRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
