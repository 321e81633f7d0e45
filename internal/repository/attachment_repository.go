package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"evalhub/internal/domain/attachment"
	evalhub_errors "evalhub/pkg/errors"
)

type PostgresAttachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &PostgresAttachmentRepository{db: db}
}

func (r *PostgresAttachmentRepository) Create(ctx context.Context, a *attachment.Attachment) error {
	res := r.db.WithContext(ctx).Create(a)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) || isUniqueViolation(res.Error) {
			return fmt.Errorf("%w: storage key already in use", evalhub_errors.ErrAlreadyExists)
		}
		return res.Error
	}
	return nil
}

func (r *PostgresAttachmentRepository) GetByID(ctx context.Context, id uuid.UUID) (attachment.Attachment, error) {
	var a attachment.Attachment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return attachment.Attachment{}, fmt.Errorf("%w: attachment %s", evalhub_errors.ErrNotFound, id)
		}
		return attachment.Attachment{}, err
	}
	return a, nil
}

func (r *PostgresAttachmentRepository) ListByUploader(ctx context.Context, uploaderID uuid.UUID) ([]attachment.Attachment, error) {
	var rows []attachment.Attachment
	err := r.db.WithContext(ctx).
		Where("uploader_id = ?", uploaderID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// IncrementReceivedChunks is a single UPDATE so concurrent chunk uploads
// never lose counts to read-modify-write interleaving. The guard caps the
// counter at total_chunks and only applies while the row is uploading.
func (r *PostgresAttachmentRepository) IncrementReceivedChunks(ctx context.Context, id uuid.UUID) (ChunkProgress, error) {
	var p ChunkProgress
	row := r.db.WithContext(ctx).Raw(`
		UPDATE attachments
		SET received_chunks = received_chunks + 1, updated_at = now()
		WHERE id = ? AND status = ? AND received_chunks < total_chunks
		RETURNING received_chunks, total_chunks`,
		id, attachment.StatusUploading,
	).Row()
	if err := row.Scan(&p.Received, &p.Total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChunkProgress{}, fmt.Errorf("%w: attachment %s is not accepting chunks", evalhub_errors.ErrInvalidState, id)
		}
		return ChunkProgress{}, err
	}
	return p, nil
}

func (r *PostgresAttachmentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to attachment.Status) error {
	if !attachment.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s is not a legal transition", evalhub_errors.ErrInvalidState, from, to)
	}
	res := r.db.WithContext(ctx).
		Model(&attachment.Attachment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: attachment %s is not %s", evalhub_errors.ErrInvalidState, id, from)
	}
	return nil
}

func (r *PostgresAttachmentRepository) MarkReady(ctx context.Context, id uuid.UUID, fileSize int64, checksum string) error {
	res := r.db.WithContext(ctx).
		Model(&attachment.Attachment{}).
		Where("id = ? AND status = ?", id, attachment.StatusProcessing).
		Updates(map[string]interface{}{
			"status":          attachment.StatusReady,
			"file_size":       fileSize,
			"checksum_sha256": checksum,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: attachment %s is not processing", evalhub_errors.ErrInvalidState, id)
	}
	return nil
}

func (r *PostgresAttachmentRepository) LinkToComment(ctx context.Context, id, commentID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&attachment.Attachment{}).
		Where("id = ? AND comment_id IS NULL", id).
		Updates(map[string]interface{}{
			"comment_id": commentID,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either the row is gone or it is already bound.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: attachment %s is already linked", evalhub_errors.ErrInvalidState, id)
	}
	return nil
}

func (r *PostgresAttachmentRepository) DeleteUnlinked(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND comment_id IS NULL", id).
		Delete(&attachment.Attachment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: attachment %s is linked to a comment", evalhub_errors.ErrInvalidState, id)
	}
	return nil
}

func (r *PostgresAttachmentRepository) ListOrphans(ctx context.Context, cutoff time.Time, limit int) ([]attachment.Attachment, error) {
	var rows []attachment.Attachment
	err := r.db.WithContext(ctx).
		Where("comment_id IS NULL AND status IN ? AND created_at < ?", attachment.ReapableStatuses, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteOrphan re-checks the orphan predicate inside the DELETE itself, so a
// linkage or a completion that lands after ListOrphans cannot lose its
// attachment mid-flight.
func (r *PostgresAttachmentRepository) DeleteOrphan(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND comment_id IS NULL AND status IN ? AND created_at < ?",
			id, attachment.ReapableStatuses, cutoff).
		Delete(&attachment.Attachment{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
