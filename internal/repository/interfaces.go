package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"evalhub/internal/domain/attachment"
)

// ChunkProgress reports the counters after a successful increment.
type ChunkProgress struct {
	Received int
	Total    int
}

// AttachmentRepository persists attachment rows. The conditional methods
// (IncrementReceivedChunks, TransitionStatus, MarkReady, LinkToComment,
// DeleteUnlinked, DeleteOrphan) must execute as single atomic statements;
// they are the serialization points for concurrent uploaders, the
// completion race, and the reaper/linkage race.
type AttachmentRepository interface {
	Create(ctx context.Context, a *attachment.Attachment) error
	GetByID(ctx context.Context, id uuid.UUID) (attachment.Attachment, error)
	ListByUploader(ctx context.Context, uploaderID uuid.UUID) ([]attachment.Attachment, error)

	// IncrementReceivedChunks bumps the counter by one, only while the row
	// is still uploading and the counter is below total_chunks. Returns the
	// post-increment counters, or ErrInvalidState when the guard fails.
	IncrementReceivedChunks(ctx context.Context, id uuid.UUID) (ChunkProgress, error)

	// TransitionStatus performs from -> to as a conditional update. At most
	// one concurrent caller wins; losers get ErrInvalidState.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to attachment.Status) error

	// MarkReady finalizes reassembly: processing -> ready plus the verified
	// size and checksum, one statement.
	MarkReady(ctx context.Context, id uuid.UUID, fileSize int64, checksum string) error

	// LinkToComment binds the attachment to a comment exactly once.
	// A second link attempt returns ErrInvalidState.
	LinkToComment(ctx context.Context, id, commentID uuid.UUID) error

	// DeleteUnlinked removes the row only while no comment references it.
	DeleteUnlinked(ctx context.Context, id uuid.UUID) error

	// ListOrphans returns unlinked rows in a reapable status created before
	// cutoff, oldest first.
	ListOrphans(ctx context.Context, cutoff time.Time, limit int) ([]attachment.Attachment, error)

	// DeleteOrphan removes the row iff it is still unlinked and older than
	// cutoff. The boolean reports whether this caller deleted it.
	DeleteOrphan(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error)
}
