package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"evalhub/config"
	"evalhub/internal/domain/attachment"
	"evalhub/internal/filecrypt"
	"evalhub/internal/repository"
	"evalhub/internal/storage"
	"evalhub/internal/validation"
	evalhub_errors "evalhub/pkg/errors"
	"evalhub/pkg/events"
	"evalhub/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const maxTotalChunks = 10000

// chunkDeleteParallelism bounds concurrent storage deletes during cleanup.
const chunkDeleteParallelism = 4

// AttachmentService orchestrates the attachment pipeline: validation,
// envelope encryption, chunked uploads, reassembly, downloads, and the
// comment linkage hook. Plaintext never reaches the storage backend.
type AttachmentService struct {
	repo      repository.AttachmentRepository
	store     storage.Backend
	encryptor *filecrypt.Encryptor
	validator *validation.Validator
	publisher events.Publisher
	queue     *ReassemblyQueue
	log       *logger.Logger

	simpleUploadLimit int64
}

func NewAttachmentService(
	cfg *config.Config,
	repo repository.AttachmentRepository,
	store storage.Backend,
	encryptor *filecrypt.Encryptor,
	validator *validation.Validator,
	publisher events.Publisher,
	log *logger.Logger,
) *AttachmentService {
	s := &AttachmentService{
		repo:              repo,
		store:             store,
		encryptor:         encryptor,
		validator:         validator,
		publisher:         publisher,
		log:               log,
		simpleUploadLimit: int64(cfg.SimpleUploadMB) * 1024 * 1024,
	}
	s.queue = NewReassemblyQueue(cfg.QueueWorkers, cfg.QueueSize, s.reassemble, log)
	return s
}

// Start brings up the reassembly workers. Stop drains the one in flight.
func (s *AttachmentService) Start() { s.queue.Start() }
func (s *AttachmentService) Stop()  { s.queue.Stop() }

type SimpleUploadInput struct {
	UploaderID  uuid.UUID
	Filename    string
	ContentType string
	Data        []byte
}

type InitUploadInput struct {
	UploaderID  uuid.UUID
	Filename    string
	ContentType string
	FileSize    int64
	TotalChunks int
}

type ChunkInput struct {
	UploaderID   uuid.UUID
	AttachmentID uuid.UUID
	Index        int
	Data         []byte
}

type DownloadResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SimpleUpload handles single-request uploads: validate, encrypt, store,
// and create the row already ready. The size gate here is stricter than the
// per-category ceilings; larger files must use the chunked protocol.
func (s *AttachmentService) SimpleUpload(ctx context.Context, in SimpleUploadInput) (attachment.Attachment, error) {
	if len(in.Data) == 0 {
		return attachment.Attachment{}, fmt.Errorf("%w: empty file", evalhub_errors.ErrValidation)
	}
	if int64(len(in.Data)) > s.simpleUploadLimit {
		return attachment.Attachment{}, fmt.Errorf("%w: simple uploads are capped at %d bytes", evalhub_errors.ErrTooLarge, s.simpleUploadLimit)
	}

	sanitized, err := s.validator.ValidateUpload(in.Data, in.ContentType, in.Filename)
	if err != nil {
		return attachment.Attachment{}, err
	}

	fileKey, err := filecrypt.GenerateFileKey()
	if err != nil {
		return attachment.Attachment{}, err
	}
	wrapped, err := s.encryptor.WrapKey(fileKey)
	if err != nil {
		return attachment.Attachment{}, err
	}

	sealed, err := filecrypt.EncryptFile(in.Data, fileKey)
	if err != nil {
		return attachment.Attachment{}, err
	}

	id := uuid.New()
	key := attachment.BuildStorageKey(id, sanitized)
	if err := s.store.Store(ctx, key, sealed); err != nil {
		return attachment.Attachment{}, err
	}

	sum := sha256.Sum256(in.Data)
	a := attachment.Attachment{
		ID:               id,
		UploaderID:       in.UploaderID,
		Filename:         sanitized,
		ContentType:      in.ContentType,
		FileSize:         int64(len(in.Data)),
		StorageKey:       key,
		ChecksumSHA256:   hex.EncodeToString(sum[:]),
		EncryptedFileKey: wrapped,
		Status:           attachment.StatusReady,
	}
	if err := s.repo.Create(ctx, &a); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.log.Errorf("orphaned object %s after failed create: %v", key, delErr)
		}
		return attachment.Attachment{}, err
	}

	s.publishReady(ctx, a)
	return a, nil
}

// InitChunkedUpload creates the uploading row and its wrapped file key.
// FileSize is the client's declared total; the real size is measured at
// reassembly.
func (s *AttachmentService) InitChunkedUpload(ctx context.Context, in InitUploadInput) (attachment.Attachment, error) {
	if err := s.validator.ValidateContentType(in.ContentType); err != nil {
		return attachment.Attachment{}, err
	}
	if in.FileSize <= 0 {
		return attachment.Attachment{}, fmt.Errorf("%w: file size must be positive", evalhub_errors.ErrValidation)
	}
	if err := s.validator.ValidateFileSize(in.FileSize, in.ContentType); err != nil {
		return attachment.Attachment{}, err
	}
	if in.TotalChunks < 1 || in.TotalChunks > maxTotalChunks {
		return attachment.Attachment{}, fmt.Errorf("%w: total chunks must be between 1 and %d", evalhub_errors.ErrValidation, maxTotalChunks)
	}

	sanitized := validation.SanitizeFilename(in.Filename)

	fileKey, err := filecrypt.GenerateFileKey()
	if err != nil {
		return attachment.Attachment{}, err
	}
	wrapped, err := s.encryptor.WrapKey(fileKey)
	if err != nil {
		return attachment.Attachment{}, err
	}

	id := uuid.New()
	a := attachment.Attachment{
		ID:               id,
		UploaderID:       in.UploaderID,
		UploadSession:    uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Filename:         sanitized,
		ContentType:      in.ContentType,
		FileSize:         in.FileSize,
		StorageKey:       attachment.BuildStorageKey(id, sanitized),
		EncryptedFileKey: wrapped,
		Status:           attachment.StatusUploading,
		TotalChunks:      in.TotalChunks,
	}
	if err := s.repo.Create(ctx, &a); err != nil {
		return attachment.Attachment{}, err
	}
	return a, nil
}

// UploadChunk encrypts one chunk under the attachment's file key and stores
// it as a standalone object. Re-sending an index overwrites the object but
// still bumps the counter, so the reassembly index check is the backstop.
func (s *AttachmentService) UploadChunk(ctx context.Context, in ChunkInput) (repository.ChunkProgress, error) {
	a, err := s.repo.GetByID(ctx, in.AttachmentID)
	if err != nil {
		return repository.ChunkProgress{}, err
	}
	if a.UploaderID != in.UploaderID {
		return repository.ChunkProgress{}, fmt.Errorf("%w: attachment %s", evalhub_errors.ErrNotFound, in.AttachmentID)
	}
	if a.Status != attachment.StatusUploading {
		return repository.ChunkProgress{}, fmt.Errorf("%w: attachment is %s, not accepting chunks", evalhub_errors.ErrInvalidState, a.Status)
	}
	if in.Index < 0 || in.Index >= a.TotalChunks {
		return repository.ChunkProgress{}, fmt.Errorf("%w: chunk index %d out of range [0,%d)", evalhub_errors.ErrValidation, in.Index, a.TotalChunks)
	}
	if len(in.Data) == 0 {
		return repository.ChunkProgress{}, fmt.Errorf("%w: empty chunk", evalhub_errors.ErrValidation)
	}

	fileKey, err := s.encryptor.UnwrapKey(a.EncryptedFileKey)
	if err != nil {
		return repository.ChunkProgress{}, err
	}
	sealed, err := filecrypt.EncryptChunk(in.Data, fileKey, uint32(in.Index))
	if err != nil {
		return repository.ChunkProgress{}, err
	}
	if err := s.store.Store(ctx, attachment.ChunkKey(a.StorageKey, in.Index), sealed); err != nil {
		return repository.ChunkProgress{}, err
	}

	return s.repo.IncrementReceivedChunks(ctx, in.AttachmentID)
}

// CompleteChunkedUpload flips the winner to processing and hands the
// attachment to the reassembly pool. The queue slot is reserved before the
// flip so that a saturated queue leaves the row uploading and retryable.
func (s *AttachmentService) CompleteChunkedUpload(ctx context.Context, uploaderID, id uuid.UUID) (attachment.Attachment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return attachment.Attachment{}, err
	}
	if a.UploaderID != uploaderID {
		return attachment.Attachment{}, fmt.Errorf("%w: attachment %s", evalhub_errors.ErrNotFound, id)
	}
	if a.Status != attachment.StatusUploading {
		return attachment.Attachment{}, fmt.Errorf("%w: attachment is %s", evalhub_errors.ErrInvalidState, a.Status)
	}
	if a.ReceivedChunks < a.TotalChunks {
		return attachment.Attachment{}, fmt.Errorf("%w: received %d of %d chunks", evalhub_errors.ErrValidation, a.ReceivedChunks, a.TotalChunks)
	}

	if err := s.queue.Reserve(); err != nil {
		return attachment.Attachment{}, err
	}
	if err := s.repo.TransitionStatus(ctx, id, attachment.StatusUploading, attachment.StatusProcessing); err != nil {
		s.queue.Release()
		return attachment.Attachment{}, err
	}
	s.queue.Submit(id)

	a.Status = attachment.StatusProcessing
	return a, nil
}

// reassemble runs on a queue worker. Every failure path ends in quarantine;
// the chunks already on disk are swept either here or by the reaper.
func (s *AttachmentService) reassemble(ctx context.Context, id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("reassembly of %s panicked: %v", id, r)
			s.quarantine(ctx, id, "", 0, fmt.Sprintf("panic: %v", r))
		}
	}()

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.log.Errorf("reassembly of %s: %v", id, err)
		return
	}
	if a.Status != attachment.StatusProcessing {
		s.log.Warnf("reassembly of %s skipped: status is %s", id, a.Status)
		return
	}

	fileKey, err := s.encryptor.UnwrapKey(a.EncryptedFileKey)
	if err != nil {
		s.quarantine(ctx, id, a.StorageKey, a.TotalChunks, fmt.Sprintf("file key unwrap failed: %v", err))
		return
	}

	var buf bytes.Buffer
	if a.FileSize > 0 {
		buf.Grow(int(a.FileSize))
	}
	for i := 0; i < a.TotalChunks; i++ {
		blob, err := s.store.Retrieve(ctx, attachment.ChunkKey(a.StorageKey, i))
		if err != nil {
			s.quarantine(ctx, id, a.StorageKey, a.TotalChunks, fmt.Sprintf("chunk %d unreadable: %v", i, err))
			return
		}
		idx, plain, err := filecrypt.DecryptChunk(blob, fileKey)
		if err != nil {
			s.quarantine(ctx, id, a.StorageKey, a.TotalChunks, fmt.Sprintf("chunk %d failed decryption: %v", i, err))
			return
		}
		if idx != uint32(i) {
			s.quarantine(ctx, id, a.StorageKey, a.TotalChunks, fmt.Sprintf("chunk %d carries index %d", i, idx))
			return
		}
		buf.Write(plain)
	}
	data := buf.Bytes()

	if _, err := s.validator.ValidateUpload(data, a.ContentType, a.Filename); err != nil {
		s.quarantine(ctx, id, a.StorageKey, a.TotalChunks, fmt.Sprintf("assembled file rejected: %v", err))
		return
	}

	sealed, err := filecrypt.EncryptFile(data, fileKey)
	if err != nil {
		s.quarantine(ctx, id, a.StorageKey, a.TotalChunks, fmt.Sprintf("final encryption failed: %v", err))
		return
	}
	if err := s.store.Store(ctx, a.StorageKey, sealed); err != nil {
		s.quarantine(ctx, id, a.StorageKey, a.TotalChunks, fmt.Sprintf("final object store failed: %v", err))
		return
	}

	// The final object is durable; chunk objects are now redundant.
	cleanupChunkObjects(ctx, s.store, s.log, a.StorageKey, a.TotalChunks)

	sum := sha256.Sum256(data)
	if err := s.repo.MarkReady(ctx, id, int64(len(data)), hex.EncodeToString(sum[:])); err != nil {
		s.log.Errorf("mark ready for %s: %v", id, err)
		return
	}

	a.FileSize = int64(len(data))
	s.publishReady(ctx, a)
}

func (s *AttachmentService) quarantine(ctx context.Context, id uuid.UUID, storageKey string, totalChunks int, reason string) {
	s.log.Warnf("quarantining attachment %s: %s", id, reason)
	if err := s.repo.TransitionStatus(ctx, id, attachment.StatusProcessing, attachment.StatusQuarantined); err != nil {
		s.log.Errorf("quarantine transition for %s: %v", id, err)
	}
	if storageKey != "" {
		cleanupChunkObjects(ctx, s.store, s.log, storageKey, totalChunks)
	}
}

// Download decrypts the stored object and re-verifies its checksum. A
// mismatch means the ciphertext or the row was corrupted after reassembly;
// the bytes are never served.
func (s *AttachmentService) Download(ctx context.Context, id uuid.UUID) (DownloadResult, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return DownloadResult{}, err
	}
	if a.Status != attachment.StatusReady {
		return DownloadResult{}, fmt.Errorf("%w: attachment %s is not available", evalhub_errors.ErrNotFound, id)
	}

	blob, err := s.store.Retrieve(ctx, a.StorageKey)
	if err != nil {
		if errors.Is(err, evalhub_errors.ErrNotFound) {
			// A ready row pointing at nothing is data loss; surface it as a
			// missing attachment, not an I/O failure.
			s.log.Warnf("ready attachment %s has no object at %s", id, a.StorageKey)
			return DownloadResult{}, fmt.Errorf("%w: attachment %s has no stored object", evalhub_errors.ErrNotFound, id)
		}
		return DownloadResult{}, fmt.Errorf("%w: reading object %s: %v", evalhub_errors.ErrStorage, a.StorageKey, err)
	}
	fileKey, err := s.encryptor.UnwrapKey(a.EncryptedFileKey)
	if err != nil {
		return DownloadResult{}, err
	}
	data, err := filecrypt.DecryptFile(blob, fileKey)
	if err != nil {
		return DownloadResult{}, err
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != a.ChecksumSHA256 {
		return DownloadResult{}, fmt.Errorf("%w: checksum mismatch for attachment %s", evalhub_errors.ErrIntegrity, id)
	}

	return DownloadResult{
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Data:        data,
	}, nil
}

func (s *AttachmentService) Info(ctx context.Context, id uuid.UUID) (attachment.Attachment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *AttachmentService) List(ctx context.Context, uploaderID uuid.UUID) ([]attachment.Attachment, error) {
	return s.repo.ListByUploader(ctx, uploaderID)
}

// Delete removes an unlinked attachment owned by the caller. The row goes
// first; storage cleanup after a row-delete failure would strand a live row
// pointing at nothing.
func (s *AttachmentService) Delete(ctx context.Context, uploaderID, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.UploaderID != uploaderID {
		return fmt.Errorf("%w: attachment %s", evalhub_errors.ErrNotFound, id)
	}

	if err := s.repo.DeleteUnlinked(ctx, id); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, a.StorageKey); err != nil {
		s.log.Errorf("deleting object %s: %v", a.StorageKey, err)
	}
	if a.ThumbnailStorageKey.Valid {
		if err := s.store.Delete(ctx, a.ThumbnailStorageKey.String); err != nil {
			s.log.Errorf("deleting thumbnail %s: %v", a.ThumbnailStorageKey.String, err)
		}
	}
	cleanupChunkObjects(ctx, s.store, s.log, a.StorageKey, a.TotalChunks)
	return nil
}

// LinkToComment binds the attachment to a comment exactly once. The comment
// service calls this when a comment referencing the attachment is created.
func (s *AttachmentService) LinkToComment(ctx context.Context, id, commentID uuid.UUID) error {
	return s.repo.LinkToComment(ctx, id, commentID)
}

func (s *AttachmentService) publishReady(ctx context.Context, a attachment.Attachment) {
	event := events.Event{
		Type: events.TypeAttachmentReady,
		Payload: events.AttachmentReadyPayload{
			AttachmentID: a.ID.String(),
			UploaderID:   a.UploaderID.String(),
			Filename:     a.Filename,
			ContentType:  a.ContentType,
			FileSize:     a.FileSize,
		},
		Timestamp: time.Now().Unix(),
	}
	channel := events.UserAttachmentsChannel(a.UploaderID.String())
	if err := s.publisher.Publish(ctx, channel, event); err != nil {
		s.log.Errorf("publishing %s for %s: %v", events.TypeAttachmentReady, a.ID, err)
	}
}

// cleanupChunkObjects deletes the per-chunk objects for one attachment and
// returns the number of failed deletes. Failures are logged, never
// propagated; the reaper retries them at TTL.
func cleanupChunkObjects(ctx context.Context, store storage.Backend, log *logger.Logger, storageKey string, totalChunks int) int {
	if totalChunks <= 0 {
		return 0
	}
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkDeleteParallelism)
	for i := 0; i < totalChunks; i++ {
		key := attachment.ChunkKey(storageKey, i)
		g.Go(func() error {
			if err := store.Delete(gctx, key); err != nil {
				log.Errorf("deleting chunk object %s: %v", key, err)
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}
