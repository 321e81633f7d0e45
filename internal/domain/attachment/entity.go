package attachment

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status represents attachment lifecycle state
type Status string

const (
	StatusUploading   Status = "uploading"
	StatusProcessing  Status = "processing"
	StatusReady       Status = "ready"
	StatusQuarantined Status = "quarantined"
	// StatusOrphaned exists in the database enum for schema compatibility.
	// It is never written: orphan-ness is a predicate (unlinked + expired),
	// not a persisted state.
	StatusOrphaned Status = "orphaned"
)

// Attachment represents attachments
type Attachment struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CommentID           uuid.NullUUID  `gorm:"type:uuid;index"`
	UploaderID          uuid.UUID      `gorm:"type:uuid;not null;index"`
	UploadSession       uuid.NullUUID  `gorm:"type:uuid"`
	Filename            string         `gorm:"type:varchar(255);not null"`
	ContentType         string         `gorm:"type:varchar(100);not null"`
	FileSize            int64          `gorm:"not null;default:0"`
	StorageKey          string         `gorm:"type:varchar(500);uniqueIndex;not null"`
	ChecksumSHA256      string         `gorm:"column:checksum_sha256;type:varchar(64)"`
	EncryptedFileKey    string         `gorm:"type:text;not null"`
	ThumbnailStorageKey sql.NullString `gorm:"type:varchar(500)"`
	Status              Status         `gorm:"type:attachment_status;not null;default:'uploading'"`
	TotalChunks         int            `gorm:"not null;default:0"`
	ReceivedChunks      int            `gorm:"not null;default:0"`
	CreatedAt           time.Time      `gorm:"not null;default:now();index"`
	UpdatedAt           time.Time      `gorm:"not null;default:now()"`
}

// TableName returns the database table name
func (Attachment) TableName() string {
	return "attachments"
}

// Linked reports whether the attachment has been bound to a comment.
func (a *Attachment) Linked() bool {
	return a.CommentID.Valid
}
