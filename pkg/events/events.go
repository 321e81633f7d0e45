package events

import (
	"context"
	"fmt"
)

// TypeAttachmentReady fires once per attachment, after reassembly verified,
// validated, and stored the final object.
const TypeAttachmentReady = "attachment.ready"

// AttachmentReadyPayload is the wire payload for TypeAttachmentReady.
type AttachmentReadyPayload struct {
	AttachmentID string `json:"attachment_id"`
	UploaderID   string `json:"uploader_id"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	FileSize     int64  `json:"file_size"`
}

// UserAttachmentsChannel is the per-user channel attachment events go to.
func UserAttachmentsChannel(uploaderID string) string {
	return fmt.Sprintf("user:%s:attachments", uploaderID)
}

type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

type Handler func(ctx context.Context, event Event) error

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler Handler) error
}

type Broker interface {
	Publisher
	Subscriber
}
