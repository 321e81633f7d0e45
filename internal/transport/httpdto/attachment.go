package httpdto

// InitUploadRequest is used for POST /v1/attachments/upload/init
type InitUploadRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	TotalChunks int    `json:"total_chunks" binding:"required"`
}

// AttachmentDTO represents an attachment in API responses
type AttachmentDTO struct {
	ID             string `json:"id"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
	ContentType    string `json:"content_type"`
	UploaderID     string `json:"uploader_id"`
	CommentID      string `json:"comment_id,omitempty"`
	Status         string `json:"status"`
	ChecksumSHA256 string `json:"checksum_sha256,omitempty"`
	TotalChunks    int    `json:"total_chunks,omitempty"`
	ReceivedChunks int    `json:"received_chunks,omitempty"`
	UploadSession  string `json:"upload_session,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// ChunkProgressResponse is returned after PATCH /v1/attachments/upload/:id/chunk/:index
type ChunkProgressResponse struct {
	AttachmentID   string `json:"attachment_id"`
	ReceivedChunks int    `json:"received_chunks"`
	TotalChunks    int    `json:"total_chunks"`
}

// ListAttachmentsResponse is returned when listing the caller's attachments
type ListAttachmentsResponse struct {
	Attachments []AttachmentDTO `json:"attachments"`
}
