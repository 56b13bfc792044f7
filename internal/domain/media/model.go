package media

import "time"

// Attachment describes a forwarded attachment after upload.
type Attachment struct {
	ID         string    `json:"id"`
	StorageKey string    `json:"storage_key"`
	MimeType   string    `json:"mime"`
	Bytes      int64     `json:"bytes"`
	ChatID     string    `json:"chat_id"`
	MessageID  string    `json:"message_id,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ForwardRequest defines the payload for forwarding an attachment.
type ForwardRequest struct {
	ChatID    string `json:"chat_id" binding:"required"`
	MessageID string `json:"message_id"`
	Filename  string `json:"filename"`
	Data      string `json:"data" binding:"required"` // base64, with or without data-URL prefix
}
