package models

import (
	"time"

	"github.com/google/uuid"
)

// Document is one uploaded artifact handed to the remote pipeline.
// Records are looked up by the orchestrator at completion to attach the
// persisted payload to the job result.
type Document struct {
	ID          string    `json:"id" badgerhold:"key"`
	Name        string    `json:"name" badgerhold:"index"` // Storage blob name (source reference)
	BlobURL     string    `json:"blob_url"`
	Container   string    `json:"container"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// NewDocumentID generates a unique document ID with the "doc_" prefix.
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// NewDocument creates a document record for an uploaded blob.
func NewDocument(name, blobURL, container string) *Document {
	return &Document{
		ID:         NewDocumentID(),
		Name:       name,
		BlobURL:    blobURL,
		Container:  container,
		UploadedAt: time.Now(),
	}
}
