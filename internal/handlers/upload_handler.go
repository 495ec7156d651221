package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/SOWA-EQR/ai-document-processor/internal/interfaces"
	"github.com/SOWA-EQR/ai-document-processor/internal/models"
	"github.com/SOWA-EQR/ai-document-processor/internal/pipeline"
)

// UploadRequest is the JSON body for a document upload. Name is the storage
// blob name and becomes the job's source reference.
type UploadRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=512"`
	BlobURL     string `json:"blob_url" validate:"omitempty,url"`
	Container   string `json:"container" validate:"omitempty,max=128"`
	ContentType string `json:"content_type" validate:"omitempty,max=256"`
	SizeBytes   int64  `json:"size_bytes" validate:"gte=0"`
}

// UploadResponse acknowledges an accepted upload with the tracking handles.
type UploadResponse struct {
	JobID      string          `json:"job_id"`
	DocumentID string          `json:"document_id"`
	State      models.JobState `json:"state"`
	Simulated  bool            `json:"simulated,omitempty"`
}

// UploadHandler accepts document uploads and starts processing jobs
type UploadHandler struct {
	orchestrator *pipeline.Orchestrator
	documents    interfaces.DocumentStorage
	validate     *validator.Validate
	logger       arbor.ILogger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(orchestrator *pipeline.Orchestrator, documents interfaces.DocumentStorage, logger arbor.ILogger) *UploadHandler {
	return &UploadHandler{
		orchestrator: orchestrator,
		documents:    documents,
		validate:     validator.New(),
		logger:       logger,
	}
}

// UploadDocumentHandler handles POST /api/documents/upload. The document
// record is persisted first; job orchestration then proceeds asynchronously
// and the response carries the job id to subscribe with.
func (h *UploadHandler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.logger.Debug().Err(err).Msg("Upload request failed validation")
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	doc := models.NewDocument(req.Name, req.BlobURL, req.Container)
	doc.ContentType = req.ContentType
	doc.SizeBytes = req.SizeBytes

	if err := h.documents.SaveDocument(r.Context(), doc); err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to save document")
		WriteError(w, http.StatusInternalServerError, "Failed to store document")
		return
	}

	job, err := h.orchestrator.StartJob(models.NewJobID(), doc.Name)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", doc.ID).Msg("Failed to start processing job")
		WriteError(w, http.StatusInternalServerError, "Failed to start processing")
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("document_id", doc.ID).
		Str("name", doc.Name).
		Msg("Document accepted for processing")

	WriteJSON(w, http.StatusAccepted, UploadResponse{
		JobID:      job.ID,
		DocumentID: doc.ID,
		State:      job.State,
		Simulated:  job.Simulated,
	})
}
