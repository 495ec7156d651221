package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - progress subscriptions
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Documents
	mux.HandleFunc("/api/documents/upload", s.app.UploadHandler.UploadDocumentHandler) // POST - upload and start processing

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.GetJobHandler) // GET /api/jobs/{id}

	// API routes - Results
	mux.HandleFunc("/api/results", s.app.JobHandler.ListResultsHandler)
	mux.HandleFunc("/api/results/", s.app.JobHandler.GetResultHandler) // GET /api/results/{job_id}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
