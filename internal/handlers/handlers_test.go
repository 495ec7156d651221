package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/SOWA-EQR/ai-document-processor/internal/bus"
	"github.com/SOWA-EQR/ai-document-processor/internal/common"
	"github.com/SOWA-EQR/ai-document-processor/internal/interfaces"
	"github.com/SOWA-EQR/ai-document-processor/internal/models"
	"github.com/SOWA-EQR/ai-document-processor/internal/pipeline"
)

// noopClient satisfies PipelineClient for flows that never reach the remote.
type noopClient struct{}

func (noopClient) Start(ctx context.Context, blobs []models.BlobReference) (*models.StartResult, error) {
	return nil, fmt.Errorf("remote pipeline not available in tests")
}

func (noopClient) Poll(ctx context.Context, start *models.StartResult) (*models.RawStatus, error) {
	return nil, fmt.Errorf("remote pipeline not available in tests")
}

type memResults struct {
	mu sync.Mutex
	m  map[string]*models.ProcessingResult
}

func newMemResults() *memResults {
	return &memResults{m: make(map[string]*models.ProcessingResult)}
}

func (s *memResults) SaveResult(ctx context.Context, result *models.ProcessingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.m[result.JobID] = &cp
	return nil
}

func (s *memResults) GetResult(ctx context.Context, jobID string) (*models.ProcessingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.m[jobID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, interfaces.ErrResultNotFound
}

func (s *memResults) ListResults(ctx context.Context, limit int) ([]*models.ProcessingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ProcessingResult, 0, len(s.m))
	for _, r := range s.m {
		cp := *r
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memResults) DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

type memDocs struct {
	mu sync.Mutex
	m  map[string]*models.Document
}

func newMemDocs() *memDocs {
	return &memDocs{m: make(map[string]*models.Document)}
}

func (s *memDocs) SaveDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[doc.Name] = doc
	return nil
}

func (s *memDocs) GetByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.m {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, interfaces.ErrDocumentNotFound
}

func (s *memDocs) FindByName(ctx context.Context, name string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.m[name]; ok {
		return doc, nil
	}
	return nil, interfaces.ErrDocumentNotFound
}

// bypassFixture wires an orchestrator with remote processing disabled, so
// uploads resolve synchronously without a remote pipeline.
type bypassFixture struct {
	orchestrator *pipeline.Orchestrator
	bus          *bus.Bus
	results      *memResults
	docs         *memDocs
}

func newBypassFixture(t *testing.T) *bypassFixture {
	t.Helper()
	logger := arbor.NewLogger()
	progressBus := bus.NewBus(16, logger)
	results := newMemResults()
	docs := newMemDocs()
	config := &common.PipelineConfig{
		PollInterval:        5 * time.Millisecond,
		MaxWait:             time.Second,
		UseRemoteProcessing: false,
		SimulateWhenAbsent:  true,
		SimulatedDelay:      10 * time.Millisecond,
	}
	o := pipeline.NewOrchestrator(noopClient{}, progressBus, results, docs, config, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		o.Stop(ctx)
	})
	return &bypassFixture{orchestrator: o, bus: progressBus, results: results, docs: docs}
}

func TestUploadDocumentHandler(t *testing.T) {
	f := newBypassFixture(t)
	handler := NewUploadHandler(f.orchestrator, f.docs, arbor.NewLogger())

	body, _ := json.Marshal(UploadRequest{
		Name:        "report.pdf",
		BlobURL:     "https://blobs.example.com/report.pdf",
		Container:   "uploads",
		ContentType: "application/pdf",
		SizeBytes:   2048,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.UploadDocumentHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.JobID)
	assert.NotEmpty(t, resp.DocumentID)
	assert.Equal(t, models.JobStateCompleted, resp.State)
	assert.True(t, resp.Simulated)

	// Document was persisted before the job started
	doc, err := f.docs.FindByName(context.Background(), "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, resp.DocumentID, doc.ID)

	// Bypass resolves the result at upload time
	result, err := f.results.GetResult(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestUploadDocumentHandlerValidation(t *testing.T) {
	f := newBypassFixture(t)
	handler := NewUploadHandler(f.orchestrator, f.docs, arbor.NewLogger())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing name", `{"blob_url":"https://x.example.com/a"}`},
		{"bad url", `{"name":"a.pdf","blob_url":"not-a-url"}`},
		{"negative size", `{"name":"a.pdf","size_bytes":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.UploadDocumentHandler(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/documents/upload", nil)
		rec := httptest.NewRecorder()
		handler.UploadDocumentHandler(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestGetJobHandler(t *testing.T) {
	f := newBypassFixture(t)
	handler := NewJobHandler(f.orchestrator, f.results, arbor.NewLogger())

	job, err := f.orchestrator.StartJob("job_live", "report.pdf")
	require.NoError(t, err)

	t.Run("live job", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_live", nil)
		rec := httptest.NewRecorder()
		handler.GetJobHandler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got models.Job
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("stored result fallback", func(t *testing.T) {
		stored := models.NewProcessingResult("job_archived", models.JobStateCompleted, "done")
		require.NoError(t, f.results.SaveResult(context.Background(), stored))

		req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_archived", nil)
		rec := httptest.NewRecorder()
		handler.GetJobHandler(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing", nil)
		rec := httptest.NewRecorder()
		handler.GetJobHandler(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetJobHandlerEvictedJobFallsBack(t *testing.T) {
	f := newBypassFixture(t)
	handler := NewJobHandler(f.orchestrator, f.results, arbor.NewLogger())

	job, err := f.orchestrator.StartJob("job_resolved", "report.pdf")
	require.NoError(t, err)
	require.True(t, job.IsTerminal())

	require.Equal(t, 1, f.orchestrator.EvictTerminalBefore(time.Now().Add(time.Minute)))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_resolved", nil)
	rec := httptest.NewRecorder()
	handler.GetJobHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ID    string          `json:"id"`
		State models.JobState `json:"state"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job_resolved", resp.ID)
	assert.Equal(t, models.JobStateCompleted, resp.State)
}

func TestListResultsHandler(t *testing.T) {
	f := newBypassFixture(t)
	handler := NewJobHandler(f.orchestrator, f.results, arbor.NewLogger())

	require.NoError(t, f.results.SaveResult(context.Background(), models.NewProcessingResult("job_1", models.JobStateCompleted, "done")))
	require.NoError(t, f.results.SaveResult(context.Background(), models.NewProcessingResult("job_2", models.JobStateFailed, "nope")))

	req := httptest.NewRequest(http.MethodGet, "/api/results", nil)
	rec := httptest.NewRecorder()
	handler.ListResultsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
}

func dialWS(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// Consume the initial connected message
	var hello WSMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connected", hello.Type)

	return conn
}

func TestWebSocketLiveProgressFlow(t *testing.T) {
	logger := arbor.NewLogger()
	progressBus := bus.NewBus(16, logger)
	results := newMemResults()
	handler := NewWebSocketHandler(progressBus, results, logger)

	conn := dialWS(t, handler)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "join", "job_id": "job_1"}))

	// Wait for the subscription to land before publishing
	require.Eventually(t, func() bool {
		return progressBus.SubscriberCount("job_1") == 1
	}, time.Second, 5*time.Millisecond)

	progressBus.Publish(models.NewProgressEvent("job_1", 30, models.StageProcessing, "working"))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "progress", msg.Type)

	progressBus.Publish(models.NewProgressEvent("job_1", 100, models.StageCompleted, "done"))
	progressBus.CloseTopic("job_1")

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "complete", msg.Type)
}

func TestWebSocketLateJoinerCatchUp(t *testing.T) {
	logger := arbor.NewLogger()
	progressBus := bus.NewBus(16, logger)
	results := newMemResults()

	// Job resolved before anyone subscribed
	stored := models.NewProcessingResult("job_done", models.JobStateCompleted, "done")
	require.NoError(t, results.SaveResult(context.Background(), stored))

	handler := NewWebSocketHandler(progressBus, results, logger)
	conn := dialWS(t, handler)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "join", "job_id": "job_done"}))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "complete", msg.Type)

	payload, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var event models.ProgressEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "job_done", event.JobID)
	assert.Equal(t, 100, event.Percentage)
	assert.Equal(t, models.StageCompleted, event.Stage)

	// No subscription was created for the resolved job
	assert.Equal(t, 0, progressBus.SubscriberCount("job_done"))
}

// racingResults resolves the job while the first lookup is in flight,
// reproducing a join that lands just as the orchestrator finalizes.
type racingResults struct {
	*memResults
	bus   *bus.Bus
	jobID string
	once  sync.Once
}

func (s *racingResults) GetResult(ctx context.Context, jobID string) (*models.ProcessingResult, error) {
	fired := false
	if jobID == s.jobID {
		s.once.Do(func() {
			fired = true
			result := models.NewProcessingResult(jobID, models.JobStateCompleted, "done")
			_ = s.memResults.SaveResult(ctx, result)
			s.bus.Publish(models.NewProgressEvent(jobID, 100, models.StageCompleted, "done"))
			s.bus.CloseTopic(jobID)
		})
	}
	if fired {
		return nil, interfaces.ErrResultNotFound
	}
	return s.memResults.GetResult(ctx, jobID)
}

func TestWebSocketJoinDuringFinalizeGetsSnapshot(t *testing.T) {
	logger := arbor.NewLogger()
	progressBus := bus.NewBus(16, logger)
	results := &racingResults{memResults: newMemResults(), bus: progressBus, jobID: "job_racy"}
	handler := NewWebSocketHandler(progressBus, results, logger)
	conn := dialWS(t, handler)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "join", "job_id": "job_racy"}))

	// The subscriber still gets a terminal message even though the job
	// resolved between the store check and the subscription
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "complete", msg.Type)

	payload, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var event models.ProgressEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "job_racy", event.JobID)
	assert.Equal(t, 100, event.Percentage)
	assert.Equal(t, models.StageCompleted, event.Stage)
}

func TestWebSocketRejectsUnknownAction(t *testing.T) {
	logger := arbor.NewLogger()
	handler := NewWebSocketHandler(bus.NewBus(16, logger), newMemResults(), logger)
	conn := dialWS(t, handler)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "job_id": "job_1"}))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
}
