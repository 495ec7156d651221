package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/SOWA-EQR/ai-document-processor/internal/common"
	"github.com/SOWA-EQR/ai-document-processor/internal/interfaces"
	"github.com/SOWA-EQR/ai-document-processor/internal/models"
)

// Orchestrator owns the state machine of every in-flight job. Each job runs
// in its own goroutine with a sequential poll loop; jobs never synchronize
// with each other. The orchestrator is the only writer of job state and of
// each job's result store entry.
type Orchestrator struct {
	client    interfaces.PipelineClient
	bus       interfaces.ProgressPublisher
	results   interfaces.ResultStorage
	documents interfaces.DocumentStorage
	config    *common.PipelineConfig
	logger    arbor.ILogger

	mu   sync.RWMutex
	jobs map[string]*models.Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates a pipeline orchestrator. Collaborators are passed
// explicitly; the orchestrator keeps no process-wide mutable state beyond
// its own job registry.
func NewOrchestrator(
	client interfaces.PipelineClient,
	bus interfaces.ProgressPublisher,
	results interfaces.ResultStorage,
	documents interfaces.DocumentStorage,
	config *common.PipelineConfig,
	logger arbor.ILogger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		client:    client,
		bus:       bus,
		results:   results,
		documents: documents,
		config:    config,
		logger:    logger,
		jobs:      make(map[string]*models.Job),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// StartJob registers a job for the given source reference and begins its
// lifecycle. When remote processing is disabled the job completes
// immediately with a degraded status; otherwise orchestration runs
// asynchronously and progress is observable via the subscription bus.
func (o *Orchestrator) StartJob(jobID, sourceReference string) (models.Job, error) {
	if sourceReference == "" {
		return models.Job{}, fmt.Errorf("source reference is required")
	}

	job := models.NewJob(jobID, sourceReference)

	o.mu.Lock()
	if _, exists := o.jobs[job.ID]; exists {
		o.mu.Unlock()
		return models.Job{}, fmt.Errorf("job already tracked: %s", job.ID)
	}
	o.jobs[job.ID] = job
	o.mu.Unlock()

	o.logger.Info().
		Str("job_id", job.ID).
		Str("source", sourceReference).
		Bool("remote_processing", o.config.UseRemoteProcessing).
		Msg("Job created")

	if !o.config.UseRemoteProcessing {
		// Bypass path: no remote pipeline involvement, the document is
		// stored and the job resolves at upload time.
		o.mu.Lock()
		job.MarkStarted("local_bypass", true)
		o.mu.Unlock()

		result := models.NewProcessingResult(job.ID, models.JobStateCompleted,
			"Document stored; remote processing disabled")
		result.Simulated = true
		o.finalize(job, models.JobStateCompleted, 100, models.StageCompleted, result.Message, result)
		return job.Snapshot(), nil
	}

	o.wg.Add(1)
	go o.run(job)

	return job.Snapshot(), nil
}

// GetJob returns a snapshot of a tracked job.
func (o *Orchestrator) GetJob(jobID string) (models.Job, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	job, ok := o.jobs[jobID]
	if !ok {
		return models.Job{}, false
	}
	return job.Snapshot(), true
}

// ListJobs returns snapshots of all tracked jobs.
func (o *Orchestrator) ListJobs() []models.Job {
	o.mu.RLock()
	defer o.mu.RUnlock()

	jobs := make([]models.Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		jobs = append(jobs, job.Snapshot())
	}
	return jobs
}

// EvictTerminalBefore drops terminal jobs last updated before cutoff from
// the in-memory registry so it does not grow without bound. Lookups for
// evicted jobs fall through to the stored result. Returns the eviction count.
func (o *Orchestrator) EvictTerminalBefore(cutoff time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	evicted := 0
	for id, job := range o.jobs {
		if job.IsTerminal() && job.LastUpdatedAt.Before(cutoff) {
			delete(o.jobs, id)
			evicted++
		}
	}
	return evicted
}

// Stop cancels all poll loops and waits for them to exit, or for ctx.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown timed out: %w", ctx.Err())
	}
}

// run drives one job from start to its terminal state. Panics are contained
// here: anything escaping a cycle resolves the job as Error rather than
// crashing the service.
func (o *Orchestrator) run(job *models.Job) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.finalize(job, models.JobStateError, 0, models.StageError,
				fmt.Sprintf("unexpected error: %v", r), nil)
		}
	}()

	start, err := o.client.Start(o.ctx, o.blobRefs(job))
	if err != nil {
		if o.ctx.Err() != nil {
			// Shutdown interrupted the start call. The job stays
			// unresolved, matching how cancelled poll loops exit.
			o.logger.Warn().Str("job_id", job.ID).Msg("Start aborted by shutdown")
			return
		}
		// Start failures are never retried.
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to start remote job")
		o.finalize(job, models.JobStateError, 0, models.StageError,
			fmt.Sprintf("failed to start remote processing: %v", err), nil)
		return
	}

	o.mu.Lock()
	job.MarkStarted(start.InstanceID, start.Simulated)
	o.mu.Unlock()

	o.logger.Info().
		Str("job_id", job.ID).
		Str("instance_id", start.InstanceID).
		Bool("simulated", start.Simulated).
		Msg("Remote job started")

	if start.Simulated {
		o.runSimulated(job)
		return
	}

	o.mu.Lock()
	job.MarkPolling()
	o.mu.Unlock()

	o.pollLoop(job, start)
}

// runSimulated resolves a degraded job on a timer. The remote pipeline was
// absent at start, so there is nothing to poll: the job reports completion
// after a fixed delay.
func (o *Orchestrator) runSimulated(job *models.Job) {
	o.bus.Publish(models.NewProgressEvent(job.ID, 10, models.StagePending, msgPipelineStarting))

	select {
	case <-o.ctx.Done():
		return
	case <-time.After(o.config.SimulatedDelay):
	}

	result := models.NewProcessingResult(job.ID, models.JobStateCompleted,
		"Processing completed (simulated; remote pipeline unavailable)")
	result.Simulated = true
	o.finalize(job, models.JobStateCompleted, 100, models.StageCompleted, result.Message, result)
}

// pollLoop polls the remote instance at a fixed cadence until a terminal
// raw state arrives or the hard deadline fires. Transient transport errors
// skip the cycle; any other failure is fatal for the job.
func (o *Orchestrator) pollLoop(job *models.Job, start *models.StartResult) {
	startedAt := time.Now()
	lastPct := 0

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(o.config.MaxWait)
	defer deadline.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return

		case <-deadline.C:
			o.logger.Warn().
				Str("job_id", job.ID).
				Dur("waited", time.Since(startedAt)).
				Msg("Job exceeded processing deadline")
			o.finalize(job, models.JobStateTimedOut, lastPct, models.StageTimedOut,
				fmt.Sprintf("Processing timed out after %s", o.config.MaxWait), nil)
			return

		case <-ticker.C:
			status, err := o.client.Poll(o.ctx, start)
			if err != nil {
				var transport *TransportError
				if errors.As(err, &transport) {
					o.logger.Warn().Err(err).
						Str("job_id", job.ID).
						Msg("Transient poll failure - retrying next cycle")
					continue
				}
				o.finalize(job, models.JobStateError, 0, models.StageError, err.Error(), nil)
				return
			}

			switch status.RuntimeStatus {
			case models.RawStateCompleted:
				result := models.NewProcessingResult(job.ID, models.JobStateCompleted, msgCompleted)
				result.Output = status.Output
				if doc, derr := o.documents.FindByName(o.ctx, job.SourceReference); derr == nil {
					result.DocumentID = doc.ID
				}
				o.finalize(job, models.JobStateCompleted, 100, models.StageCompleted, msgCompleted, result)
				return

			case models.RawStateFailed:
				failure := &RemoteFailureError{InstanceID: start.InstanceID}
				o.logger.Error().Err(failure).Str("job_id", job.ID).Msg("Remote pipeline reported failure")
				result := models.NewProcessingResult(job.ID, models.JobStateFailed, msgFailed)
				result.Output = status.Output
				o.finalize(job, models.JobStateFailed, 0, models.StageFailed, msgFailed, result)
				return

			default:
				pct, stage, msg := MapStatus(status.RuntimeStatus)
				if stage == models.StageProcessing {
					if elapsed := ElapsedPercentage(time.Since(startedAt), o.config.MaxWait); elapsed > pct {
						pct = elapsed
					}
				}
				// Percentage never regresses within a job's lifetime.
				if pct < lastPct {
					pct = lastPct
				}
				lastPct = pct

				o.mu.Lock()
				job.Touch()
				o.mu.Unlock()

				o.bus.Publish(models.NewProgressEvent(job.ID, pct, stage, msg))
			}
		}
	}
}

// finalize resolves the job exactly once: terminal state, stored result,
// terminal event, topic closed. A second call for the same job is a
// contract violation and is suppressed with an error log.
func (o *Orchestrator) finalize(job *models.Job, state models.JobState, percentage int, stage models.Stage, message string, result *models.ProcessingResult) {
	if result == nil {
		result = models.NewProcessingResult(job.ID, state, message)
	}

	o.mu.Lock()
	result.Simulated = result.Simulated || job.Simulated
	ok := job.MarkTerminal(state, result)
	o.mu.Unlock()

	if !ok {
		o.logger.Error().
			Str("job_id", job.ID).
			Str("state", string(state)).
			Msg("Duplicate terminal transition suppressed")
		return
	}

	if err := o.results.SaveResult(context.Background(), result); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job result")
	}

	o.bus.Publish(models.NewProgressEvent(job.ID, percentage, stage, message))
	o.bus.CloseTopic(job.ID)

	o.logger.Info().
		Str("job_id", job.ID).
		Str("state", string(state)).
		Bool("success", result.Success).
		Msg("Job resolved")
}

// blobRefs builds the submission payload for a job, enriching the blob
// reference with the stored document record when one exists.
func (o *Orchestrator) blobRefs(job *models.Job) []models.BlobReference {
	ref := models.BlobReference{Name: job.SourceReference}
	if doc, err := o.documents.FindByName(o.ctx, job.SourceReference); err == nil {
		ref.URL = doc.BlobURL
		ref.Container = doc.Container
	}
	return []models.BlobReference{ref}
}
