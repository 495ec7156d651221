// -----------------------------------------------------------------------
// Application wiring - storage, bus, pipeline client, orchestrator, handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/SOWA-EQR/ai-document-processor/internal/bus"
	"github.com/SOWA-EQR/ai-document-processor/internal/common"
	"github.com/SOWA-EQR/ai-document-processor/internal/handlers"
	"github.com/SOWA-EQR/ai-document-processor/internal/interfaces"
	"github.com/SOWA-EQR/ai-document-processor/internal/pipeline"
	"github.com/SOWA-EQR/ai-document-processor/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Progress fan-out
	Bus *bus.Bus

	// Remote pipeline
	PipelineClient *pipeline.Client
	Orchestrator   *pipeline.Orchestrator

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	UploadHandler *handlers.UploadHandler
	JobHandler    *handlers.JobHandler
	WSHandler     *handlers.WebSocketHandler

	retention *cron.Cron
}

// New creates and wires all application components
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storageManager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.Bus = bus.NewBus(config.WebSocket.SendBuffer, logger)

	a.PipelineClient = pipeline.NewClient(config.Pipeline.BaseURL,
		pipeline.WithAuthKey(config.Pipeline.AuthKey),
		pipeline.WithLogger(logger),
		pipeline.WithRateLimit(config.Pipeline.RateLimit),
		pipeline.WithSimulateWhenAbsent(config.Pipeline.SimulateWhenAbsent),
		pipeline.WithHTTPClient(&http.Client{Timeout: config.Pipeline.RequestTimeout}),
	)

	a.Orchestrator = pipeline.NewOrchestrator(
		a.PipelineClient,
		a.Bus,
		storageManager.ResultStorage(),
		storageManager.DocumentStorage(),
		&config.Pipeline,
		logger,
	)

	a.APIHandler = handlers.NewAPIHandler(logger)
	a.UploadHandler = handlers.NewUploadHandler(a.Orchestrator, storageManager.DocumentStorage(), logger)
	a.JobHandler = handlers.NewJobHandler(a.Orchestrator, storageManager.ResultStorage(), logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Bus, storageManager.ResultStorage(), logger)

	if err := a.startRetention(); err != nil {
		storageManager.Close()
		return nil, err
	}

	logger.Info().
		Bool("remote_processing", config.Pipeline.UseRemoteProcessing).
		Str("pipeline_url", config.Pipeline.BaseURL).
		Msg("Application initialized")

	return a, nil
}

// startRetention schedules the periodic sweep of expired stored results.
func (a *App) startRetention() error {
	if a.Config.Retention.TTL <= 0 {
		a.Logger.Info().Msg("Result retention sweep disabled (ttl <= 0)")
		return nil
	}

	a.retention = cron.New()
	_, err := a.retention.AddFunc(a.Config.Retention.Schedule, func() {
		cutoff := time.Now().Add(-a.Config.Retention.TTL)
		deleted, err := a.StorageManager.ResultStorage().DeleteResultsBefore(context.Background(), cutoff)
		if err != nil {
			a.Logger.Error().Err(err).Msg("Retention sweep failed")
			return
		}
		if deleted > 0 {
			a.Logger.Info().Int("deleted", deleted).Msg("Retention sweep removed expired results")
		}
		// Registry entries age out together with their stored results.
		if evicted := a.Orchestrator.EvictTerminalBefore(cutoff); evicted > 0 {
			a.Logger.Info().Int("evicted", evicted).Msg("Retention sweep evicted resolved jobs from registry")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", a.Config.Retention.Schedule, err)
	}

	a.retention.Start()
	a.Logger.Info().
		Str("schedule", a.Config.Retention.Schedule).
		Dur("ttl", a.Config.Retention.TTL).
		Msg("Result retention sweep scheduled")

	return nil
}

// Close shuts down application components in dependency order
func (a *App) Close() error {
	if a.retention != nil {
		<-a.retention.Stop().Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Orchestrator.Stop(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Orchestrator did not stop cleanly")
	}

	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close storage")
		return err
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
