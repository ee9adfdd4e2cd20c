package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tbrandt/adscout/internal/api"
	"github.com/tbrandt/adscout/internal/browserpool"
	"github.com/tbrandt/adscout/internal/config"
	"github.com/tbrandt/adscout/internal/eventbus"
	"github.com/tbrandt/adscout/internal/imageanalyzer"
	"github.com/tbrandt/adscout/internal/listingsource"
	"github.com/tbrandt/adscout/internal/logging"
	"github.com/tbrandt/adscout/internal/models"
	"github.com/tbrandt/adscout/internal/scheduler"
	"github.com/tbrandt/adscout/internal/scrapepipeline"
	"github.com/tbrandt/adscout/internal/store"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	port := flag.String("port", "", "HTTP port to listen on (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("WARNING: failed to load config file: %v, using default settings", err)
		cfg = config.GetDefaultConfig()
	}
	config.ApplyEnvOverrides(cfg)
	if *port != "" {
		cfg.Port = *port
	}

	if err := logging.Configure(cfg.LogDir, logging.LevelInfo, true); err != nil {
		log.Printf("WARNING: failed to configure file logging: %v", err)
	}
	logger := logging.Default()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := browserpool.New(ctx, browserpool.Options{
		MaxContexts:   cfg.MaxContexts,
		MaxConcurrent: cfg.MaxConcurrent,
	})
	if err != nil {
		log.Fatalf("failed to start browser pool: %v", err)
	}
	defer pool.Close()

	source := listingsource.New(pool, listingsource.Options{})

	listingStore := store.NewListingStore(db)
	fingerprintStore := store.NewFingerprintStore()
	jobRegistry := store.NewJobRegistry(db)

	bus := eventbus.New(logger)
	bus.Start(ctx)
	defer bus.Stop()

	analyzer := imageanalyzer.New(db, listingStore, fingerprintStore, bus, logger, imageanalyzer.Options{
		QueueSize:      cfg.AnalyzerQueueSize,
		ParallelFetch:  cfg.AnalyzerParallelFetch,
		PhashThreshold: cfg.AnalyzerPhashThreshold,
		MaxImageBytes:  int64(cfg.AnalyzerMaxImageBytes),
		FetchTimeout:   time.Duration(cfg.AnalyzerFetchTimeoutMs) * time.Millisecond,
	})
	analyzer.Start(ctx)
	defer analyzer.Stop()

	pipeline := scrapepipeline.New(pool, source, scrapepipeline.Options{RetryCount: cfg.RetryCount})

	runner := jobRunner{db: db, listings: listingStore, pipeline: pipeline, bus: bus, log: logger}

	sched := scheduler.New(jobRegistry, runner, logger)

	bootstrapJobs := config.LoadBootstrapJobs(os.Getenv("SCRAPER_JOBS"), cfg.DefaultIntervalSeconds, func(msg string) {
		logger.Warn(msg, nil)
	})
	if err := sched.Bootstrap(ctx, bootstrapJobs); err != nil {
		logger.Warn("failed to materialize bootstrap jobs", map[string]any{"error": err.Error()})
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	server := api.NewServer(sched, listingStore)
	router := server.SetupRouter()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Handler:      router,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("adscout starting", map[string]any{"version": version, "addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	logger.Info("shutdown complete", nil)
}

// jobRunner ADAPTS THE SCRAPE PIPELINE AND LISTING STORE INTO THE scheduler.Runner
// INTERFACE: RUN THE PIPELINE, THEN PERSIST EVERY RESULT OF THE RUN THROUGH A SINGLE
// TRANSACTION, PER spec.md §4.H/§5 ("each scrape run uses exactly one transaction").
// ListingImagesUpdated EVENTS ARE BUFFERED AND ONLY PUBLISHED AFTER THAT TRANSACTION
// COMMITS, SO SUBSCRIBERS NEVER SEE A LISTING CHANGE THAT GETS ROLLED BACK.
type jobRunner struct {
	db       *sql.DB
	listings *store.ListingStore
	pipeline *scrapepipeline.Pipeline
	bus      *eventbus.Bus
	log      *logging.Logger
}

func (r jobRunner) RunJob(ctx context.Context, job models.ScheduledJob) models.PipelineOutcome {
	params := models.SearchParams{
		Query:     job.Query,
		Location:  job.Location,
		Radius:    job.Radius,
		MinPrice:  job.MinPrice,
		MaxPrice:  job.MaxPrice,
		PageCount: job.PageCount,
	}

	outcome := r.pipeline.Run(ctx, params)
	outcome.UpsertedCount = r.persistResults(ctx, job, params, outcome.Results)
	return outcome
}

// persistResults UPSERTS EVERY RESULT THROUGH ONE TRANSACTION, COMMITS ONCE, THEN
// PUBLISHES ListingImagesUpdated FOR EACH UPSERT WHOSE IMAGE SET CHANGED. RETURNS THE
// COUNT OF SUCCESSFULLY UPSERTED RESULTS.
func (r jobRunner) persistResults(ctx context.Context, job models.ScheduledJob, params models.SearchParams, results []models.ScrapeResult) int {
	if len(results) == 0 {
		return 0
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.log.Warn("failed to open persistence transaction", map[string]any{"job": job.Name, "error": err.Error()})
		return 0
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var changedEvents []eventbus.ListingImagesUpdated
	successCount := 0

	for _, result := range results {
		upsertResult, err := r.listings.Upsert(ctx, tx, result.Summary, result.Detail, job.Name, params)
		if err != nil {
			r.log.Warn("failed to upsert scrape result", map[string]any{
				"job": job.Name, "external_id": result.Summary.ExternalID, "error": err.Error(),
			})
			continue
		}
		successCount++
		if upsertResult.ImagesChanged {
			changedEvents = append(changedEvents, eventbus.ListingImagesUpdated{
				ListingID:  upsertResult.Listing.ID,
				ExternalID: upsertResult.Listing.ExternalID,
				ImageURLs:  upsertResult.Listing.ImageURLs,
			})
		}
	}

	if err := tx.Commit(); err != nil {
		r.log.Warn("failed to commit persistence transaction", map[string]any{"job": job.Name, "error": err.Error()})
		return 0
	}
	committed = true

	triggeredAt := time.Now().UTC()
	for _, evt := range changedEvents {
		evt.TriggeredAt = triggeredAt
		r.bus.Publish(evt)
	}

	return successCount
}

