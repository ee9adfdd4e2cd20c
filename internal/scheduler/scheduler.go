// Package scheduler runs each configured search on its own interval, using
// go-co-op/gocron as the teacher's internal/scheduler package already did.
// The teacher scheduled one cron expression per models.Job; adscout jobs
// carry a plain interval_seconds instead, so each job is wired here as a
// gocron .Every(seconds).Seconds() entry rather than a cron string.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/tbrandt/adscout/internal/config"
	"github.com/tbrandt/adscout/internal/errs"
	"github.com/tbrandt/adscout/internal/logging"
	"github.com/tbrandt/adscout/internal/models"
	"github.com/tbrandt/adscout/internal/store"
)

// Runner EXECUTES ONE JOB'S SEARCH-AND-PERSIST CYCLE. IMPLEMENTED BY cmd/adscout's jobRunner,
// WHICH RUNS internal/scrapepipeline AND PERSISTS ITS RESULTS.
type Runner interface {
	RunJob(ctx context.Context, job models.ScheduledJob) models.PipelineOutcome
}

// Scheduler OWNS ONE gocron ENTRY PER ACTIVE JOB AND GUARDS AGAINST OVERLAPPING RUNS OF
// THE SAME JOB, GROUNDED IN THE TEACHER'S internal/scheduler/scheduler.go AND
// original_source/services/scheduler.py's Execute-once CONTRACT.
type Scheduler struct {
	registry *store.JobRegistry
	runner   Runner
	log      *logging.Logger

	cron *gocron.Scheduler

	mu      sync.Mutex
	entries map[int64]*gocron.Job
	running map[int64]bool
}

// New CONSTRUCTS A Scheduler. IT DOES NOT START RUNNING UNTIL Start IS CALLED.
func New(registry *store.JobRegistry, runner Runner, log *logging.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		runner:   runner,
		log:      log,
		cron:     gocron.NewScheduler(time.UTC),
		entries:  make(map[int64]*gocron.Job),
		running:  make(map[int64]bool),
	}
}

// Start LOADS ALL JOBS FROM THE REGISTRY, SCHEDULES THE ACTIVE ONES, AND STARTS THE
// gocron LOOP.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("load jobs at startup: %w", err)
	}
	for _, job := range jobs {
		if job.IsActive {
			if err := s.schedule(job); err != nil {
				s.log.Warn("failed to schedule job at startup", map[string]any{"job": job.Name, "error": err.Error()})
			}
		}
	}
	s.cron.StartAsync()
	s.log.Info("scheduler started", map[string]any{"active_jobs": len(s.entries)})
	return nil
}

// Stop DRAINS IN-FLIGHT RUNS AND STOPS THE gocron LOOP.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("scheduler stopped", nil)
}

// Bootstrap CREATES ANY CONFIGURED BOOTSTRAP JOBS (FROM SCRAPER_JOBS) THAT DO NOT ALREADY
// EXIST BY NAME, PER spec.md §6.
func (s *Scheduler) Bootstrap(ctx context.Context, jobs []config.BootstrapJob) error {
	for _, bj := range jobs {
		if _, err := s.registry.GetByName(ctx, bj.Name); err == nil {
			continue
		} else if err != errs.ErrNotFound {
			return err
		}

		job := models.ScheduledJob{
			Name:            bj.Name,
			Query:           bj.Query,
			Location:        bj.Location,
			Radius:          bj.Radius,
			MinPrice:        bj.MinPrice,
			MaxPrice:        bj.MaxPrice,
			PageCount:       valueOrDefault(bj.PageCount, 1),
			IntervalSeconds: valueOrDefault(bj.IntervalSeconds, 3600),
			IsActive:        bj.IsActive == nil || *bj.IsActive,
		}
		if _, err := s.registry.Create(ctx, job); err != nil {
			return fmt.Errorf("create bootstrap job %q: %w", bj.Name, err)
		}
	}
	return nil
}

func valueOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// Add CREATES A NEW JOB AND, IF ACTIVE, SCHEDULES IT IMMEDIATELY.
func (s *Scheduler) Add(ctx context.Context, job models.ScheduledJob) (models.ScheduledJob, error) {
	created, err := s.registry.Create(ctx, job)
	if err != nil {
		return models.ScheduledJob{}, err
	}
	if created.IsActive {
		if err := s.schedule(created); err != nil {
			return created, err
		}
	}
	return created, nil
}

// Update APPLIES A PARTIAL PATCH AND RE-SCHEDULES THE JOB TO PICK UP AN INTERVAL CHANGE.
func (s *Scheduler) Update(ctx context.Context, id int64, patch store.JobPatch) (models.ScheduledJob, error) {
	updated, err := s.registry.Update(ctx, id, patch)
	if err != nil {
		return models.ScheduledJob{}, err
	}
	s.unschedule(id)
	if updated.IsActive {
		if err := s.schedule(updated); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// SetActive TOGGLES A JOB ON OR OFF WITHOUT CHANGING ITS CONFIGURATION.
func (s *Scheduler) SetActive(ctx context.Context, id int64, active bool) (models.ScheduledJob, error) {
	return s.Update(ctx, id, store.JobPatch{IsActive: &active})
}

// Delete REMOVES A JOB FROM BOTH THE SCHEDULER AND THE REGISTRY. RETURNS errs.ErrBusy IF
// THE JOB IS CURRENTLY MID-RUN.
func (s *Scheduler) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.running[id] {
		s.mu.Unlock()
		return errs.ErrBusy
	}
	s.mu.Unlock()

	s.unschedule(id)
	return s.registry.Delete(ctx, id)
}

// RunOnce EXECUTES A JOB IMMEDIATELY, OUT OF BAND FROM ITS INTERVAL, UNLESS IT IS ALREADY
// RUNNING (THE Execute-once CONTRACT).
func (s *Scheduler) RunOnce(ctx context.Context, id int64) (models.PipelineOutcome, error) {
	job, err := s.registry.Get(ctx, id)
	if err != nil {
		return models.PipelineOutcome{}, err
	}

	s.mu.Lock()
	if s.running[id] {
		s.mu.Unlock()
		return models.PipelineOutcome{}, errs.ErrBusy
	}
	s.running[id] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	return s.execute(ctx, job), nil
}

// List RETURNS ALL CONFIGURED JOBS.
func (s *Scheduler) List(ctx context.Context) ([]models.ScheduledJob, error) {
	return s.registry.List(ctx)
}

func (s *Scheduler) schedule(job models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[job.ID]; ok {
		s.cron.Remove(existing)
		delete(s.entries, job.ID)
	}

	interval := job.IntervalSeconds
	if interval <= 0 {
		interval = 3600
	}

	gj, err := s.cron.Every(uint64(interval)).Seconds().Do(func() {
		s.runGuarded(context.Background(), job.ID)
	})
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", job.Name, err)
	}
	s.entries[job.ID] = gj
	return nil
}

func (s *Scheduler) unschedule(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gj, ok := s.entries[id]; ok {
		s.cron.Remove(gj)
		delete(s.entries, id)
	}
}

// runGuarded IS THE gocron CALLBACK: IT REFUSES TO START A SECOND CONCURRENT RUN OF THE
// SAME JOB, PER spec.md §4.H's Execute-once CONTRACT.
func (s *Scheduler) runGuarded(ctx context.Context, jobID int64) {
	s.mu.Lock()
	if s.running[jobID] {
		s.mu.Unlock()
		s.log.Debug("skipping overlapping run", map[string]any{"job_id": jobID})
		return
	}
	s.running[jobID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
	}()

	job, err := s.registry.Get(ctx, jobID)
	if err != nil {
		s.log.Warn("job disappeared before scheduled run", map[string]any{"job_id": jobID, "error": err.Error()})
		return
	}
	s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job models.ScheduledJob) models.PipelineOutcome {
	start := time.Now()
	outcome := s.runner.RunJob(ctx, job)
	duration := time.Since(start).Seconds()

	status := "success"
	message := ""
	if !outcome.Success {
		status = "error"
		message = outcome.Error
	}

	nextRun := start.Add(time.Duration(job.IntervalSeconds) * time.Second)
	if err := s.registry.UpdateBookkeeping(ctx, job.ID, status, message, duration, outcome.UpsertedCount, nextRun); err != nil {
		s.log.Warn("failed to record job bookkeeping", map[string]any{"job": job.Name, "error": err.Error()})
	}

	s.log.Info("job run complete", map[string]any{
		"job": job.Name, "status": status, "duration_seconds": duration, "result_count": outcome.UpsertedCount,
	})
	return outcome
}
