package scheduler

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/tbrandt/adscout/internal/logging"
	"github.com/tbrandt/adscout/internal/models"
	"github.com/tbrandt/adscout/internal/store"
)

type countingRunner struct {
	calls int64
}

func (r *countingRunner) RunJob(ctx context.Context, job models.ScheduledJob) models.PipelineOutcome {
	atomic.AddInt64(&r.calls, 1)
	return models.PipelineOutcome{Success: true}
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.JobRegistry, *countingRunner) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	registry := store.NewJobRegistry(db)
	runner := &countingRunner{}
	sched := New(registry, runner, logging.Default())
	return sched, registry, runner
}

func TestAddCreatesAndSchedulesActiveJob(t *testing.T) {
	ctx := context.Background()
	sched, _, _ := newTestScheduler(t)

	job := models.ScheduledJob{Name: "bikes", Query: "fahrrad", IntervalSeconds: 3600, IsActive: true}
	created, err := sched.Add(ctx, job)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected created job to have an id")
	}

	sched.mu.Lock()
	_, scheduled := sched.entries[created.ID]
	sched.mu.Unlock()
	if !scheduled {
		t.Fatal("expected active job to be scheduled")
	}
}

func TestRunOnceRefusesOverlap(t *testing.T) {
	ctx := context.Background()
	sched, _, _ := newTestScheduler(t)

	job := models.ScheduledJob{Name: "sofas", Query: "sofa", IntervalSeconds: 3600, IsActive: false}
	created, err := sched.Add(ctx, job)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	sched.mu.Lock()
	sched.running[created.ID] = true
	sched.mu.Unlock()

	if _, err := sched.RunOnce(ctx, created.ID); err == nil {
		t.Fatal("expected RunOnce to refuse an already-running job")
	}

	sched.mu.Lock()
	sched.running[created.ID] = false
	sched.mu.Unlock()
}

func TestDeleteRefusesWhileRunning(t *testing.T) {
	ctx := context.Background()
	sched, _, _ := newTestScheduler(t)

	job := models.ScheduledJob{Name: "lamps", Query: "lampe", IntervalSeconds: 3600, IsActive: false}
	created, err := sched.Add(ctx, job)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	sched.mu.Lock()
	sched.running[created.ID] = true
	sched.mu.Unlock()

	if err := sched.Delete(ctx, created.ID); err == nil {
		t.Fatal("expected delete to refuse a running job")
	}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	sched, _, _ := newTestScheduler(t)

	job := models.ScheduledJob{Name: "dup", Query: "q", IntervalSeconds: 3600, IsActive: false}
	if _, err := sched.Add(ctx, job); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := sched.Add(ctx, job); err == nil {
		t.Fatal("expected second add with the same name to fail")
	}
}
