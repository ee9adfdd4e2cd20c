package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tbrandt/adscout/internal/logging"
	"github.com/tbrandt/adscout/internal/models"
	"github.com/tbrandt/adscout/internal/scheduler"
	"github.com/tbrandt/adscout/internal/store"
)

type stubRunner struct{}

func (stubRunner) RunJob(_ context.Context, _ models.ScheduledJob) models.PipelineOutcome {
	return models.PipelineOutcome{Success: true}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	registry := store.NewJobRegistry(db)
	listings := store.NewListingStore(db)
	sched := scheduler.New(registry, stubRunner{}, logging.Default())
	return NewServer(sched, listings)
}

func TestCreateAndListJobs(t *testing.T) {
	server := newTestServer(t)
	router := server.SetupRouter()

	body, _ := json.Marshal(map[string]any{
		"name":             "bikes-berlin",
		"query":            "fahrrad",
		"location":         "berlin",
		"page_count":       2,
		"interval_seconds": 900,
		"is_active":        true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
}

func TestCreateJobDuplicateNameIsBadRequest(t *testing.T) {
	server := newTestServer(t)
	router := server.SetupRouter()

	body, _ := json.Marshal(map[string]any{"name": "dup", "page_count": 1, "interval_seconds": 60})

	first := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	first.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	second.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, second)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on duplicate name, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListListingsEmpty(t *testing.T) {
	server := newTestServer(t)
	router := server.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	router := server.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
