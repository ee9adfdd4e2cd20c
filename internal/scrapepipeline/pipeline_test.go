package scrapepipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbrandt/adscout/internal/browserpool"
	"github.com/tbrandt/adscout/internal/errs"
	"github.com/tbrandt/adscout/internal/models"
)

type fakePool struct{}

func (fakePool) AcquireContext(ctx context.Context) (*browserpool.BrowserContext, error) { return nil, nil }
func (fakePool) ReleaseContext(bc *browserpool.BrowserContext)                           {}
func (fakePool) RunBounded(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}
func (fakePool) Metrics() browserpool.Metrics { return browserpool.Metrics{InPool: 2, InUse: 0} }
func (fakePool) Close()                       {}

type fakeSource struct {
	failPage     int
	failUntilTry int32
	attempts     int32
}

func (s *fakeSource) FetchList(ctx context.Context, q models.SearchParams, page int) ([]models.ListingSummary, error) {
	if page == s.failPage {
		n := atomic.AddInt32(&s.attempts, 1)
		if n <= s.failUntilTry {
			return nil, errs.New(errs.Network, "simulated network blip", nil)
		}
	}
	return []models.ListingSummary{{ExternalID: fmt.Sprintf("p%d-a", page), Title: "listing"}}, nil
}

func (s *fakeSource) FetchDetail(ctx context.Context, externalID string) (models.ListingDetail, error) {
	return models.ListingDetail{ExternalID: externalID, Title: "detail"}, nil
}

func TestRunRetriesRecoverablePageErrorThenSucceeds(t *testing.T) {
	src := &fakeSource{failPage: 3, failUntilTry: 1}
	p := New(fakePool{}, src, Options{RetryCount: 2, RandSource: rand.New(rand.NewSource(1))})

	outcome := p.Run(context.Background(), models.SearchParams{Query: "bikes", PageCount: 5})

	if outcome.PerformanceMetrics.PagesFailed != 0 {
		t.Fatalf("expected page 3 to recover via retry, got pages_failed=%d", outcome.PerformanceMetrics.PagesFailed)
	}
	if outcome.PerformanceMetrics.PagesSuccessful != 5 {
		t.Fatalf("expected all 5 pages successful, got %d", outcome.PerformanceMetrics.PagesSuccessful)
	}
}

func TestRunReportsPartialFailureWhenPageExhaustsRetries(t *testing.T) {
	src := &fakeSource{failPage: 3, failUntilTry: 100}
	p := New(fakePool{}, src, Options{RetryCount: 2, RandSource: rand.New(rand.NewSource(1))})

	outcome := p.Run(context.Background(), models.SearchParams{Query: "bikes", PageCount: 5})

	if outcome.PerformanceMetrics.PagesSuccessful != 4 || outcome.PerformanceMetrics.PagesFailed != 1 {
		t.Fatalf("expected 4 successful / 1 failed pages, got successful=%d failed=%d",
			outcome.PerformanceMetrics.PagesSuccessful, outcome.PerformanceMetrics.PagesFailed)
	}
	if !outcome.PartialSuccess {
		t.Fatal("expected partial success flag")
	}

	found := false
	for _, w := range outcome.Warnings {
		if w.Context == "list_fetch" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a list_fetch warning for the failed page")
	}
}

func TestRunDoesNotRetryNonRetryableErrors(t *testing.T) {
	src := &nonRetryableSource{}
	p := New(fakePool{}, src, Options{RetryCount: 3, RandSource: rand.New(rand.NewSource(1))})

	start := time.Now()
	outcome := p.Run(context.Background(), models.SearchParams{Query: "bikes", PageCount: 1})
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("expected no backoff sleep for a non-retryable error")
	}
	if outcome.PerformanceMetrics.PagesFailed != 1 {
		t.Fatalf("expected the single page to fail immediately, got failed=%d", outcome.PerformanceMetrics.PagesFailed)
	}
}

type nonRetryableSource struct{}

func (nonRetryableSource) FetchList(ctx context.Context, q models.SearchParams, page int) ([]models.ListingSummary, error) {
	return nil, errs.New(errs.Validation, "bad query", nil)
}
func (nonRetryableSource) FetchDetail(ctx context.Context, externalID string) (models.ListingDetail, error) {
	return models.ListingDetail{}, nil
}
