// Package scrapepipeline orchestrates a two-phase list-then-detail scrape
// for one job: list pages run through the browser pool's bounded
// concurrency, then listing details are fetched through a generalised
// worker pool adapted from the teacher's internal/utils/worker_pool.go.
// Retry/backoff and partial-failure accounting follow spec.md §4.C.
package scrapepipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/tbrandt/adscout/internal/browserpool"
	"github.com/tbrandt/adscout/internal/errs"
	"github.com/tbrandt/adscout/internal/geocode"
	"github.com/tbrandt/adscout/internal/listingsource"
	"github.com/tbrandt/adscout/internal/models"
)

// Options CONFIGURES ONE Pipeline INSTANCE
type Options struct {
	RetryCount     int
	MaxPages       int
	Gazetteer      *geocode.Gazetteer
	RandSource     *rand.Rand // OVERRIDABLE FOR DETERMINISTIC TESTS; NIL GETS A NEW TIME-SEEDED SOURCE
}

func (o Options) withDefaults() Options {
	if o.RetryCount <= 0 {
		o.RetryCount = 2
	}
	if o.RandSource == nil {
		o.RandSource = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// Pipeline RUNS THE TWO-PHASE SCRAPE FOR ONE JOB AGAINST A SHARED Source/Pool
type Pipeline struct {
	pool   browserpool.Pool
	source listingsource.Source
	opts   Options
	mu     sync.Mutex // GUARDS opts.RandSource, WHICH IS NOT SAFE FOR CONCURRENT USE
}

// New CONSTRUCTS A Pipeline OVER A SHARED Source AND Pool
func New(pool browserpool.Pool, source listingsource.Source, opts Options) *Pipeline {
	return &Pipeline{pool: pool, source: source, opts: opts.withDefaults()}
}

// Run EXECUTES ONE FULL SCRAPE FOR params, RETURNING THE OUTCOME ENVELOPE spec.md §4.C DEFINES
func (p *Pipeline) Run(ctx context.Context, params models.SearchParams) models.PipelineOutcome {
	start := time.Now()
	pageCount := params.PageCount
	if pageCount <= 0 {
		pageCount = 1
	}
	if p.opts.MaxPages > 0 && pageCount > p.opts.MaxPages {
		pageCount = p.opts.MaxPages
	}

	summaries, pageWarnings, pagesOK, pagesFailed, pageTimings := p.fetchListPages(ctx, params, pageCount)

	deduped := dedupeSummaries(summaries)

	results, detailWarnings, detailOK, detailFailed := p.fetchDetails(ctx, deduped)

	results, filterWarning := p.applyRadiusFilter(params, results)

	warnings := append(pageWarnings, detailWarnings...)
	if filterWarning != nil {
		warnings = append(warnings, *filterWarning)
	}
	warnings = append(warnings, partialFailureWarnings(pagesOK, pagesFailed, detailOK, detailFailed)...)

	metrics := models.PerformanceMetrics{
		PagesRequested:       pageCount,
		PagesSuccessful:      pagesOK,
		PagesFailed:          pagesFailed,
		DetailSuccesses:      detailOK,
		DetailFailures:       detailFailed,
		WallTimeSeconds:      time.Since(start).Seconds(),
		MaxConcurrentReached: p.pool.Metrics().MaxConcurrentReached,
		PageTimingsSeconds:   pageTimings,
	}

	success := pagesOK > 0
	partial := success && (pagesFailed > 0 || detailFailed > 0)

	outcome := models.PipelineOutcome{
		Success:            success,
		PartialSuccess:      partial,
		Results:            results,
		Warnings:           warnings,
		PerformanceMetrics: metrics,
	}
	if !success {
		outcome.Error = "all list pages failed"
	}
	return outcome
}

func (p *Pipeline) fetchListPages(ctx context.Context, params models.SearchParams, pageCount int) ([]models.ListingSummary, []models.ScrapeWarning, int, int, []float64) {
	type pageResult struct {
		page      int
		summaries []models.ListingSummary
		err       error
		duration  float64
	}

	results := make([]pageResult, pageCount)
	var wg sync.WaitGroup
	for page := 1; page <= pageCount; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			pageStart := time.Now()
			summaries, err := p.runWithRetry(ctx, func(ctx context.Context) ([]models.ListingSummary, error) {
				var out []models.ListingSummary
				runErr := p.pool.RunBounded(ctx, func(ctx context.Context) error {
					var innerErr error
					out, innerErr = p.source.FetchList(ctx, params, page)
					return innerErr
				})
				return out, runErr
			})
			results[page-1] = pageResult{page: page, summaries: summaries, err: err, duration: time.Since(pageStart).Seconds()}
		}(page)
	}
	wg.Wait()

	var summaries []models.ListingSummary
	var warnings []models.ScrapeWarning
	var ok, failed int
	var timings []float64
	for _, r := range results {
		timings = append(timings, r.duration)
		if r.err != nil {
			failed++
			warnings = append(warnings, models.ScrapeWarning{
				Message:  fmt.Sprintf("page %d failed: %v", r.page, r.err),
				Severity: errs.SeverityHigh,
				Context:  "list_fetch",
			})
			continue
		}
		ok++
		summaries = append(summaries, r.summaries...)
	}
	return summaries, warnings, ok, failed, timings
}

func dedupeSummaries(in []models.ListingSummary) []models.ListingSummary {
	seen := map[string]bool{}
	var out []models.ListingSummary
	for _, s := range in {
		if s.ExternalID == "" || seen[s.ExternalID] {
			continue
		}
		seen[s.ExternalID] = true
		out = append(out, s)
	}
	return out
}

// detailWorkerCount IMPLEMENTS spec.md §4.C's SIZING FORMULA
func detailWorkerCount(requested, availableContexts, listings int) int {
	n := requested
	if availableContexts < n {
		n = availableContexts
	}
	if listings < n {
		n = listings
	}
	if n <= 0 {
		n = 1
	}
	switch {
	case listings <= 3 && n > 2:
		n = 2
	case listings <= 10 && n > 3:
		n = 3
	}
	return n
}

func (p *Pipeline) fetchDetails(ctx context.Context, summaries []models.ListingSummary) ([]models.ScrapeResult, []models.ScrapeWarning, int, int) {
	if len(summaries) == 0 {
		return nil, nil, 0, 0
	}

	metrics := p.pool.Metrics()
	workers := detailWorkerCount(len(summaries), metrics.InPool+metrics.InUse+1, len(summaries))

	type job struct {
		index   int
		summary models.ListingSummary
	}
	type outcome struct {
		index   int
		result  models.ScrapeResult
		retried bool
	}

	jobs := make(chan job, len(summaries))
	outcomes := make(chan outcome, len(summaries))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				attempts := 0
				detail, err := p.runWithRetryCounting(ctx, func(ctx context.Context) (models.ListingDetail, error) {
					var d models.ListingDetail
					runErr := p.pool.RunBounded(ctx, func(ctx context.Context) error {
						var innerErr error
						d, innerErr = p.source.FetchDetail(ctx, j.summary.ExternalID)
						return innerErr
					})
					return d, runErr
				}, &attempts)

				res := models.ScrapeResult{Summary: j.summary}
				if err != nil {
					res.Warnings = append(res.Warnings, models.ScrapeWarning{
						Message:       fmt.Sprintf("detail fetch failed for %s: %v", j.summary.ExternalID, err),
						Severity:      errs.SeverityMedium,
						Context:       "detail_fetch",
						AffectedItems: []string{j.summary.ExternalID},
					})
					outcomes <- outcome{index: j.index, result: res}
					continue
				}
				res.Detail = &detail
				outcomes <- outcome{index: j.index, result: res, retried: attempts > 1}
			}
		}()
	}

	for i, s := range summaries {
		jobs <- job{index: i, summary: s}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	results := make([]models.ScrapeResult, len(summaries))
	var ok, failed int
	var warnings []models.ScrapeWarning
	for o := range outcomes {
		results[o.index] = o.result
		if o.result.Detail != nil {
			ok++
			if o.retried {
				warnings = append(warnings, models.ScrapeWarning{
					Message:       fmt.Sprintf("detail fetch for %s succeeded after retry", o.result.Summary.ExternalID),
					Severity:      errs.SeverityLow,
					Context:       "detail_fetch_retry",
					AffectedItems: []string{o.result.Summary.ExternalID},
				})
			}
		} else {
			failed++
		}
	}
	return results, warnings, ok, failed
}

// runWithRetry RETRIES op UP TO opts.RetryCount TIMES WITH EXPONENTIAL BACKOFF PLUS JITTER,
// ONLY WHEN THE ERROR'S CLASSIFICATION IS network|resource|recoverable PER spec.md §4.C.
func (p *Pipeline) runWithRetry(ctx context.Context, op func(ctx context.Context) ([]models.ListingSummary, error)) ([]models.ListingSummary, error) {
	var lastErr error
	for attempt := 0; attempt <= p.opts.RetryCount; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryableClassification(errs.Classify(err)) {
			return nil, err
		}
		if attempt == p.opts.RetryCount {
			break
		}
		p.sleepBackoff(ctx, attempt)
	}
	return nil, lastErr
}

func (p *Pipeline) runWithRetryCounting(ctx context.Context, op func(ctx context.Context) (models.ListingDetail, error), attempts *int) (models.ListingDetail, error) {
	var lastErr error
	for attempt := 0; attempt <= p.opts.RetryCount; attempt++ {
		*attempts++
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryableClassification(errs.Classify(err)) {
			return models.ListingDetail{}, err
		}
		if attempt == p.opts.RetryCount {
			break
		}
		p.sleepBackoff(ctx, attempt)
	}
	return models.ListingDetail{}, lastErr
}

func retryableClassification(c errs.Classification) bool {
	switch c {
	case errs.Network, errs.Resource, errs.Recoverable:
		return true
	default:
		return false
	}
}

func (p *Pipeline) sleepBackoff(ctx context.Context, attempt int) {
	p.mu.Lock()
	jitter := p.opts.RandSource.Float64()
	p.mu.Unlock()

	delay := time.Duration((math.Pow(2, float64(attempt)) + jitter) * float64(time.Second))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// partialFailureWarnings APPLIES spec.md §4.C's SUCCESS-RATE THRESHOLDS
func partialFailureWarnings(pagesOK, pagesFailed, detailOK, detailFailed int) []models.ScrapeWarning {
	var warnings []models.ScrapeWarning

	if totalPages := pagesOK + pagesFailed; totalPages > 0 {
		if w := thresholdWarning(float64(pagesOK)/float64(totalPages), "list pages"); w != nil {
			warnings = append(warnings, *w)
		}
	}
	if totalDetails := detailOK + detailFailed; totalDetails > 0 {
		if w := thresholdWarning(float64(detailOK)/float64(totalDetails), "listing details"); w != nil {
			warnings = append(warnings, *w)
		}
	}
	return warnings
}

func thresholdWarning(successRate float64, context string) *models.ScrapeWarning {
	switch {
	case successRate < 0.5:
		return &models.ScrapeWarning{
			Message:  fmt.Sprintf("%s succeeded at %.0f%%, below 50%%", context, successRate*100),
			Severity: errs.SeverityHigh,
			Context:  context,
			Impact:   "results are substantially incomplete",
		}
	case successRate < 0.8:
		return &models.ScrapeWarning{
			Message:  fmt.Sprintf("%s succeeded at %.0f%%, below 80%%", context, successRate*100),
			Severity: errs.SeverityMedium,
			Context:  context,
			Impact:   "results may be incomplete",
		}
	default:
		return nil
	}
}

// applyRadiusFilter KEEPS ONLY RESULTS WITHIN params.Radius KM OF THE RESOLVED ORIGIN, WHEN
// A RADIUS AND GAZETTEER ARE BOTH AVAILABLE
func (p *Pipeline) applyRadiusFilter(params models.SearchParams, results []models.ScrapeResult) ([]models.ScrapeResult, *models.ScrapeWarning) {
	if params.Radius == nil || p.opts.Gazetteer == nil || params.Location == "" {
		return results, nil
	}

	origin, ok := p.opts.Gazetteer.Resolve(params.Location, params.Location)
	if !ok {
		warning := models.ScrapeWarning{
			Message:  fmt.Sprintf("could not resolve origin %q for radius filter", params.Location),
			Severity: errs.SeverityLow,
			Context:  "radius_filter",
			Impact:   "radius filter skipped",
		}
		return results, &warning
	}

	var kept []models.ScrapeResult
	keptN, excludedN, missingN := 0, 0, 0
	for _, r := range results {
		var zip, city string
		if r.Detail != nil {
			zip, city = r.Detail.Location.Zip, r.Detail.Location.City
		}
		if zip == "" && city == "" {
			missingN++
			kept = append(kept, r)
			continue
		}
		point, ok := p.opts.Gazetteer.Resolve(zip, city)
		if !ok {
			missingN++
			kept = append(kept, r)
			continue
		}
		if geocode.WithinRadius(origin, point, *params.Radius) {
			keptN++
			kept = append(kept, r)
		} else {
			excludedN++
		}
	}

	warning := models.ScrapeWarning{
		Message:  fmt.Sprintf("radius filter kept %d, excluded %d, missing location for %d", keptN, excludedN, missingN),
		Severity: errs.SeverityLow,
		Context:  "radius_filter",
	}
	return kept, &warning
}
