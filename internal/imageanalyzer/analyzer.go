// Package imageanalyzer consumes ListingImagesUpdated events, computes a
// perceptual hash for each image, and flags duplicate-image listings by
// Hamming distance. Grounded in original_source/services/image_analyzer.py,
// translated from an asyncio queue + single consumer task into a buffered
// Go channel drained by one goroutine.
package imageanalyzer

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbrandt/adscout/internal/errs"
	"github.com/tbrandt/adscout/internal/eventbus"
	"github.com/tbrandt/adscout/internal/logging"
	"github.com/tbrandt/adscout/internal/mime"
	"github.com/tbrandt/adscout/internal/models"
	"github.com/tbrandt/adscout/internal/store"
)

// HashBitLength IS THE FIXED WIDTH OF A phash, A CONSTANT OF THE ALGORITHM ITSELF
const HashBitLength = 64

// Options CONFIGURES AN Analyzer
type Options struct {
	QueueSize        int
	ParallelFetch    int
	PhashThreshold   int
	MaxImageBytes    int64
	FetchTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.ParallelFetch <= 0 {
		o.ParallelFetch = 3
	}
	if o.PhashThreshold <= 0 {
		o.PhashThreshold = 5
	}
	if o.MaxImageBytes <= 0 {
		o.MaxImageBytes = 10_000_000
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	return o
}

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "image_analysis_events_total",
		Help: "Count of ListingImagesUpdated events processed by the image analyzer.",
	}, []string{"status"})

	durationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "image_analysis_duration_seconds",
		Help:    "Time spent analyzing one listing's image set.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(eventsTotal, durationSeconds)
}

// Analyzer OWNS A BOUNDED QUEUE OF PENDING ListingImagesUpdated EVENTS AND A SINGLE WORKER GOROUTINE
type Analyzer struct {
	db           *sql.DB
	listings     *store.ListingStore
	fingerprints *store.FingerprintStore
	bus          *eventbus.Bus
	log          *logging.Logger
	httpClient   *http.Client
	opts         Options

	queue chan eventbus.ListingImagesUpdated
	done  chan struct{}
}

// New CONSTRUCTS AN Analyzer. Start MUST BE CALLED TO BEGIN DRAINING THE QUEUE.
func New(db *sql.DB, listings *store.ListingStore, fingerprints *store.FingerprintStore, bus *eventbus.Bus, log *logging.Logger, opts Options) *Analyzer {
	opts = opts.withDefaults()
	return &Analyzer{
		db:           db,
		listings:     listings,
		fingerprints: fingerprints,
		bus:          bus,
		log:          log,
		httpClient:   &http.Client{Timeout: opts.FetchTimeout},
		opts:         opts,
		queue:        make(chan eventbus.ListingImagesUpdated, opts.QueueSize),
		done:         make(chan struct{}),
	}
}

// Start SUBSCRIBES TO ListingImagesUpdated AND LAUNCHES THE SINGLE CONSUMER WORKER
func (a *Analyzer) Start(ctx context.Context) {
	a.bus.Subscribe(eventbus.ListingImagesUpdated{}, func(ctx context.Context, event any) error {
		evt, ok := event.(eventbus.ListingImagesUpdated)
		if !ok {
			return fmt.Errorf("imageanalyzer: unexpected event type %T", event)
		}
		select {
		case a.queue <- evt:
			return nil
		default:
			return fmt.Errorf("imageanalyzer: queue full, dropping event for listing %d", evt.ListingID)
		}
	})

	go a.worker(ctx)
}

// Stop CLOSES THE QUEUE AND WAITS FOR THE WORKER TO DRAIN IT
func (a *Analyzer) Stop() {
	close(a.queue)
	<-a.done
}

func (a *Analyzer) worker(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case evt, ok := <-a.queue:
			if !ok {
				return
			}
			a.process(ctx, evt)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Analyzer) process(ctx context.Context, evt eventbus.ListingImagesUpdated) {
	start := time.Now()
	status := "success"
	defer func() {
		durationSeconds.WithLabelValues(status).Observe(time.Since(start).Seconds())
		eventsTotal.WithLabelValues(status).Inc()
	}()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		status = "error"
		a.log.Warn("imageanalyzer: failed to begin transaction", map[string]any{"listing_id": evt.ListingID, "error": err.Error()})
		return
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	listing, err := a.listings.GetByID(ctx, tx, evt.ListingID)
	if err != nil {
		status = "error"
		if err == sql.ErrNoRows {
			a.log.Debug("imageanalyzer: listing disappeared before analysis", map[string]any{"listing_id": evt.ListingID})
			return
		}
		a.log.Warn("imageanalyzer: failed to load listing", map[string]any{"listing_id": evt.ListingID, "error": err.Error()})
		return
	}

	if len(listing.ImageURLs) == 0 {
		if err := a.listings.ClearSuspicion(ctx, tx, listing.ID); err != nil {
			status = "error"
			a.log.Warn("imageanalyzer: failed to clear suspicion", map[string]any{"listing_id": evt.ListingID, "error": err.Error()})
			return
		}
		if err := tx.Commit(); err != nil {
			status = "error"
			return
		}
		committed = true
		a.publishCompleted(listing, false, "", nil, nil)
		return
	}

	if err := a.fingerprints.DeleteForListing(ctx, tx, listing.ID); err != nil {
		status = "error"
		a.log.Warn("imageanalyzer: failed to clear old fingerprints", map[string]any{"listing_id": evt.ListingID, "error": err.Error()})
		return
	}

	candidates, err := a.fingerprints.ListAll(ctx, tx, listing.ID)
	if err != nil {
		status = "error"
		a.log.Warn("imageanalyzer: failed to load candidate fingerprints", map[string]any{"listing_id": evt.ListingID, "error": err.Error()})
		return
	}

	matchesByCandidateListing := map[int64][]eventbus.MatchedListing{}
	var ownMatches []eventbus.MatchedListing
	externalIDCache := map[int64]string{}

	sem := make(chan struct{}, a.opts.ParallelFetch)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, imgURL := range listing.ImageURLs {
		wg.Add(1)
		sem <- struct{}{}
		go func(imgURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			bits, width, height, size, err := a.hashImage(ctx, imgURL)
			if err != nil {
				a.log.Debug("imageanalyzer: image fetch/hash failed", map[string]any{"listing_id": listing.ID, "image_url": imgURL, "error": err.Error()})
				return
			}

			fp := models.ImageFingerprint{
				ListingID:  listing.ID,
				ImageURL:   imgURL,
				HashMethod: "phash",
				HashBits:   bits,
				Width:      width,
				Height:     height,
				FileSize:   size,
			}

			mu.Lock()
			defer mu.Unlock()
			saved, err := a.fingerprints.Add(ctx, tx, fp)
			if err != nil {
				a.log.Warn("imageanalyzer: failed to persist fingerprint", map[string]any{"listing_id": listing.ID, "error": err.Error()})
				return
			}
			for _, c := range candidates {
				dist := hammingDistance(saved.HashBits, c.HashBits)
				if dist > a.opts.PhashThreshold {
					continue
				}
				candidateExternalID, ok := externalIDCache[c.ListingID]
				if !ok {
					if cl, err := a.listings.GetByID(ctx, tx, c.ListingID); err == nil {
						candidateExternalID = cl.ExternalID
					}
					externalIDCache[c.ListingID] = candidateExternalID
				}
				ownMatches = append(ownMatches, eventbus.MatchedListing{
					ListingID: c.ListingID, ExternalID: candidateExternalID, ImageURL: c.ImageURL, HashHex: c.HashHex, HammingDistance: dist,
				})
				matchesByCandidateListing[c.ListingID] = append(matchesByCandidateListing[c.ListingID], eventbus.MatchedListing{
					ListingID: listing.ID, ExternalID: listing.ExternalID, ImageURL: imgURL, HashHex: saved.HashHex, HammingDistance: dist,
				})
			}
		}(imgURL)
	}
	wg.Wait()

	var reason string
	var confidence *float64
	if len(ownMatches) > 0 {
		reason = models.SuspicionDuplicateImage
		c := confidenceFromMatches(ownMatches)
		confidence = &c
		meta := suspicionMeta(a.opts.PhashThreshold, ownMatches)
		if err := a.listings.MarkSuspicion(ctx, tx, listing.ID, reason, confidence, meta); err != nil {
			status = "error"
			a.log.Warn("imageanalyzer: failed to mark suspicion", map[string]any{"listing_id": evt.ListingID, "error": err.Error()})
			return
		}
	} else {
		if err := a.listings.ClearSuspicion(ctx, tx, listing.ID); err != nil {
			status = "error"
			a.log.Warn("imageanalyzer: failed to clear suspicion", map[string]any{"listing_id": evt.ListingID, "error": err.Error()})
			return
		}
	}

	for counterpartID, matches := range matchesByCandidateListing {
		c := confidenceFromMatches(matches)
		meta := suspicionMeta(a.opts.PhashThreshold, matches)
		if err := a.listings.MarkSuspicion(ctx, tx, counterpartID, models.SuspicionDuplicateImage, &c, meta); err != nil {
			a.log.Warn("imageanalyzer: failed to propagate suspicion", map[string]any{"counterpart_listing_id": counterpartID, "error": err.Error()})
		}
	}

	if err := tx.Commit(); err != nil {
		status = "error"
		a.log.Warn("imageanalyzer: failed to commit analysis", map[string]any{"listing_id": evt.ListingID, "error": err.Error()})
		return
	}
	committed = true

	a.publishCompleted(listing, reason != "", reason, confidence, ownMatches)
}

func (a *Analyzer) publishCompleted(listing *models.Listing, suspicious bool, reason string, confidence *float64, matches []eventbus.MatchedListing) {
	a.bus.Publish(eventbus.ListingAnalysisCompleted{
		ListingID:    listing.ID,
		ExternalID:   listing.ExternalID,
		IsSuspicious: suspicious,
		Reason:       reason,
		Confidence:   confidence,
		Matches:      matches,
		AnalyzedAt:   time.Now().UTC(),
	})
}

func (a *Analyzer) hashImage(ctx context.Context, imgURL string) (bits uint64, width, height, size int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL, nil)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, 0, 0, 0, errs.New(errs.Network, "image download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, 0, 0, 0, errs.New(errs.HTTPStatusClass(resp.StatusCode), fmt.Sprintf("image fetch returned status %d", resp.StatusCode), nil)
	}

	category := mime.ClassifyContentType(resp.Header.Get("Content-Type"))
	if category != mime.CategoryImage && category != mime.CategoryBinary {
		return 0, 0, 0, 0, errs.New(errs.Validation, fmt.Sprintf("unexpected content category %q for image url", category), nil)
	}

	limited := io.LimitReader(resp.Body, a.opts.MaxImageBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return 0, 0, 0, 0, errs.New(errs.Network, "image body read failed", err)
	}
	if int64(len(data)) > a.opts.MaxImageBytes {
		return 0, 0, 0, 0, errs.New(errs.Validation, "image exceeds max_image_bytes", nil)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, 0, 0, errs.New(errs.Parsing, "image decode failed", err)
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, 0, 0, 0, errs.New(errs.Parsing, "perceptual hash failed", err)
	}

	bounds := img.Bounds()
	return hash.GetHash(), bounds.Dx(), bounds.Dy(), len(data), nil
}

func hammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}

// confidenceFromMatches IMPLEMENTS confidence = 1 - min(distance)/64, ROUNDED TO 3 DECIMALS
func confidenceFromMatches(matches []eventbus.MatchedListing) float64 {
	min := HashBitLength
	for _, m := range matches {
		if m.HammingDistance < min {
			min = m.HammingDistance
		}
	}
	c := 1 - float64(min)/float64(HashBitLength)
	return float64(int(c*1000+0.5)) / 1000
}

func suspicionMeta(threshold int, matches []eventbus.MatchedListing) map[string]any {
	sorted := append([]eventbus.MatchedListing(nil), matches...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].HammingDistance < sorted[j].HammingDistance })
	return map[string]any{
		"hash_method": "phash",
		"threshold":   threshold,
		"matches":     sorted,
	}
}
