package models

import (
	"encoding/json"
	"time"
)

// LISTING STATUS VALUES
const (
	StatusActive   = "active"
	StatusReserved = "reserved"
	StatusSold     = "sold"
	StatusDeleted  = "deleted"
)

// DELIVERY MODE VALUES
const (
	DeliveryPickup   = "pickup"
	DeliveryShipping = "shipping"
)

// SUSPICION REASON VALUES
const (
	SuspicionDuplicateImage = "duplicate-image"
)

// PRICE IS THE NORMALISED DECIMAL PRICE BLOCK FOR A LISTING
type Price struct {
	Amount     *string `json:"amount,omitempty"` // NORMALISED DECIMAL STRING, NEVER FLOAT
	Currency   string  `json:"currency,omitempty"`
	Negotiable bool    `json:"negotiable,omitempty"`
	RawText    string  `json:"raw_text,omitempty"`
}

// LOCATION IS A LISTING'S GEOGRAPHIC CONTEXT
type Location struct {
	Zip   string `json:"zip,omitempty"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

// LISTING IS THE CANONICAL RECORD FOR ONE AD
type Listing struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       Price  `json:"price"`
	URL         string `json:"url,omitempty"`
	Status      string `json:"status"`
	Delivery    string `json:"delivery,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`

	Categories json.RawMessage `json:"categories,omitempty"`
	Location   Location        `json:"location"`
	Seller     json.RawMessage `json:"seller,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	Features   json.RawMessage `json:"features,omitempty"`
	ExtraInfo  json.RawMessage `json:"extra_info,omitempty"`

	ImageURLs    []string        `json:"image_urls"`
	QueryName    string          `json:"query_name,omitempty"`
	SearchParams json.RawMessage `json:"search_params,omitempty"`

	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	PostedAtRaw string     `json:"posted_at_text,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	IsSuspicious        bool            `json:"is_suspicious"`
	SuspicionReason     string          `json:"suspicion_reason,omitempty"`
	SuspicionConfidence *float64        `json:"suspicion_confidence,omitempty"`
	SuspicionMeta       json.RawMessage `json:"suspicion_meta,omitempty"`
	LastAnalyzedAt      *time.Time      `json:"last_analyzed_at,omitempty"`
}

// IMAGEFINGERPRINT IS ONE ROW PER LISTING IMAGE
type ImageFingerprint struct {
	ID         int64     `json:"id"`
	ListingID  int64     `json:"listing_id"`
	ImageURL   string    `json:"image_url"`
	HashMethod string    `json:"hash_method"`
	HashHex    string    `json:"hash_hex"`
	HashBits   uint64    `json:"hash_bits"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	FileSize   int       `json:"file_size,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SCHEDULEDJOB IS A DURABLE JOB CONFIGURATION
type ScheduledJob struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	Query     string   `json:"query,omitempty"`
	Location  string   `json:"location,omitempty"`
	Radius    *float64 `json:"radius,omitempty"`
	MinPrice  *float64 `json:"min_price,omitempty"`
	MaxPrice  *float64 `json:"max_price,omitempty"`
	PageCount int      `json:"page_count"`

	IntervalSeconds int  `json:"interval_seconds"`
	IsActive        bool `json:"is_active"`

	LastRunAt              *time.Time `json:"last_run_at,omitempty"`
	NextRunAt              *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus          string     `json:"last_run_status,omitempty"`
	LastRunMessage         string     `json:"last_run_message,omitempty"`
	LastRunDurationSeconds float64    `json:"last_run_duration_seconds,omitempty"`
	LastResultCount        int        `json:"last_result_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PARAMSDICT RETURNS THE JOB'S SEARCH PARAMS AS A PLAIN MAP (MIRRORS THE SOURCE'S params_dict)
func (j *ScheduledJob) ParamsDict() map[string]any {
	m := map[string]any{
		"query":      j.Query,
		"location":   j.Location,
		"page_count": j.PageCount,
	}
	if j.Radius != nil {
		m["radius"] = *j.Radius
	}
	if j.MinPrice != nil {
		m["min_price"] = *j.MinPrice
	}
	if j.MaxPrice != nil {
		m["max_price"] = *j.MaxPrice
	}
	return m
}

// SEARCHPARAMS ARE THE QUERY PARAMETERS A JOB OR AD-HOC SEARCH USES
type SearchParams struct {
	Query     string   `json:"query,omitempty"`
	Location  string   `json:"location,omitempty"`
	Radius    *float64 `json:"radius,omitempty"`
	MinPrice  *float64 `json:"min_price,omitempty"`
	MaxPrice  *float64 `json:"max_price,omitempty"`
	PageCount int      `json:"page_count"`
}

// SEARCHMETADATA MERGES PARAMS WITH THE JOB NAME, STORED VERBATIM ON EACH UPSERTED LISTING
func (s SearchParams) SearchMetadata(jobName string) map[string]any {
	m := map[string]any{
		"name":       jobName,
		"query":      s.Query,
		"location":   s.Location,
		"page_count": s.PageCount,
	}
	if s.Radius != nil {
		m["radius"] = *s.Radius
	}
	if s.MinPrice != nil {
		m["min_price"] = *s.MinPrice
	}
	if s.MaxPrice != nil {
		m["max_price"] = *s.MaxPrice
	}
	return m
}

// LISTINGSUMMARY IS THE CARD-LEVEL RECORD FROM A SEARCH RESULTS PAGE
type ListingSummary struct {
	ExternalID  string `json:"external_id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	PriceText   string `json:"price_text,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// LISTINGDETAIL IS THE FULL RECORD FROM THE LISTING'S OWN PAGE
type ListingDetail struct {
	ExternalID  string         `json:"id"`
	Categories  []string       `json:"categories,omitempty"`
	Title       string         `json:"title"`
	Status      string         `json:"status"`
	Price       Price          `json:"price"`
	Description string         `json:"description,omitempty"`
	Images      []string       `json:"images,omitempty"`
	Seller      map[string]any `json:"seller,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Features    []string       `json:"features,omitempty"`
	Delivery    string         `json:"delivery,omitempty"`
	Location    Location       `json:"location,omitempty"`
	ExtraInfo   map[string]any `json:"extra_info,omitempty"`
}

// SCRAPEWARNING IS A STRUCTURED PARTIAL-FAILURE NOTE
type ScrapeWarning struct {
	Message       string   `json:"message"`
	Severity      string   `json:"severity"` // low|medium|high
	Context       string   `json:"context,omitempty"`
	AffectedItems []string `json:"affected_items,omitempty"`
	Impact        string   `json:"impact,omitempty"`
}

// SCRAPERESULT PAIRS A SUMMARY WITH ITS OPTIONAL DETAIL AND WARNINGS
type ScrapeResult struct {
	Summary  ListingSummary  `json:"summary"`
	Detail   *ListingDetail  `json:"detail,omitempty"`
	Warnings []ScrapeWarning `json:"warnings,omitempty"`
}

// PERFORMANCEMETRICS SUMMARISES ONE PIPELINE RUN
type PerformanceMetrics struct {
	PagesRequested       int       `json:"pages_requested"`
	PagesSuccessful      int       `json:"pages_successful"`
	PagesFailed          int       `json:"pages_failed"`
	DetailSuccesses      int       `json:"detail_successes"`
	DetailFailures       int       `json:"detail_failures"`
	WallTimeSeconds      float64   `json:"wall_time_seconds"`
	MaxConcurrentReached int       `json:"max_concurrent_reached"`
	PageTimingsSeconds   []float64 `json:"page_timings_seconds,omitempty"`
}

// PIPELINEOUTCOME IS THE RESULT ENVELOPE FOR ONE SCRAPE RUN
type PipelineOutcome struct {
	Success            bool               `json:"success"`
	PartialSuccess     bool               `json:"partial_success"`
	Results            []ScrapeResult     `json:"results"`
	Warnings           []ScrapeWarning    `json:"warnings,omitempty"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	BrowserMetrics     map[string]any     `json:"browser_metrics,omitempty"`
	Error              string             `json:"error,omitempty"`

	// UpsertedCount IS THE NUMBER OF Results THAT WERE SUCCESSFULLY PERSISTED, FILLED IN
	// BY THE scheduler.Runner AFTER Results IS PERSISTED — NOT BY THE PIPELINE ITSELF,
	// WHICH HAS NO STORE ACCESS. PER spec.md §4.H, last_result_count RECORDS THIS, NOT
	// len(Results).
	UpsertedCount int `json:"upserted_count"`
}
