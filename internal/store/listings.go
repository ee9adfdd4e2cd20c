package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tbrandt/adscout/internal/errs"
	"github.com/tbrandt/adscout/internal/models"
)

// UpsertResult MIRRORS original_source/repositories/listings.py's ListingUpsertResult
type UpsertResult struct {
	Listing       models.Listing
	WasCreated    bool
	ImagesChanged bool
}

// ListingStore IS THE RAW-SQL PERSISTENCE LAYER FOR LISTINGS, GROUNDED IN
// original_source/repositories/listings.py
type ListingStore struct {
	db *sql.DB
}

// NewListingStore WRAPS db
func NewListingStore(db *sql.DB) *ListingStore {
	return &ListingStore{db: db}
}

// Upsert LOOKS UP BY external_id, UPDATES MUTABLE FIELDS, AND REPORTS WHETHER THE ROW WAS
// CREATED AND WHETHER ITS IMAGE SET CHANGED. q IS THE CALLER'S TRANSACTION.
func (s *ListingStore) Upsert(ctx context.Context, q Querier, summary models.ListingSummary, detail *models.ListingDetail, queryName string, params models.SearchParams) (UpsertResult, error) {
	externalID := summary.ExternalID
	if detail != nil && detail.ExternalID != "" {
		externalID = detail.ExternalID
	}
	if externalID == "" {
		return UpsertResult{}, errs.New(errs.Validation, "upsert requires a non-empty external_id", nil)
	}

	existing, err := s.getByExternalID(ctx, q, externalID)
	if err != nil && err != sql.ErrNoRows {
		return UpsertResult{}, fmt.Errorf("lookup existing listing: %w", err)
	}
	wasCreated := err == sql.ErrNoRows

	now := time.Now().UTC()

	listing := models.Listing{ExternalID: externalID}
	if !wasCreated {
		listing = *existing
	}

	title := summary.Title
	description := summary.Description
	price := models.Price{RawText: summary.PriceText}
	url := summary.URL
	status := models.StatusActive
	delivery := ""
	thumbnail := summary.Image
	var categories json.RawMessage
	var loc models.Location
	var seller, details, features, extraInfo json.RawMessage
	var newImages []string
	var postedRaw string

	if detail != nil {
		if detail.Title != "" {
			title = detail.Title
		}
		if detail.Description != "" {
			description = detail.Description
		}
		if detail.Status != "" {
			status = detail.Status
		}
		delivery = detail.Delivery
		loc = detail.Location
		price = detail.Price
		if price.RawText == "" {
			price.RawText = summary.PriceText
		}
		if len(detail.Categories) > 0 {
			categories, _ = json.Marshal(detail.Categories)
		}
		if detail.Seller != nil {
			seller, _ = json.Marshal(detail.Seller)
		}
		if detail.Details != nil {
			details, _ = json.Marshal(detail.Details)
		}
		if len(detail.Features) > 0 {
			features, _ = json.Marshal(detail.Features)
		}
		if detail.ExtraInfo != nil {
			extraInfo, _ = json.Marshal(detail.ExtraInfo)
			if v, ok := detail.ExtraInfo["created_at"]; ok {
				if s, ok := v.(string); ok {
					postedRaw = s
				}
			}
		}
		for _, img := range detail.Images {
			if img != "" {
				newImages = append(newImages, img)
			}
		}
	}
	if len(newImages) == 0 && summary.Image != "" {
		newImages = []string{summary.Image}
	}

	previousImages := map[string]struct{}{}
	for _, img := range listing.ImageURLs {
		previousImages[img] = struct{}{}
	}
	newImageSet := map[string]struct{}{}
	for _, img := range newImages {
		newImageSet[img] = struct{}{}
	}
	imagesChanged := wasCreated || !sameSet(previousImages, newImageSet)

	searchParamsJSON, _ := json.Marshal(params.SearchMetadata(queryName))

	var postedAt *time.Time
	postedAtText := listing.PostedAtRaw
	if postedRaw != "" {
		parsed, raw := models.ParsePostedAt(postedRaw, now)
		if parsed != nil || listing.PostedAtRaw == "" {
			postedAt = parsed
			postedAtText = raw
		} else {
			postedAt = listing.PostedAt
		}
	} else {
		postedAt = listing.PostedAt
	}

	firstSeen := listing.FirstSeenAt
	if wasCreated {
		firstSeen = now
	}

	imageURLsJSON, _ := json.Marshal(newImages)

	listing.Title = title
	listing.Description = description
	listing.Price = price
	listing.URL = url
	listing.Status = status
	listing.Delivery = delivery
	listing.Thumbnail = thumbnail
	listing.Categories = categories
	listing.Location = loc
	listing.Seller = seller
	listing.Details = details
	listing.Features = features
	listing.ExtraInfo = extraInfo
	listing.ImageURLs = newImages
	listing.QueryName = queryName
	listing.SearchParams = searchParamsJSON
	listing.FirstSeenAt = firstSeen
	listing.LastSeenAt = now
	listing.PostedAt = postedAt
	listing.PostedAtRaw = postedAtText
	listing.UpdatedAt = now
	if wasCreated {
		listing.CreatedAt = now
	}

	if wasCreated {
		res, err := q.ExecContext(ctx, `
			INSERT INTO listings (
				external_id, title, description, price_amount, price_currency, price_negotiable, price_raw_text,
				url, status, delivery, thumbnail, categories, location_zip, location_city, location_state,
				seller, details, features, extra_info, image_urls, query_name, search_params,
				first_seen_at, last_seen_at, posted_at, posted_at_text, created_at, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			externalID, title, description, price.Amount, price.Currency, price.Negotiable, price.RawText,
			url, status, nullableString(delivery), nullableString(thumbnail), nullableJSON(categories),
			nullableString(loc.Zip), nullableString(loc.City), nullableString(loc.State),
			nullableJSON(seller), nullableJSON(details), nullableJSON(features), nullableJSON(extraInfo),
			string(imageURLsJSON), nullableString(queryName), string(searchParamsJSON),
			firstSeen, now, nullableTime(postedAt), nullableString(postedAtText), now, now,
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("insert listing: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("read inserted listing id: %w", err)
		}
		listing.ID = id
	} else {
		_, err := q.ExecContext(ctx, `
			UPDATE listings SET
				title=?, description=?, price_amount=?, price_currency=?, price_negotiable=?, price_raw_text=?,
				url=?, status=?, delivery=?, thumbnail=?, categories=?, location_zip=?, location_city=?, location_state=?,
				seller=?, details=?, features=?, extra_info=?, image_urls=?, query_name=?, search_params=?,
				last_seen_at=?, posted_at=?, posted_at_text=?, updated_at=?
			WHERE id=?`,
			title, description, price.Amount, price.Currency, price.Negotiable, price.RawText,
			url, status, nullableString(delivery), nullableString(thumbnail), nullableJSON(categories),
			nullableString(loc.Zip), nullableString(loc.City), nullableString(loc.State),
			nullableJSON(seller), nullableJSON(details), nullableJSON(features), nullableJSON(extraInfo),
			string(imageURLsJSON), nullableString(queryName), string(searchParamsJSON),
			now, nullableTime(postedAt), nullableString(postedAtText), now,
			listing.ID,
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("update listing: %w", err)
		}
	}

	return UpsertResult{Listing: listing, WasCreated: wasCreated, ImagesChanged: imagesChanged}, nil
}

// ListOptions FILTERS THE List QUERY
type ListOptions struct {
	Limit      int
	Offset     int
	QueryName  string
	Status     string
	SearchTerm string
}

// List RETURNS A PAGE OF LISTINGS ORDERED BY last_seen_at DESC PLUS THE TOTAL MATCHED COUNT
func (s *ListingStore) List(ctx context.Context, opts ListOptions) ([]models.Listing, int, error) {
	where := []string{"1=1"}
	var args []any

	if opts.QueryName != "" {
		where = append(where, "query_name = ?")
		args = append(args, opts.QueryName)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.SearchTerm != "" {
		where = append(where, "(LOWER(COALESCE(title,'')) LIKE ? OR LOWER(COALESCE(description,'')) LIKE ?)")
		pattern := "%" + strings.ToLower(opts.SearchTerm) + "%"
		args = append(args, pattern, pattern)
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countArgs := append([]any(nil), args...)
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings WHERE "+whereClause, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count listings: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	queryArgs := append(append([]any(nil), args...), limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+` FROM listings WHERE `+whereClause+`
		ORDER BY last_seen_at DESC LIMIT ? OFFSET ?`, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// GetByExternalID LOOKS UP A LISTING BY ITS MARKETPLACE id
func (s *ListingStore) GetByExternalID(ctx context.Context, q Querier, externalID string) (*models.Listing, error) {
	return s.getByExternalID(ctx, q, externalID)
}

func (s *ListingStore) getByExternalID(ctx context.Context, q Querier, externalID string) (*models.Listing, error) {
	row := q.QueryRowContext(ctx, "SELECT "+listingColumns+" FROM listings WHERE external_id = ?", externalID)
	l, err := scanListing(row)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetByID LOOKS UP A LISTING BY ITS INTERNAL ID
func (s *ListingStore) GetByID(ctx context.Context, q Querier, id int64) (*models.Listing, error) {
	row := q.QueryRowContext(ctx, "SELECT "+listingColumns+" FROM listings WHERE id = ?", id)
	l, err := scanListing(row)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// MarkSuspicion FLAGS A LISTING AS SUSPICIOUS AND BUMPS last_analyzed_at
func (s *ListingStore) MarkSuspicion(ctx context.Context, q Querier, listingID int64, reason string, confidence *float64, meta any) error {
	now := time.Now().UTC()
	var metaJSON []byte
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal suspicion meta: %w", err)
		}
	}
	_, err := q.ExecContext(ctx, `
		UPDATE listings SET is_suspicious=1, suspicion_reason=?, suspicion_confidence=?, suspicion_meta=?, last_analyzed_at=?, updated_at=?
		WHERE id=?`,
		reason, confidence, nullableJSON(metaJSON), now, now, listingID)
	return err
}

// ClearSuspicion REMOVES ANY SUSPICION FLAG FROM A LISTING AND BUMPS last_analyzed_at
func (s *ListingStore) ClearSuspicion(ctx context.Context, q Querier, listingID int64) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		UPDATE listings SET is_suspicious=0, suspicion_reason=NULL, suspicion_confidence=NULL, suspicion_meta=NULL, last_analyzed_at=?, updated_at=?
		WHERE id=?`,
		now, now, listingID)
	return err
}

const listingColumns = `
	id, external_id, title, description, price_amount, price_currency, price_negotiable, price_raw_text,
	url, status, delivery, thumbnail, categories, location_zip, location_city, location_state,
	seller, details, features, extra_info, image_urls, query_name, search_params,
	first_seen_at, last_seen_at, posted_at, posted_at_text, created_at, updated_at,
	is_suspicious, suspicion_reason, suspicion_confidence, suspicion_meta, last_analyzed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (models.Listing, error) {
	var l models.Listing
	var description, url, delivery, thumbnail sql.NullString
	var priceAmount, priceCurrency, priceRawText sql.NullString
	var categories, seller, details, features, extraInfo, suspicionMeta sql.NullString
	var zip, city, state sql.NullString
	var queryName, searchParams sql.NullString
	var postedAt, lastAnalyzedAt sql.NullTime
	var postedAtText sql.NullString
	var suspicionReason sql.NullString
	var suspicionConfidence sql.NullFloat64
	var imageURLsJSON string

	err := row.Scan(
		&l.ID, &l.ExternalID, &l.Title, &description, &priceAmount, &priceCurrency, &l.Price.Negotiable, &priceRawText,
		&url, &l.Status, &delivery, &thumbnail, &categories, &zip, &city, &state,
		&seller, &details, &features, &extraInfo, &imageURLsJSON, &queryName, &searchParams,
		&l.FirstSeenAt, &l.LastSeenAt, &postedAt, &postedAtText, &l.CreatedAt, &l.UpdatedAt,
		&l.IsSuspicious, &suspicionReason, &suspicionConfidence, &suspicionMeta, &lastAnalyzedAt,
	)
	if err != nil {
		return models.Listing{}, err
	}

	l.Description = description.String
	l.URL = url.String
	l.Delivery = delivery.String
	l.Thumbnail = thumbnail.String
	l.QueryName = queryName.String
	l.Location = models.Location{Zip: zip.String, City: city.String, State: state.String}

	if priceAmount.Valid {
		amt := priceAmount.String
		l.Price.Amount = &amt
	}
	l.Price.Currency = priceCurrency.String
	l.Price.RawText = priceRawText.String

	if categories.Valid {
		l.Categories = json.RawMessage(categories.String)
	}
	if seller.Valid {
		l.Seller = json.RawMessage(seller.String)
	}
	if details.Valid {
		l.Details = json.RawMessage(details.String)
	}
	if features.Valid {
		l.Features = json.RawMessage(features.String)
	}
	if extraInfo.Valid {
		l.ExtraInfo = json.RawMessage(extraInfo.String)
	}
	if searchParams.Valid {
		l.SearchParams = json.RawMessage(searchParams.String)
	}
	if suspicionMeta.Valid {
		l.SuspicionMeta = json.RawMessage(suspicionMeta.String)
	}
	if suspicionReason.Valid {
		l.SuspicionReason = suspicionReason.String
	}
	if suspicionConfidence.Valid {
		c := suspicionConfidence.Float64
		l.SuspicionConfidence = &c
	}
	if postedAt.Valid {
		t := postedAt.Time
		l.PostedAt = &t
	}
	l.PostedAtRaw = postedAtText.String
	if lastAnalyzedAt.Valid {
		t := lastAnalyzedAt.Time
		l.LastAnalyzedAt = &t
	}

	if imageURLsJSON != "" {
		_ = json.Unmarshal([]byte(imageURLsJSON), &l.ImageURLs)
	}

	return l, nil
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
