package store

import (
	"context"
	"testing"

	"github.com/tbrandt/adscout/internal/models"
)

func newTestDB(t *testing.T) *ListingStore {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewListingStore(db)
}

func TestUpsertCreatesThenUpdatesSameExternalID(t *testing.T) {
	ctx := context.Background()
	store := newTestDB(t)

	summary := models.ListingSummary{ExternalID: "123", Title: "Bike", URL: "https://example.invalid/123", Image: "https://img.invalid/a.jpg"}
	detail := models.ListingDetail{ExternalID: "123", Title: "Bike", Images: []string{"https://img.invalid/a.jpg"}}

	res1, err := store.Upsert(ctx, store.db, summary, &detail, "job-1", models.SearchParams{Query: "bike"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !res1.WasCreated {
		t.Fatal("expected first upsert to create a new row")
	}
	if !res1.ImagesChanged {
		t.Fatal("expected first upsert to report images changed")
	}

	res2, err := store.Upsert(ctx, store.db, summary, &detail, "job-1", models.SearchParams{Query: "bike"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res2.WasCreated {
		t.Fatal("expected second upsert to update, not create")
	}
	if res2.ImagesChanged {
		t.Fatal("expected second upsert with identical images to report unchanged")
	}
	if res2.Listing.ID != res1.Listing.ID {
		t.Fatalf("expected stable id across upserts, got %d then %d", res1.Listing.ID, res2.Listing.ID)
	}
}

func TestUpsertDetectsImageSetChange(t *testing.T) {
	ctx := context.Background()
	store := newTestDB(t)

	summary := models.ListingSummary{ExternalID: "456", Title: "Couch"}
	d1 := models.ListingDetail{ExternalID: "456", Images: []string{"https://img.invalid/a.jpg"}}
	if _, err := store.Upsert(ctx, store.db, summary, &d1, "job-1", models.SearchParams{}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	d2 := models.ListingDetail{ExternalID: "456", Images: []string{"https://img.invalid/b.jpg"}}
	res, err := store.Upsert(ctx, store.db, summary, &d2, "job-1", models.SearchParams{})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !res.ImagesChanged {
		t.Fatal("expected changed image set to be detected")
	}
}

func TestMarkAndClearSuspicion(t *testing.T) {
	ctx := context.Background()
	store := newTestDB(t)

	summary := models.ListingSummary{ExternalID: "789", Title: "Lamp"}
	res, err := store.Upsert(ctx, store.db, summary, nil, "job-1", models.SearchParams{})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	confidence := 0.92
	if err := store.MarkSuspicion(ctx, store.db, res.Listing.ID, models.SuspicionDuplicateImage, &confidence, map[string]any{"matched_listing_id": 1}); err != nil {
		t.Fatalf("mark suspicion: %v", err)
	}

	got, err := store.GetByID(ctx, store.db, res.Listing.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if !got.IsSuspicious || got.SuspicionReason != models.SuspicionDuplicateImage {
		t.Fatalf("expected suspicious listing with reason set, got %+v", got)
	}

	if err := store.ClearSuspicion(ctx, store.db, res.Listing.ID); err != nil {
		t.Fatalf("clear suspicion: %v", err)
	}
	got, err = store.GetByID(ctx, store.db, res.Listing.ID)
	if err != nil {
		t.Fatalf("get by id after clear: %v", err)
	}
	if got.IsSuspicious || got.SuspicionReason != "" {
		t.Fatalf("expected suspicion cleared, got %+v", got)
	}
}

func TestListFiltersBySearchTerm(t *testing.T) {
	ctx := context.Background()
	store := newTestDB(t)

	for _, s := range []models.ListingSummary{
		{ExternalID: "1", Title: "Red Bike"},
		{ExternalID: "2", Title: "Blue Couch"},
	} {
		if _, err := store.Upsert(ctx, store.db, s, nil, "job-1", models.SearchParams{}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	listings, total, err := store.List(ctx, ListOptions{SearchTerm: "bike"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(listings) != 1 || listings[0].ExternalID != "1" {
		t.Fatalf("expected one matching listing, got total=%d listings=%+v", total, listings)
	}
}
