package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tbrandt/adscout/internal/models"
)

// FingerprintStore IS THE RAW-SQL PERSISTENCE LAYER FOR PERCEPTUAL IMAGE HASHES, GROUNDED
// IN original_source/repositories/fingerprints.py.
//
// PER SPEC_FULL.md §9 OPEN QUESTION 3, hash_bits IS THE SOURCE OF TRUTH: hash_hex IS ALWAYS
// DERIVED FROM IT ON WRITE, NEVER ACCEPTED INDEPENDENTLY (THE PYTHON ORIGINAL DOES THE
// REVERSE, DERIVING bits FROM hex).
type FingerprintStore struct{}

// NewFingerprintStore CONSTRUCTS A STATELESS FingerprintStore (ALL METHODS TAKE A Querier)
func NewFingerprintStore() *FingerprintStore {
	return &FingerprintStore{}
}

// DeleteForListing REMOVES ALL FINGERPRINTS FOR ONE LISTING, USED BEFORE A REBUILD
func (s *FingerprintStore) DeleteForListing(ctx context.Context, q Querier, listingID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM image_fingerprints WHERE listing_id = ?`, listingID)
	if err != nil {
		return fmt.Errorf("delete fingerprints for listing %d: %w", listingID, err)
	}
	return nil
}

// Add INSERTS ONE FINGERPRINT ROW, COMPUTING hash_hex FROM hash_bits
func (s *FingerprintStore) Add(ctx context.Context, q Querier, f models.ImageFingerprint) (models.ImageFingerprint, error) {
	now := time.Now().UTC()
	f.HashHex = hashBitsToHex(f.HashBits)
	f.CreatedAt = now
	f.UpdatedAt = now

	res, err := q.ExecContext(ctx, `
		INSERT INTO image_fingerprints (
			listing_id, image_url, hash_method, hash_hex, hash_bits, width, height, file_size, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		f.ListingID, f.ImageURL, f.HashMethod, f.HashHex, f.HashBits, f.Width, f.Height, f.FileSize, now, now,
	)
	if err != nil {
		return models.ImageFingerprint{}, fmt.Errorf("insert fingerprint: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.ImageFingerprint{}, fmt.Errorf("read inserted fingerprint id: %w", err)
	}
	f.ID = id
	return f, nil
}

// ListAll RETURNS EVERY FINGERPRINT EXCEPT THOSE BELONGING TO excludeListingID (0 MEANS NO
// EXCLUSION), FOR THE ANALYZER'S HAMMING-DISTANCE SWEEP
func (s *FingerprintStore) ListAll(ctx context.Context, q Querier, excludeListingID int64) ([]models.ImageFingerprint, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, listing_id, image_url, hash_method, hash_hex, hash_bits, width, height, file_size, created_at, updated_at
		FROM image_fingerprints WHERE listing_id != ?`, excludeListingID)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()
	return scanFingerprints(rows)
}

// ListByListing RETURNS ALL FINGERPRINTS OWNED BY ONE LISTING
func (s *FingerprintStore) ListByListing(ctx context.Context, q Querier, listingID int64) ([]models.ImageFingerprint, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, listing_id, image_url, hash_method, hash_hex, hash_bits, width, height, file_size, created_at, updated_at
		FROM image_fingerprints WHERE listing_id = ?`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints for listing %d: %w", listingID, err)
	}
	defer rows.Close()
	return scanFingerprints(rows)
}

func scanFingerprints(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.ImageFingerprint, error) {
	var out []models.ImageFingerprint
	for rows.Next() {
		var f models.ImageFingerprint
		if err := rows.Scan(&f.ID, &f.ListingID, &f.ImageURL, &f.HashMethod, &f.HashHex, &f.HashBits,
			&f.Width, &f.Height, &f.FileSize, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// hashBitsToHex RENDERS A 64-BIT PERCEPTUAL HASH AS 16 LOWERCASE HEX DIGITS
func hashBitsToHex(bits uint64) string {
	return fmt.Sprintf("%016x", bits)
}
