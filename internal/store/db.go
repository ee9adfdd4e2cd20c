// Package store is adscout's persistence layer: raw database/sql over
// mattn/go-sqlite3, hand-rolled CREATE TABLE IF NOT EXISTS migrations,
// no ORM — the same style as the teacher's internal/storage/db.go. The
// teacher's gorm-based internal/database package is dead code (gorm is
// never added to its own go.mod) and is not carried forward; see
// DESIGN.md.
//
// Unlike the teacher's package-level globals, each Store here wraps an
// explicit *sql.DB instance passed at construction, per spec.md §9's
// "singletons → passed dependencies" design note: no process-wide state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Open OPENS dbPath (A PLAIN FILE PATH, ":memory:", OR A mattn/go-sqlite3 DSN), SETS WAL
// MODE, AND RUNS ALL MIGRATIONS
func Open(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file::memory:") {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	// LISTINGS TABLE
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		title TEXT,
		description TEXT,
		price_amount TEXT,
		price_currency TEXT,
		price_negotiable BOOLEAN NOT NULL DEFAULT 0,
		price_raw_text TEXT,
		url TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		delivery TEXT,
		thumbnail TEXT,
		categories TEXT,
		location_zip TEXT,
		location_city TEXT,
		location_state TEXT,
		seller TEXT,
		details TEXT,
		features TEXT,
		extra_info TEXT,
		image_urls TEXT NOT NULL DEFAULT '[]',
		query_name TEXT,
		search_params TEXT,
		first_seen_at TIMESTAMP NOT NULL,
		last_seen_at TIMESTAMP NOT NULL,
		posted_at TIMESTAMP,
		posted_at_text TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		is_suspicious BOOLEAN NOT NULL DEFAULT 0,
		suspicion_reason TEXT,
		suspicion_confidence REAL,
		suspicion_meta TEXT,
		last_analyzed_at TIMESTAMP
	)`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status)`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_listings_is_suspicious ON listings(is_suspicious)`); err != nil {
		return err
	}

	// IMAGE FINGERPRINTS TABLE
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS image_fingerprints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		listing_id INTEGER NOT NULL,
		image_url TEXT NOT NULL,
		hash_method TEXT NOT NULL,
		hash_hex TEXT NOT NULL,
		hash_bits INTEGER,
		width INTEGER,
		height INTEGER,
		file_size INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (listing_id) REFERENCES listings(id) ON DELETE CASCADE
	)`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_fingerprints_listing_id ON image_fingerprints(listing_id)`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_fingerprints_hash_hex ON image_fingerprints(hash_hex)`); err != nil {
		return err
	}

	// SCHEDULED JOBS TABLE
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		query TEXT,
		location TEXT,
		radius REAL,
		min_price REAL,
		max_price REAL,
		page_count INTEGER NOT NULL DEFAULT 1,
		interval_seconds INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		last_run_at TIMESTAMP,
		next_run_at TIMESTAMP,
		last_run_status TEXT,
		last_run_message TEXT,
		last_run_duration_seconds REAL,
		last_result_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		return err
	}

	return nil
}
