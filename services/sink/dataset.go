package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"sjsage522/emlakworker/internal/crawler"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

// Dataset is the primary sink: a SQLite table holding one row per listing.
// A listing saved twice under the same key replaces the earlier row.
type Dataset struct {
	db   *sql.DB
	path string
}

// OpenDataset opens or creates the dataset database at path
func OpenDataset(path string) (*Dataset, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create dataset directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	d := &Dataset{db: db, path: path}
	if err := d.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return d, nil
}

func (d *Dataset) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		key TEXT PRIMARY KEY,
		listing_id TEXT,
		url TEXT NOT NULL,
		title TEXT,
		price REAL,
		price_currency TEXT,
		scraped_at DATETIME,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_scraped_at ON listings(scraped_at);
	`
	_, err := d.db.ExecContext(context.Background(), schema)
	return err
}

const upsertListing = `
	INSERT INTO listings (key, listing_id, url, title, price, price_currency, scraped_at, data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		listing_id = excluded.listing_id,
		url = excluded.url,
		title = excluded.title,
		price = excluded.price,
		price_currency = excluded.price_currency,
		scraped_at = excluded.scraped_at,
		data = excluded.data`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *Dataset) upsert(ctx context.Context, ex execer, listing *crawler.Listing) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return crawlerrors.NewSink("dataset", "failed to encode listing "+listing.Key(), err)
	}
	var price sql.NullFloat64
	if listing.Price != nil {
		price = sql.NullFloat64{Float64: *listing.Price, Valid: true}
	}
	_, err = ex.ExecContext(ctx, upsertListing,
		listing.Key(), listing.ID, listing.URL, listing.Title, price, listing.PriceCurrency,
		listing.ScrapedAt.UTC(), string(data))
	if err != nil {
		return crawlerrors.NewSink("dataset", "failed to store listing "+listing.Key(), err)
	}
	return nil
}

// Save stores a single listing
func (d *Dataset) Save(ctx context.Context, listing *crawler.Listing) error {
	if listing == nil {
		return nil
	}
	return d.upsert(ctx, d.db, listing)
}

// SaveBatch stores listings in one transaction
func (d *Dataset) SaveBatch(ctx context.Context, listings []*crawler.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return crawlerrors.NewSink("dataset", "failed to begin transaction", err)
	}
	for _, listing := range listings {
		if listing == nil {
			continue
		}
		if err := d.upsert(ctx, tx, listing); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return crawlerrors.NewSink("dataset", "failed to commit batch", err)
	}
	return nil
}

// Count returns the number of stored listings
func (d *Dataset) Count(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings").Scan(&n)
	return n, err
}

// Get returns the listing stored under key, or nil when there is none
func (d *Dataset) Get(ctx context.Context, key string) (*crawler.Listing, error) {
	var data string
	err := d.db.QueryRowContext(ctx, "SELECT data FROM listings WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var listing crawler.Listing
	if err := json.Unmarshal([]byte(data), &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// Path returns the database file location
func (d *Dataset) Path() string {
	return d.path
}

// Close closes the database connection
func (d *Dataset) Close() error {
	return d.db.Close()
}
