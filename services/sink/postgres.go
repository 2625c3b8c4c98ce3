package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sjsage522/emlakworker/internal/crawler"
	"sjsage522/emlakworker/logger"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

var schemaName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresConfig holds the connection settings
type PostgresConfig struct {
	DSN      string
	Schema   string
	MaxConns int
	// BatchSize bounds the statements queued in one round trip
	BatchSize int
}

// Postgres upserts listings into <schema>.listings keyed by listing_id
type Postgres struct {
	pool      *pgxpool.Pool
	table     string
	batchSize int
	log       *logger.Logger
}

// NewPostgres connects and creates the listings table when missing
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if !schemaName.MatchString(cfg.Schema) {
		return nil, crawlerrors.NewConfiguration("invalid postgres schema "+cfg.Schema, nil)
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, crawlerrors.NewConfiguration("invalid postgres DSN", err)
	}
	pcfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, crawlerrors.NewSink("postgres", "failed to connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, crawlerrors.NewSink("postgres", "ping failed", err)
	}

	p := &Postgres{
		pool:      pool,
		table:     fmt.Sprintf(`"%s".listings`, cfg.Schema),
		batchSize: cfg.BatchSize,
		log:       logger.ForSink("postgres"),
	}
	if err := p.createTable(ctx, cfg.Schema); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) createTable(ctx context.Context, schema string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, schema),
		`CREATE TABLE IF NOT EXISTS ` + p.table + ` (
			listing_id     TEXT PRIMARY KEY,
			url            TEXT NOT NULL,
			title          TEXT,
			price          DOUBLE PRECISION,
			price_currency TEXT,
			location       TEXT,
			description    TEXT,
			seller         TEXT,
			images         JSONB,
			info           JSONB,
			scraped_at     TIMESTAMPTZ,
			last_updated   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return crawlerrors.NewSink("postgres", "failed to create table", err)
		}
	}
	return nil
}

func (p *Postgres) upsertSQL() string {
	return `INSERT INTO ` + p.table + `
		(listing_id, url, title, price, price_currency, location, description, seller, images, info, scraped_at, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
		ON CONFLICT (listing_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			price_currency = EXCLUDED.price_currency,
			location = EXCLUDED.location,
			description = EXCLUDED.description,
			seller = EXCLUDED.seller,
			images = EXCLUDED.images,
			info = EXCLUDED.info,
			scraped_at = EXCLUDED.scraped_at,
			last_updated = now()`
}

// Save stores a single listing
func (p *Postgres) Save(ctx context.Context, listing *crawler.Listing) error {
	return p.SaveBatch(ctx, []*crawler.Listing{listing})
}

// SaveBatch upserts listings in batches. Listings without an id are skipped.
func (p *Postgres) SaveBatch(ctx context.Context, listings []*crawler.Listing) error {
	query := p.upsertSQL()
	for i := 0; i < len(listings); i += p.batchSize {
		j := i + p.batchSize
		if j > len(listings) {
			j = len(listings)
		}

		b := &pgx.Batch{}
		for _, l := range listings[i:j] {
			if l == nil {
				continue
			}
			if l.ID == "" {
				p.log.Warn().Str("url", l.URL).Msg("Skipping listing without id")
				continue
			}
			images, _ := json.Marshal(nonNilStrings(l.Images))
			info, _ := json.Marshal(nonNilMap(l.Info))
			b.Queue(query,
				l.ID, l.URL, l.Title, l.Price, l.PriceCurrency, l.Location, l.Description, l.Seller,
				string(images), string(info), l.ScrapedAt.UTC())
		}
		if b.Len() == 0 {
			continue
		}

		br := p.pool.SendBatch(ctx, b)
		for k := 0; k < b.Len(); k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return crawlerrors.NewSink("postgres", "batch upsert failed", err)
			}
		}
		if err := br.Close(); err != nil {
			return crawlerrors.NewSink("postgres", "batch upsert failed", err)
		}
	}
	return nil
}

// Close closes the pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
