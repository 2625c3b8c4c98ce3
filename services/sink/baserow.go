package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sjsage522/emlakworker/internal/crawler"
	"sjsage522/emlakworker/logger"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

// DefaultBaserowURL is the hosted Baserow API
const DefaultBaserowURL = "https://api.baserow.io/api"

// BaserowConfig holds the table coordinates and credentials
type BaserowConfig struct {
	BaseURL    string
	APIToken   string
	TableID    string
	DatabaseID string
	Timeout    time.Duration
}

// Baserow upserts listings into a Baserow table keyed by the listing_id column
type Baserow struct {
	cfg    BaserowConfig
	client *http.Client
	log    *logger.Logger
}

type baserowRow map[string]interface{}

type baserowList struct {
	Results []baserowRow `json:"results"`
}

// NewBaserow creates a Baserow sink
func NewBaserow(cfg BaserowConfig) (*Baserow, error) {
	if cfg.APIToken == "" {
		return nil, crawlerrors.NewConfiguration("baserow API token is required", nil)
	}
	if cfg.TableID == "" {
		return nil, crawlerrors.NewConfiguration("baserow table ID is required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaserowURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	b := &Baserow{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.ForSink("baserow"),
	}
	b.log.Info().Str("table_id", cfg.TableID).Str("database_id", cfg.DatabaseID).Msg("Baserow sink initialized")
	return b, nil
}

// Save creates the listing's row or updates the existing one
func (b *Baserow) Save(ctx context.Context, listing *crawler.Listing) error {
	if listing == nil {
		return nil
	}
	if listing.ID == "" {
		b.log.Warn().Str("url", listing.URL).Msg("Skipping listing without id")
		return nil
	}

	row := rowData(listing)
	existing, err := b.find(ctx, listing.ID)
	if err != nil {
		// creating blindly could leave two rows for one listing_id
		return crawlerrors.NewSink("baserow", "lookup of listing "+listing.ID+" failed", err)
	}

	if existing != nil {
		b.log.Debug().Str("listing_id", listing.ID).Msg("Updating existing listing")
		return b.do(ctx, http.MethodPatch, fmt.Sprintf("%v/", existing["id"]), row, nil)
	}
	b.log.Debug().Str("listing_id", listing.ID).Msg("Creating new listing")
	return b.do(ctx, http.MethodPost, "", row, nil)
}

// SaveBatch stores listings one by one. Failed records are logged and the
// rest are still stored.
func (b *Baserow) SaveBatch(ctx context.Context, listings []*crawler.Listing) error {
	stored := 0
	var lastErr error
	for _, listing := range listings {
		if err := b.Save(ctx, listing); err != nil {
			b.log.Error().Err(err).Str("listing_id", listing.ID).Msg("Error storing listing")
			lastErr = err
			continue
		}
		stored++
	}
	b.log.Info().Msgf("Stored %d out of %d listings", stored, len(listings))
	if stored == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// Close is a no-op
func (b *Baserow) Close() error {
	return nil
}

// find returns the row whose listing_id equals id exactly
func (b *Baserow) find(ctx context.Context, id string) (baserowRow, error) {
	var list baserowList
	query := url.Values{"search": {id}}
	if err := b.do(ctx, http.MethodGet, "?"+query.Encode(), nil, &list); err != nil {
		return nil, err
	}
	for _, row := range list.Results {
		if v, ok := row["listing_id"].(string); ok && v == id {
			return row, nil
		}
	}
	return nil, nil
}

// do sends a request to the table's rows endpoint. suffix is appended to the
// endpoint path and may carry a row id or a query string.
func (b *Baserow) do(ctx context.Context, method, suffix string, body interface{}, out interface{}) error {
	endpoint := fmt.Sprintf("%s/database/rows/table/%s/%s", b.cfg.BaseURL, b.cfg.TableID, suffix)
	u, err := url.Parse(endpoint)
	if err != nil {
		return crawlerrors.NewSink("baserow", "invalid endpoint", err)
	}
	q := u.Query()
	q.Set("user_field_names", "true")
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return crawlerrors.NewSink("baserow", "failed to encode row", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return crawlerrors.NewSink("baserow", "failed to create request", err)
	}
	req.Header.Set("Authorization", "Token "+b.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return crawlerrors.NewSink("baserow", method+" request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return crawlerrors.NewSink("baserow", fmt.Sprintf("%s returned status %d: %s", method, resp.StatusCode, msg), nil)
	}
	if out != nil {
		dec := json.NewDecoder(resp.Body)
		// row ids stay exact instead of turning into float64
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return crawlerrors.NewSink("baserow", "failed to decode response", err)
		}
	}
	return nil
}

// rowData maps a listing onto the table's columns
func rowData(l *crawler.Listing) baserowRow {
	images, _ := json.Marshal(nonNilStrings(l.Images))
	info, _ := json.Marshal(nonNilMap(l.Info))

	var price interface{}
	if l.Price != nil {
		price = *l.Price
	}
	scrapedAt := l.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	return baserowRow{
		"listing_id":      l.ID,
		"url":             l.URL,
		"title":           l.Title,
		"price":           price,
		"price_currency":  l.PriceCurrency,
		"location":        l.Location,
		"description":     l.Description,
		"date":            l.Date,
		"rooms":           l.Rooms,
		"size":            l.Size,
		"building_age":    l.BuildingAge,
		"floor":           l.Floor,
		"total_floors":    l.TotalFloors,
		"heating":         l.Heating,
		"furnished":       l.Furnished,
		"usage_status":    l.UsageStatus,
		"in_site":         l.InSite,
		"dues":            l.Dues,
		"deed_status":     l.DeedStatus,
		"credit_eligible": l.CreditEligible,
		"seller":          l.Seller,
		"images":          string(images),
		"all_info":        string(info),
		"scraped_at":      scrapedAt.UTC().Format(time.RFC3339),
		"last_updated":    time.Now().UTC().Format(time.RFC3339),
	}
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilMap(v map[string]string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v
}
