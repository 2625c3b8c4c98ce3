package crawler

import (
	"context"
	"sync"
	"time"

	"sjsage522/emlakworker/helpers"
	"sjsage522/emlakworker/logger"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

// HandlerOptions configures the page handlers
type HandlerOptions struct {
	// IncludeDetails makes category rows fan out to detail visits
	IncludeDetails bool
	// pause after queueing the next results page
	NextPageDelayMin time.Duration
	NextPageDelayMax time.Duration
}

// Handlers holds the category and detail page handlers and what they share
type Handlers struct {
	parser PageParser
	sink   Sink
	quota  *ItemQuota
	queue  Enqueuer
	shaper *RateShaper
	opts   HandlerOptions

	// next pages held back while outstanding details covered the quota
	mu       sync.Mutex
	deferred []Request

	categoryLog *logger.Logger
	detailLog   *logger.Logger
}

// NewHandlers creates the page handlers
func NewHandlers(parser PageParser, sink Sink, quota *ItemQuota, queue Enqueuer, shaper *RateShaper, opts HandlerOptions) *Handlers {
	return &Handlers{
		parser:      parser,
		sink:        sink,
		quota:       quota,
		queue:       queue,
		shaper:      shaper,
		opts:        opts,
		categoryLog: logger.ForHandler(string(RoleCategory)),
		detailLog:   logger.ForHandler(string(RoleDetail)),
	}
}

// Register installs both handlers on the supervisor
func (h *Handlers) Register(sup *NavigationSupervisor) {
	sup.Handle(RoleCategory, h.Category)
	sup.Handle(RoleDetail, h.Detail)
}

// Dropped returns the quota slot of a detail request that will never be
// handled. The freed slot goes to a results page held back earlier, if any.
func (h *Handlers) Dropped(req Request) {
	if !req.reserved {
		return
	}
	h.quota.Release()
	if h.queue.StopRequested() || !h.quota.Available() {
		return
	}

	h.mu.Lock()
	if len(h.deferred) == 0 {
		h.mu.Unlock()
		return
	}
	next := h.deferred[0]
	h.deferred = h.deferred[1:]
	h.mu.Unlock()

	if h.queue.Enqueue(next) {
		h.categoryLog.Debug().Str("next", next.URL).Str("dropped", req.URL).Msg("Held back page queued")
	}
}

// Category extracts the rows of a results page. Rows either become detail
// requests carrying the partial listing or are emitted right away. The next
// page is queued only after every row was processed and while quota remains.
func (h *Handlers) Category(ctx context.Context, page *Page) error {
	doc, err := page.Document()
	if err != nil {
		return crawlerrors.NewParsing(page.URL, "unreadable document", err)
	}
	rows, err := h.parser.Rows(doc)
	if err != nil {
		return err
	}

	var (
		batch    []*Listing
		enqueued int
		skipped  int
	)
	for i, row := range rows {
		if h.queue.StopRequested() || h.quota.Reached() {
			break
		}

		listing, err := h.parser.ParseRow(row, page.URL)
		if err != nil {
			skipped++
			h.categoryLog.Warn().Err(err).Str("url", page.URL).Int("row", i).Msg("Skipping row")
			continue
		}
		if listing == nil {
			continue
		}
		listing.SourceURL = page.URL
		listing.ScrapedAt = time.Now()

		if h.opts.IncludeDetails {
			if !h.quota.Reserve() {
				break
			}
			req := Request{
				URL:       listing.URL,
				Role:      RoleDetail,
				Carried:   listing,
				SourceURL: page.URL,
				reserved:  true,
			}
			if !h.queue.Enqueue(req) {
				h.quota.Release()
				continue
			}
			enqueued++
			continue
		}

		ok, reached := h.quota.Acquire(false)
		if ok {
			batch = append(batch, listing)
		}
		if reached || !ok {
			h.queue.RequestStop()
			break
		}
	}

	h.categoryLog.Info().
		Str("url", page.URL).
		Int("rows", len(rows)).
		Int("emitted", len(batch)).
		Int("details", enqueued).
		Int("skipped", skipped).
		Msg("Category page processed")

	if len(batch) > 0 {
		if err := h.sink.SaveBatch(ctx, batch); err != nil {
			h.categoryLog.Warn().Err(err).Str("url", page.URL).Int("count", len(batch)).Msg("Failed to store listings")
		}
	}

	if h.queue.StopRequested() || h.quota.Reached() {
		return nil
	}
	next, ok := h.parser.NextPage(doc, page.URL)
	if !ok {
		h.categoryLog.Debug().Str("url", page.URL).Msg("No next page")
		return nil
	}
	nextReq := Request{URL: next, Role: RoleCategory, SourceURL: page.URL}
	if !h.quota.Available() {
		// reserved details may still fail and hand their slots back
		h.mu.Lock()
		h.deferred = append(h.deferred, nextReq)
		h.mu.Unlock()
		h.categoryLog.Debug().Str("next", next).Msg("Next page held back, quota is reserved")
		return nil
	}
	if h.queue.Enqueue(nextReq) {
		h.categoryLog.Debug().Str("next", next).Msg("Next page queued")
		if err := h.shaper.Delay(ctx, h.opts.NextPageDelayMin, h.opts.NextPageDelayMax); err != nil {
			return nil
		}
	}
	return nil
}

// Detail merges a listing page onto the partial listing its request carried.
// When extraction fails the partial listing is emitted on its own as long as
// it has a title.
func (h *Handlers) Detail(ctx context.Context, page *Page) error {
	carried := page.Request.Carried
	if carried == nil {
		carried = &Listing{URL: page.Request.URL}
	}

	var record *Listing
	doc, err := page.Document()
	if err == nil {
		var detail *Listing
		detail, err = h.parser.ParseDetail(doc, page.URL)
		if err == nil {
			record = carried.Merge(detail)
			if carried.ID != "" {
				record.ID = carried.ID
			}
		}
	}
	if err != nil {
		if !carried.HasTitle() {
			return crawlerrors.NewParsing(page.URL, "detail extraction failed", err)
		}
		h.detailLog.Warn().Err(err).Str("url", page.URL).Msg("Detail extraction failed, keeping row data")
		record = carried.Clone()
	}

	if record.URL == "" {
		record.URL = page.Request.URL
	}
	if record.ID == "" {
		record.ID = helpers.ExtractListingID(record.URL)
	}
	if record.SourceURL == "" {
		record.SourceURL = page.Request.SourceURL
	}
	record.ScrapedAt = time.Now()

	ok, reached := h.quota.Acquire(page.Request.reserved)
	if !ok {
		h.detailLog.Debug().Str("url", page.URL).Msg("Quota reached, listing not emitted")
		h.queue.RequestStop()
		return nil
	}
	if reached {
		h.queue.RequestStop()
	}

	if err := h.sink.Save(ctx, record); err != nil {
		h.detailLog.Warn().Err(err).Str("id", record.ID).Msg("Failed to store listing")
	}
	h.detailLog.Info().
		Str("id", record.ID).
		Str("title", record.Title).
		Int("emitted", h.quota.Emitted()).
		Msg("Listing emitted")
	return nil
}
