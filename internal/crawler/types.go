package crawler

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Role identifies which handler a request's page goes to
type Role string

const (
	// RoleCategory is a paginated search results page
	RoleCategory Role = "CATEGORY"
	// RoleDetail is a single listing page
	RoleDetail Role = "DETAIL"
)

// Request is a unit of scheduled work
type Request struct {
	URL     string
	Role    Role
	Carried *Listing
	Attempt int
	// SourceURL is the page that discovered this request
	SourceURL string

	// reserved marks a detail request holding an item quota slot
	reserved bool
}

func (r Request) dedupKey() string {
	return string(r.Role) + " " + r.URL
}

// Page is a loaded, challenge-free page handed to a handler
type Page struct {
	Request    Request
	URL        string
	StatusCode int
	HTML       string

	doc *goquery.Document
}

// Document parses the page HTML once and caches the result
func (p *Page) Document() (*goquery.Document, error) {
	if p.doc != nil {
		return p.doc, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return nil, err
	}
	p.doc = doc
	return doc, nil
}

// PageHandler processes a loaded page
type PageHandler func(ctx context.Context, page *Page) error

// Sink receives extracted listings
type Sink interface {
	Save(ctx context.Context, listing *Listing) error
	SaveBatch(ctx context.Context, listings []*Listing) error
}

// ProxyProvider supplies an egress for each new session. An empty URL means direct.
type ProxyProvider interface {
	NextProxy(ctx context.Context) (string, error)
}

// ProxyFeedback is implemented by providers that want to hear about failing egress
type ProxyFeedback interface {
	MarkFailed(proxyURL string)
}

// Enqueuer is the part of the scheduler that handlers talk to
type Enqueuer interface {
	Enqueue(req Request) bool
	RequestStop()
	StopRequested() bool
}

// PageParser maps site markup onto listings
type PageParser interface {
	// Rows returns the listing rows of a category page in page order
	Rows(doc *goquery.Document) ([]*goquery.Selection, error)
	// ParseRow extracts a partial listing; nil, nil means the row is not a listing
	ParseRow(row *goquery.Selection, pageURL string) (*Listing, error)
	// NextPage returns the absolute URL of the next results page
	NextPage(doc *goquery.Document, pageURL string) (string, bool)
	// ParseDetail extracts the fields of a listing page
	ParseDetail(doc *goquery.Document, pageURL string) (*Listing, error)
}
