package crawler

import (
	"context"
	"time"

	"sjsage522/emlakworker/helpers"
	"sjsage522/emlakworker/logger"
)

// Tab is a page opened by a Navigator
type Tab interface {
	// StatusCode is the HTTP status of the current document
	StatusCode() int
	// Location is the current document URL
	Location() string
	// HTML returns a snapshot of the current document
	HTML(ctx context.Context) (string, error)
	// Interact performs minor human-like activity on the page
	Interact(ctx context.Context) error
	// WaitNavigation blocks until the page moves past its current document
	// or ctx expires
	WaitNavigation(ctx context.Context) error
	Close() error
}

// Navigator opens pages under a session and identity
type Navigator interface {
	Open(ctx context.Context, s *Session, id Identity, url string) (Tab, error)
}

// sessionReleaser is implemented by navigators holding per-session resources
type sessionReleaser interface {
	Release(s *Session)
}

// HTTPNavigatorOptions configures an HTTPNavigator
type HTTPNavigatorOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// HTTPNavigator loads pages with plain HTTP requests. A challenge "redirect"
// is observed by re-requesting the page until the interstitial is gone.
type HTTPNavigator struct {
	detector *ChallengeDetector
	opts     HTTPNavigatorOptions
	log      *logger.Logger
}

// NewHTTPNavigator creates a new HTTP navigator
func NewHTTPNavigator(detector *ChallengeDetector, opts HTTPNavigatorOptions) *HTTPNavigator {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &HTTPNavigator{
		detector: detector,
		opts:     opts,
		log:      logger.ForNavigator("http"),
	}
}

// Open fetches url through the session's client
func (n *HTTPNavigator) Open(ctx context.Context, s *Session, id Identity, url string) (Tab, error) {
	client, err := s.HTTPClient(n.opts.Timeout)
	if err != nil {
		return nil, err
	}
	resp, err := helpers.Fetch(ctx, client, url, id.Headers)
	if err != nil {
		return nil, err
	}
	return &httpTab{
		nav:     n,
		session: s,
		id:      id,
		url:     url,
		resp:    resp,
	}, nil
}

type httpTab struct {
	nav     *HTTPNavigator
	session *Session
	id      Identity
	url     string
	resp    *helpers.Response
}

func (t *httpTab) StatusCode() int {
	return t.resp.StatusCode
}

func (t *httpTab) Location() string {
	return t.resp.FinalURL
}

func (t *httpTab) HTML(ctx context.Context) (string, error) {
	return t.resp.Body, ctx.Err()
}

func (t *httpTab) Interact(ctx context.Context) error {
	return nil
}

func (t *httpTab) WaitNavigation(ctx context.Context) error {
	client, err := t.session.HTTPClient(t.nav.opts.Timeout)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(t.nav.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		resp, err := helpers.Fetch(ctx, client, t.url, t.id.Headers)
		if err != nil {
			t.nav.log.Debug().Err(err).Str("url", t.url).Msg("Re-request during challenge wait failed")
			continue
		}
		if !t.nav.detector.IsChallenge(resp.Body) {
			t.resp = resp
			return nil
		}
	}
}

func (t *httpTab) Close() error {
	return nil
}
