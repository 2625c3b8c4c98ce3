package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sjsage522/emlakworker/logger"
)

// FlareSolverrNavigator loads pages through a FlareSolverr instance, which
// runs its own browser and solves interstitials before answering.
type FlareSolverrNavigator struct {
	endpoint     string
	client       *http.Client
	maxTimeout   time.Duration
	pollInterval time.Duration
	detector     *ChallengeDetector
	log          *logger.Logger
}

// NewFlareSolverrNavigator creates a navigator for the FlareSolverr API at endpoint (e.g. http://localhost:8191/v1)
func NewFlareSolverrNavigator(endpoint string, maxTimeout time.Duration, detector *ChallengeDetector) *FlareSolverrNavigator {
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	return &FlareSolverrNavigator{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: maxTimeout + 30*time.Second},
		maxTimeout:   maxTimeout,
		pollInterval: 2 * time.Second,
		detector:     detector,
		log:          logger.ForNavigator("flaresolverr"),
	}
}

type flareCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

type flareRequest struct {
	Cmd        string            `json:"cmd"`
	URL        string            `json:"url"`
	MaxTimeout int64             `json:"maxTimeout"`
	Cookies    []flareCookie     `json:"cookies,omitempty"`
	Proxy      map[string]string `json:"proxy,omitempty"`
}

type flareResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL       string        `json:"url"`
		Status    int           `json:"status"`
		Response  string        `json:"response"`
		Cookies   []flareCookie `json:"cookies"`
		UserAgent string        `json:"userAgent"`
	} `json:"solution"`
}

// Open asks FlareSolverr for target, forwarding the session's cookies and proxy
func (n *FlareSolverrNavigator) Open(ctx context.Context, s *Session, id Identity, target string) (Tab, error) {
	t := &flareTab{nav: n, session: s, url: target}
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (n *FlareSolverrNavigator) solve(ctx context.Context, s *Session, target string) (*flareResponse, error) {
	payload := flareRequest{
		Cmd:        "request.get",
		URL:        target,
		MaxTimeout: n.maxTimeout.Milliseconds(),
	}
	if s.ProxyURL != "" {
		payload.Proxy = map[string]string{"url": s.ProxyURL}
	}
	if u, err := url.Parse(target); err == nil && s.Jar != nil {
		for _, c := range s.Jar.Cookies(u) {
			payload.Cookies = append(payload.Cookies, flareCookie{Name: c.Name, Value: c.Value})
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flaresolverr request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read flaresolverr response: %w", err)
	}

	var flareResp flareResponse
	if err := json.Unmarshal(body, &flareResp); err != nil {
		return nil, fmt.Errorf("failed to parse flaresolverr response: %w", err)
	}
	if flareResp.Status != "ok" {
		return nil, fmt.Errorf("flaresolverr error: %s", flareResp.Message)
	}

	n.storeCookies(s, flareResp.Solution.URL, flareResp.Solution.Cookies)

	n.log.Debug().
		Str("url", target).
		Int("status", flareResp.Solution.Status).
		Int("bytes", len(flareResp.Solution.Response)).
		Msg("FlareSolverr answered")
	return &flareResp, nil
}

// storeCookies keeps clearance cookies in the session jar for later requests
func (n *FlareSolverrNavigator) storeCookies(s *Session, pageURL string, cookies []flareCookie) {
	if s.Jar == nil || len(cookies) == 0 {
		return
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return
	}
	jarCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		jarCookies = append(jarCookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Path:   path,
			Domain: strings.TrimPrefix(c.Domain, "."),
		})
	}
	s.Jar.SetCookies(u, jarCookies)
}

type flareTab struct {
	nav      *FlareSolverrNavigator
	session  *Session
	url      string
	status   int
	location string
	html     string
}

func (t *flareTab) load(ctx context.Context) error {
	resp, err := t.nav.solve(ctx, t.session, t.url)
	if err != nil {
		return err
	}
	t.status = resp.Solution.Status
	if t.status == 0 {
		t.status = http.StatusOK
	}
	t.location = resp.Solution.URL
	if t.location == "" {
		t.location = t.url
	}
	t.html = resp.Solution.Response
	return nil
}

func (t *flareTab) StatusCode() int {
	return t.status
}

func (t *flareTab) Location() string {
	return t.location
}

func (t *flareTab) HTML(ctx context.Context) (string, error) {
	return t.html, ctx.Err()
}

func (t *flareTab) Interact(ctx context.Context) error {
	return nil
}

// WaitNavigation re-submits the page until FlareSolverr returns it without the interstitial
func (t *flareTab) WaitNavigation(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.nav.pollInterval):
		}

		if err := t.load(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.nav.log.Debug().Err(err).Str("url", t.url).Msg("FlareSolverr retry failed")
			continue
		}
		if !t.nav.detector.IsChallenge(t.html) {
			return nil
		}
	}
}

func (t *flareTab) Close() error {
	return nil
}
