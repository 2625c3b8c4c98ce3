package crawler

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"sjsage522/emlakworker/logger"
)

// hideWebdriverJS masks the most common automation tell before any page script runs
const hideWebdriverJS = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};
Object.defineProperty(navigator, 'languages', {get: () => ['tr-TR', 'tr', 'en-US', 'en']});`

// navigationStatusJS reads the main document's HTTP status (Chrome 109+)
const navigationStatusJS = `(() => {
	const e = performance.getEntriesByType('navigation')[0];
	return e && e.responseStatus ? e.responseStatus : 0;
})()`

// ChromeNavigatorOptions configures a ChromeNavigator
type ChromeNavigatorOptions struct {
	Headless     bool
	ExecPath     string
	PollInterval time.Duration
	// MaxTabs bounds concurrently open tabs across all browsers
	MaxTabs int
}

// ChromeNavigator drives headless Chrome. Each session gets its own browser
// process so cookies and proxy egress stay with the session.
type ChromeNavigator struct {
	mu       sync.Mutex
	browsers map[string]*chromeBrowser
	detector *ChallengeDetector
	opts     ChromeNavigatorOptions
	tabs     chan struct{}
	log      *logger.Logger
}

type chromeBrowser struct {
	ctx    context.Context
	cancel func()
}

// NewChromeNavigator creates a new Chrome navigator
func NewChromeNavigator(detector *ChallengeDetector, opts ChromeNavigatorOptions) *ChromeNavigator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxTabs <= 0 {
		opts.MaxTabs = 3
	}
	return &ChromeNavigator{
		browsers: make(map[string]*chromeBrowser),
		detector: detector,
		opts:     opts,
		tabs:     make(chan struct{}, opts.MaxTabs),
		log:      logger.ForNavigator("chrome"),
	}
}

// Open starts a tab in the session's browser and navigates to target
func (n *ChromeNavigator) Open(ctx context.Context, s *Session, id Identity, target string) (Tab, error) {
	select {
	case n.tabs <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b, err := n.browser(s, id)
	if err != nil {
		<-n.tabs
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	t := &chromeTab{nav: n, ctx: tabCtx, cancel: tabCancel}

	var actions []chromedp.Action
	if user, pass, ok := proxyCredentials(s.ProxyURL); ok {
		t.answerProxyAuth(user, pass)
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	headers := network.Headers{}
	for k, v := range id.Headers {
		if k == "User-Agent" {
			continue
		}
		headers[k] = v
	}

	actions = append(actions,
		network.Enable(),
		emulation.SetUserAgentOverride(id.UserAgent).WithAcceptLanguage(id.Headers["Accept-Language"]),
		chromedp.EmulateViewport(int64(id.Viewport.Width), int64(id.Viewport.Height)),
		network.SetExtraHTTPHeaders(headers),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverJS).Do(ctx)
			return err
		}),
		chromedp.Navigate(target),
	)

	if err := t.run(ctx, actions...); err != nil {
		t.Close()
		return nil, fmt.Errorf("chrome navigate: %w", err)
	}
	if err := t.refresh(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// browser returns the session's browser, launching it on first use
func (n *ChromeNavigator) browser(s *Session, id Identity) (*chromeBrowser, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if b, ok := n.browsers[s.ID]; ok {
		return b, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", n.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(id.UserAgent),
		chromedp.WindowSize(id.Viewport.Width, id.Viewport.Height),
	)
	if server := proxyServer(s.ProxyURL); server != "" {
		opts = append(opts, chromedp.ProxyServer(server))
	}
	if n.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(n.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	b := &chromeBrowser{
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}
	n.browsers[s.ID] = b
	n.log.Debug().Str("session", s.ID).Bool("proxied", s.ProxyURL != "").Msg("Browser launched")
	return b, nil
}

// Release shuts down the browser of an evicted session
func (n *ChromeNavigator) Release(s *Session) {
	n.mu.Lock()
	b, ok := n.browsers[s.ID]
	delete(n.browsers, s.ID)
	n.mu.Unlock()

	if ok {
		b.cancel()
	}
}

// Close shuts down every browser
func (n *ChromeNavigator) Close() error {
	n.mu.Lock()
	browsers := n.browsers
	n.browsers = make(map[string]*chromeBrowser)
	n.mu.Unlock()

	for _, b := range browsers {
		b.cancel()
	}
	return nil
}

// proxyServer strips credentials, which Chrome's --proxy-server does not accept
func proxyServer(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return ""
	}
	u.User = nil
	return u.String()
}

func proxyCredentials(proxyURL string) (string, string, bool) {
	if proxyURL == "" {
		return "", "", false
	}
	u, err := url.Parse(proxyURL)
	if err != nil || u.User == nil {
		return "", "", false
	}
	pass, _ := u.User.Password()
	return u.User.Username(), pass, true
}

type chromeTab struct {
	nav       *ChromeNavigator
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.Mutex
	status   int
	location string
}

// run executes actions on the tab, aborting when the caller's ctx ends
func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// answerProxyAuth supplies proxy credentials and releases paused requests
func (t *chromeTab) answerProxyAuth(user, pass string) {
	chromedp.ListenTarget(t.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				c := chromedp.FromContext(t.ctx)
				execCtx := cdp.WithExecutor(t.ctx, c.Target)
				_ = fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: user,
					Password: pass,
				}).Do(execCtx)
			}()
		case *fetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(t.ctx)
				execCtx := cdp.WithExecutor(t.ctx, c.Target)
				_ = fetch.ContinueRequest(e.RequestID).Do(execCtx)
			}()
		}
	})
}

// refresh re-reads the document location and status
func (t *chromeTab) refresh(ctx context.Context) error {
	var loc string
	var status int
	if err := t.run(ctx,
		chromedp.Location(&loc),
		chromedp.Evaluate(navigationStatusJS, &status),
	); err != nil {
		return err
	}
	if status == 0 {
		status = 200
	}

	t.mu.Lock()
	t.location = loc
	t.status = status
	t.mu.Unlock()
	return nil
}

func (t *chromeTab) StatusCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *chromeTab) Location() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location
}

func (t *chromeTab) HTML(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (t *chromeTab) Interact(ctx context.Context) error {
	var scrolled bool
	return t.run(ctx,
		chromedp.Evaluate(`window.scrollBy(0, 120 + Math.floor(Math.random() * 240)), true`, &scrolled),
		chromedp.Sleep(300*time.Millisecond),
		chromedp.Evaluate(`window.scrollBy(0, -80), true`, &scrolled),
	)
}

// WaitNavigation polls until the document URL changes or the challenge markup
// is gone from a fully loaded document.
func (t *chromeTab) WaitNavigation(ctx context.Context) error {
	start := t.Location()
	ticker := time.NewTicker(t.nav.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var loc, state string
		if err := t.run(ctx,
			chromedp.Location(&loc),
			chromedp.Evaluate(`document.readyState`, &state),
		); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// evaluation fails while the frame is being replaced
			continue
		}
		if state != "complete" {
			continue
		}
		if loc != start {
			return t.refresh(ctx)
		}

		html, err := t.HTML(ctx)
		if err == nil && !t.nav.detector.IsChallenge(html) {
			return t.refresh(ctx)
		}
	}
}

func (t *chromeTab) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		<-t.nav.tabs
	})
	return nil
}
