package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"sjsage522/emlakworker/helpers"
	"sjsage522/emlakworker/logger"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
	"sjsage522/emlakworker/services/cache"
)

// NavState is a state of a single page visit
type NavState string

const (
	StateNavigating       NavState = "NAVIGATING"
	StateChallengeWait    NavState = "CHALLENGE_WAIT"
	StateResolved         NavState = "RESOLVED"
	StateChallengeTimeout NavState = "CHALLENGE_TIMEOUT"
	StateHandlerDispatch  NavState = "HANDLER_DISPATCH"
	StateFailed           NavState = "FAILED"
)

// SupervisorOptions holds the timing of a visit. Zero delays are allowed;
// zero timeouts fall back to the defaults.
type SupervisorOptions struct {
	NavigationTimeout time.Duration
	HandlerTimeout    time.Duration

	// pause before poking at a challenge page
	ChallengeDelayMin time.Duration
	ChallengeDelayMax time.Duration
	// bound on waiting for the challenge to redirect
	ChallengeWaitMin time.Duration
	ChallengeWaitMax time.Duration
	// extra wait when challenge markup lingers after load
	LingerMin time.Duration
	LingerMax time.Duration
	// human pause before the handler reads the page
	HandlerDelayMin time.Duration
	HandlerDelayMax time.Duration

	// HostCooldown keeps every worker off a host after a hard block. Zero disables it.
	HostCooldown time.Duration
}

// DefaultSupervisorOptions returns production timings
func DefaultSupervisorOptions() SupervisorOptions {
	return SupervisorOptions{
		NavigationTimeout: 60 * time.Second,
		HandlerTimeout:    120 * time.Second,
		ChallengeDelayMin: 5 * time.Second,
		ChallengeDelayMax: 10 * time.Second,
		ChallengeWaitMin:  30 * time.Second,
		ChallengeWaitMax:  45 * time.Second,
		LingerMin:         8 * time.Second,
		LingerMax:         15 * time.Second,
		HandlerDelayMin:   2 * time.Second,
		HandlerDelayMax:   5 * time.Second,
		HostCooldown:      30 * time.Second,
	}
}

// VisitResult describes how a visit went
type VisitResult struct {
	Trace      []NavState
	SessionID  string
	StatusCode int
	Verdict    Verdict
}

func (r *VisitResult) enter(state NavState) {
	r.Trace = append(r.Trace, state)
}

// Final is the last state the visit reached
func (r *VisitResult) Final() NavState {
	if len(r.Trace) == 0 {
		return ""
	}
	return r.Trace[len(r.Trace)-1]
}

// NavigationSupervisor loads one page per Visit: it picks a session and
// identity, rides out challenge pages, keeps session health up to date and
// only then hands the page to the handler registered for the request's role.
type NavigationSupervisor struct {
	sessions *SessionPool
	shaper   *RateShaper
	detector *ChallengeDetector
	nav      Navigator
	cache    cache.CacheService
	handlers map[Role]PageHandler
	opts     SupervisorOptions
	log      *logger.Logger
}

// NewNavigationSupervisor creates a supervisor. cooldowns may be nil.
func NewNavigationSupervisor(
	sessions *SessionPool,
	shaper *RateShaper,
	detector *ChallengeDetector,
	nav Navigator,
	cooldowns cache.CacheService,
	opts SupervisorOptions,
) *NavigationSupervisor {
	def := DefaultSupervisorOptions()
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = def.NavigationTimeout
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = def.HandlerTimeout
	}
	if opts.ChallengeWaitMax <= 0 {
		opts.ChallengeWaitMin, opts.ChallengeWaitMax = def.ChallengeWaitMin, def.ChallengeWaitMax
	}

	if r, ok := nav.(sessionReleaser); ok {
		sessions.OnEvict(r.Release)
	}

	return &NavigationSupervisor{
		sessions: sessions,
		shaper:   shaper,
		detector: detector,
		nav:      nav,
		cache:    cooldowns,
		handlers: make(map[Role]PageHandler),
		opts:     opts,
		log:      logger.ForSupervisor(),
	}
}

// Handle registers the handler for pages of role
func (s *NavigationSupervisor) Handle(role Role, h PageHandler) {
	s.handlers[role] = h
}

// Visit loads req.URL and dispatches it. The returned result is never nil.
func (s *NavigationSupervisor) Visit(ctx context.Context, req Request) (*VisitResult, error) {
	res := &VisitResult{}
	fail := func(err error) (*VisitResult, error) {
		res.enter(StateFailed)
		return res, err
	}

	handler, ok := s.handlers[req.Role]
	if !ok {
		return fail(crawlerrors.NewConfiguration(fmt.Sprintf("no handler for role %s", req.Role), nil))
	}

	host := helpers.HostOf(req.URL)
	if remaining, cooling := s.cooldown(host); cooling {
		return fail(crawlerrors.NewRateLimit(req.URL, remaining))
	}
	if err := s.shaper.Wait(ctx); err != nil {
		return fail(err)
	}

	res.enter(StateNavigating)
	session, err := s.sessions.Acquire(ctx)
	if err != nil {
		return fail(err)
	}
	res.SessionID = session.ID
	// failed visits count against the usage ceiling too
	defer s.sessions.RetireIfExhausted(session)
	identity := s.shaper.NextIdentity()

	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	tab, err := s.nav.Open(navCtx, session, identity, req.URL)
	if err != nil {
		cancel()
		return fail(s.navigationError(ctx, navCtx, req.URL, err))
	}
	closed := false
	closeTab := func() {
		if !closed {
			closed = true
			tab.Close()
		}
	}
	defer closeTab()

	html, err := tab.HTML(navCtx)
	cancel()
	if err != nil {
		return fail(s.navigationError(ctx, navCtx, req.URL, err))
	}

	res.StatusCode = tab.StatusCode()
	res.Verdict = s.detector.Classify(res.StatusCode, html)

	switch res.Verdict {
	case VerdictBlocked:
		s.block(session, host)
		return fail(crawlerrors.NewBlocked(req.URL, res.StatusCode))

	case VerdictChallenge:
		res.enter(StateChallengeWait)
		if err := s.awaitChallenge(ctx, tab, req.URL); err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			res.enter(StateChallengeTimeout)
			s.sessions.MarkBad(session)
			return fail(err)
		}
		res.enter(StateResolved)
	}

	// content check once the document has settled
	html, res.Verdict, err = s.settle(ctx, tab)
	if err != nil {
		return fail(err)
	}
	res.StatusCode = tab.StatusCode()
	switch res.Verdict {
	case VerdictChallenge:
		s.sessions.MarkBad(session)
		return fail(crawlerrors.NewChallenge(req.URL, "challenge still present after load"))
	case VerdictBlocked:
		s.block(session, host)
		return fail(crawlerrors.NewBlocked(req.URL, res.StatusCode))
	}

	s.sessions.MarkGood(session)

	page := &Page{
		Request:    req,
		URL:        tab.Location(),
		StatusCode: res.StatusCode,
		HTML:       html,
	}
	if page.URL == "" {
		page.URL = req.URL
	}
	closeTab()

	if err := s.shaper.Delay(ctx, s.opts.HandlerDelayMin, s.opts.HandlerDelayMax); err != nil {
		return fail(err)
	}

	res.enter(StateHandlerDispatch)
	handlerCtx, handlerCancel := context.WithTimeout(ctx, s.opts.HandlerTimeout)
	defer handlerCancel()
	if err := handler(handlerCtx, page); err != nil {
		return fail(err)
	}
	return res, nil
}

// awaitChallenge gives the interstitial time to clear and waits for its redirect
func (s *NavigationSupervisor) awaitChallenge(ctx context.Context, tab Tab, url string) error {
	s.log.Info().Str("url", url).Msg("Challenge detected, waiting for it to clear")

	if err := s.shaper.Delay(ctx, s.opts.ChallengeDelayMin, s.opts.ChallengeDelayMax); err != nil {
		return err
	}
	if err := tab.Interact(ctx); err != nil {
		s.log.Debug().Err(err).Str("url", url).Msg("Interaction failed")
	}

	waited := s.shaper.Jitter(s.opts.ChallengeWaitMin, s.opts.ChallengeWaitMax)
	waitCtx, cancel := context.WithTimeout(ctx, waited)
	defer cancel()
	if err := tab.WaitNavigation(waitCtx); err != nil {
		return crawlerrors.NewChallengeTimeout(url, waited, err)
	}
	s.log.Debug().Str("url", url).Msg("Challenge cleared")
	return nil
}

// settle re-reads the document and classifies it, granting a lingering
// challenge one more bounded wait.
func (s *NavigationSupervisor) settle(ctx context.Context, tab Tab) (string, Verdict, error) {
	read := func() (string, Verdict, error) {
		readCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
		defer cancel()
		html, err := tab.HTML(readCtx)
		if err != nil {
			return "", VerdictOK, s.navigationError(ctx, readCtx, tab.Location(), err)
		}
		return html, s.detector.Classify(tab.StatusCode(), html), nil
	}

	html, verdict, err := read()
	if err != nil || verdict != VerdictChallenge {
		return html, verdict, err
	}

	s.log.Debug().Str("url", tab.Location()).Msg("Challenge markup lingers, waiting once more")
	if err := s.shaper.Delay(ctx, s.opts.LingerMin, s.opts.LingerMax); err != nil {
		return "", VerdictOK, err
	}
	return read()
}

// block retires the session and cools the host down for everyone
func (s *NavigationSupervisor) block(session *Session, host string) {
	s.sessions.MarkBad(session)
	if s.cache == nil || s.opts.HostCooldown <= 0 || host == "" {
		return
	}
	until := time.Now().Add(s.opts.HostCooldown).UnixNano()
	if err := s.cache.Set(cooldownKey(host), []byte(strconv.FormatInt(until, 10)), s.opts.HostCooldown); err != nil {
		s.log.Warn().Err(err).Str("host", host).Msg("Failed to store host cooldown")
	}
}

// cooldown reports whether host is cooling down and for how much longer.
// Cache errors, misses included, count as no cooldown.
func (s *NavigationSupervisor) cooldown(host string) (time.Duration, bool) {
	if s.cache == nil || host == "" {
		return 0, false
	}
	value, err := s.cache.Get(cooldownKey(host))
	if err != nil {
		return 0, false
	}
	until, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, false
	}
	remaining := time.Until(time.Unix(0, until))
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

func cooldownKey(host string) string {
	return "cooldown:" + host
}

// navigationError maps a navigator failure onto the error taxonomy
func (s *NavigationSupervisor) navigationError(parent, navCtx context.Context, url string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var ce *crawlerrors.CrawlerError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return crawlerrors.NewTimeout(url, "navigation timed out", err)
	}
	return crawlerrors.NewNetwork(url, "navigation failed", err)
}
