package crawler

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/google/uuid"

	"sjsage522/emlakworker/helpers"
	"sjsage522/emlakworker/logger"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

// Health is a session's good/bad signal
type Health int

const (
	// HealthGood sessions may be handed out
	HealthGood Health = iota
	// HealthBad sessions are never handed out again
	HealthBad
)

func (h Health) String() string {
	if h == HealthBad {
		return "BAD"
	}
	return "GOOD"
}

// Session is a cookie and identity context bound to one proxy egress
type Session struct {
	ID       string
	ProxyURL string
	Jar      http.CookieJar

	// guarded by the owning pool's mutex
	usage    int
	health   Health
	lastUsed time.Time
	retired  bool

	clientOnce sync.Once
	client     *http.Client
	clientErr  error
}

func newSession(proxyURL string) *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{
		ID:       uuid.NewString(),
		ProxyURL: proxyURL,
		Jar:      jar,
		health:   HealthGood,
	}
}

// HTTPClient returns the session's cookie-keeping client, building it on first use
func (s *Session) HTTPClient(timeout time.Duration) (*http.Client, error) {
	s.clientOnce.Do(func() {
		s.client, s.clientErr = helpers.NewClient(s.ProxyURL, s.Jar, timeout)
	})
	return s.client, s.clientErr
}

// SessionPoolOptions configures a SessionPool
type SessionPoolOptions struct {
	// Capacity is the maximum number of live sessions
	Capacity int
	// MaxUsage retires a session once it has been acquired this many times
	MaxUsage int
	// StarvationRetry is how often a starved Acquire asks for a new proxy
	StarvationRetry time.Duration
	// AcquireTimeout bounds how long Acquire waits while starved
	AcquireTimeout time.Duration
}

// DefaultSessionPoolOptions returns the standard pool sizing
func DefaultSessionPoolOptions() SessionPoolOptions {
	return SessionPoolOptions{
		Capacity:        10,
		MaxUsage:        50,
		StarvationRetry: time.Second,
		AcquireTimeout:  2 * time.Minute,
	}
}

// PoolStats summarizes pool activity
type PoolStats struct {
	Live    int
	Created int
	Retired int
	Evicted int
}

// SessionPool tracks session health. Every mutation happens under one mutex.
type SessionPool struct {
	mu       sync.Mutex
	sessions []*Session
	opts     SessionPoolOptions
	proxies  ProxyProvider
	changed  chan struct{}
	onEvict  []func(*Session)
	stats    PoolStats
	log      *logger.Logger
}

// NewSessionPool creates a pool drawing egress from proxies. A nil provider means direct connections.
func NewSessionPool(proxies ProxyProvider, opts SessionPoolOptions) *SessionPool {
	def := DefaultSessionPoolOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = def.Capacity
	}
	if opts.MaxUsage <= 0 {
		opts.MaxUsage = def.MaxUsage
	}
	if opts.StarvationRetry <= 0 {
		opts.StarvationRetry = def.StarvationRetry
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = def.AcquireTimeout
	}
	return &SessionPool{
		opts:    opts,
		proxies: proxies,
		changed: make(chan struct{}),
		log:     logger.ForSessions(),
	}
}

// OnEvict registers a callback run after a session leaves the pool
func (p *SessionPool) OnEvict(fn func(*Session)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEvict = append(p.onEvict, fn)
}

// Acquire returns a GOOD session. It creates one while the pool is below
// capacity, otherwise it recycles the least recently used session. When no
// egress is available it waits, and gives up with a retryable error after
// AcquireTimeout.
func (p *SessionPool) Acquire(ctx context.Context) (*Session, error) {
	deadline := time.Now().Add(p.opts.AcquireTimeout)
	var lastErr error

	for {
		s, needNew, wait := p.tryAcquire()
		if s != nil {
			return s, nil
		}

		if needNew {
			proxyURL, err := p.nextProxy(ctx)
			if err == nil {
				if s := p.adopt(newSession(proxyURL)); s != nil {
					return s, nil
				}
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if s := p.recycle(); s != nil {
				return s, nil
			}
			lastErr = err
			p.log.Debug().Err(err).Msg("No egress for a new session, waiting")
		}

		if time.Now().After(deadline) {
			return nil, crawlerrors.NewSession("session pool starved", lastErr)
		}

		timer := time.NewTimer(p.opts.StarvationRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wait:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (p *SessionPool) nextProxy(ctx context.Context) (string, error) {
	if p.proxies == nil {
		return "", nil
	}
	return p.proxies.NextProxy(ctx)
}

// tryAcquire hands out the LRU good session when the pool is full, or asks
// the caller to create one.
func (p *SessionPool) tryAcquire() (*Session, bool, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sessions) < p.opts.Capacity {
		return nil, true, p.changed
	}
	return p.lruLocked(), false, p.changed
}

// recycle hands out the LRU good session regardless of capacity
func (p *SessionPool) recycle() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lruLocked()
}

// lruLocked skips sessions at the usage ceiling; they wait for retirement
func (p *SessionPool) lruLocked() *Session {
	var lru *Session
	for _, s := range p.sessions {
		if s.health != HealthGood || s.usage >= p.opts.MaxUsage {
			continue
		}
		if lru == nil || s.lastUsed.Before(lru.lastUsed) {
			lru = s
		}
	}
	if lru != nil {
		p.use(lru)
	}
	return lru
}

// adopt adds a freshly created session if there is still room
func (p *SessionPool) adopt(s *Session) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sessions) >= p.opts.Capacity {
		return nil
	}
	p.sessions = append(p.sessions, s)
	p.stats.Created++
	p.use(s)

	p.log.Debug().
		Str("session", s.ID).
		Bool("proxied", s.ProxyURL != "").
		Int("live", len(p.sessions)).
		Msg("Session created")
	return s
}

func (p *SessionPool) use(s *Session) {
	s.usage++
	s.lastUsed = time.Now()
}

// MarkGood records a successful navigation
func (p *SessionPool) MarkGood(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.health = HealthGood
}

// MarkBad evicts the session; a replacement is created on a later Acquire
func (p *SessionPool) MarkBad(s *Session) {
	p.mu.Lock()
	s.health = HealthBad
	evicted := p.remove(s)
	callbacks := p.onEvict
	p.mu.Unlock()

	if !evicted {
		return
	}
	p.log.Debug().Str("session", s.ID).Msg("Session marked bad")
	if fb, ok := p.proxies.(ProxyFeedback); ok && s.ProxyURL != "" {
		fb.MarkFailed(s.ProxyURL)
	}
	for _, fn := range callbacks {
		fn(s)
	}
}

// RetireIfExhausted evicts the session once it reached the usage ceiling
func (p *SessionPool) RetireIfExhausted(s *Session) bool {
	p.mu.Lock()
	if s.usage < p.opts.MaxUsage || s.retired {
		p.mu.Unlock()
		return false
	}
	s.retired = true
	usage := s.usage
	evicted := p.remove(s)
	if evicted {
		p.stats.Retired++
		p.stats.Evicted--
	}
	callbacks := p.onEvict
	p.mu.Unlock()

	if evicted {
		p.log.Debug().Str("session", s.ID).Int("usage", usage).Msg("Session retired")
		for _, fn := range callbacks {
			fn(s)
		}
	}
	return evicted
}

// remove drops s from the pool; callers hold the mutex
func (p *SessionPool) remove(s *Session) bool {
	for i, cur := range p.sessions {
		if cur == s {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			p.stats.Evicted++
			close(p.changed)
			p.changed = make(chan struct{})
			return true
		}
	}
	return false
}

// Health returns the session's current health
func (p *SessionPool) Health(s *Session) Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return s.health
}

// Usage returns how many times the session was acquired
func (p *SessionPool) Usage(s *Session) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return s.usage
}

// Stats returns a snapshot of pool counters
func (p *SessionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	st.Live = len(p.sessions)
	return st
}

// Close evicts every session
func (p *SessionPool) Close() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = nil
	callbacks := p.onEvict
	p.mu.Unlock()

	for _, s := range sessions {
		for _, fn := range callbacks {
			fn(s)
		}
	}
}
