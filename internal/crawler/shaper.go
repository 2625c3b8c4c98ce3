package crawler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Viewport is a browser window size
type Viewport struct {
	Width  int
	Height int
}

// Identity is the browser fingerprint presented for one request
type Identity struct {
	UserAgent string
	Viewport  Viewport
	Headers   map[string]string
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var viewports = []Viewport{
	{1366, 768},
	{1440, 900},
	{1536, 864},
	{1600, 900},
	{1680, 1050},
	{1920, 1080},
	{1280, 800},
	{1366, 968},
}

var headerSets = []map[string]string{
	{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7",
		"Referer":                   "https://www.google.com.tr/",
		"Upgrade-Insecure-Requests": "1",
	},
	{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "tr-TR,tr;q=0.9,en;q=0.8",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
	},
	{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language": "tr,en-US;q=0.7,en;q=0.3",
		"Referer":         "https://www.sahibinden.com/",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "same-origin",
		"Sec-Fetch-User":  "?1",
	},
	{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language": "tr-TR,tr;q=0.8,en-US;q=0.5,en;q=0.3",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
	},
}

// RateShaper produces human-like pauses and rotating browser identities.
// An optional token bucket caps the global request rate.
type RateShaper struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	limiter *rate.Limiter
}

// NewRateShaper creates a shaper. requestsPerSecond <= 0 disables the rate cap.
func NewRateShaper(seed int64, requestsPerSecond float64) *RateShaper {
	s := &RateShaper{
		rnd: rand.New(rand.NewSource(seed)),
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return s
}

// Jitter returns a uniformly random duration in [min, max]
func (s *RateShaper) Jitter(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	if max == min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + time.Duration(s.rnd.Int63n(int64(max-min)+1))
}

// Delay suspends the caller for a random duration in [min, max]. It returns
// early with the context error if ctx is done first.
func (s *RateShaper) Delay(ctx context.Context, min, max time.Duration) error {
	d := s.Jitter(min, max)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait blocks until the global rate cap admits another request
func (s *RateShaper) Wait(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	return s.limiter.Wait(ctx)
}

// NextIdentity draws a user agent, viewport and header set independently
func (s *RateShaper) NextIdentity() Identity {
	s.mu.Lock()
	ua := userAgents[s.rnd.Intn(len(userAgents))]
	vp := viewports[s.rnd.Intn(len(viewports))]
	hs := headerSets[s.rnd.Intn(len(headerSets))]
	s.mu.Unlock()

	headers := make(map[string]string, len(hs)+1)
	for k, v := range hs {
		headers[k] = v
	}
	headers["User-Agent"] = ua

	return Identity{
		UserAgent: ua,
		Viewport:  vp,
		Headers:   headers,
	}
}
