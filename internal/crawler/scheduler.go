package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sjsage522/emlakworker/helpers"
	"sjsage522/emlakworker/logger"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

// Visitor loads and handles one request
type Visitor interface {
	Visit(ctx context.Context, req Request) (*VisitResult, error)
}

// SchedulerOptions configures a Scheduler
type SchedulerOptions struct {
	Concurrency int
	// MaxAttempts is the total number of dispatches a request gets
	MaxAttempts int
	// MaxRequests caps dispatches over the whole run, retries included
	MaxRequests int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultSchedulerOptions returns the standard limits
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		Concurrency: 3,
		MaxAttempts: 8,
		MaxRequests: 1000,
		BackoffBase: 2 * time.Second,
		BackoffMax:  time.Minute,
	}
}

// Failure is a request that was given up on
type Failure struct {
	URL      string
	Role     Role
	Attempts int
	Reason   string
}

// CrawlStats summarizes a run
type CrawlStats struct {
	Dispatched int
	Succeeded  int
	Retried    int
	Failed     int
	// Abandoned counts queued requests left behind by a stop or the request ceiling
	Abandoned  int
	CeilingHit bool
	Failures   []Failure
}

// Scheduler is the crawl's work queue. Workers drain it in FIFO order, failed
// requests come back after a randomized backoff, and RequestStop closes the
// queue to new work while letting in-flight requests finish.
type Scheduler struct {
	visitor  Visitor
	shaper   *RateShaper
	failures helpers.FailureRecorder
	opts     SchedulerOptions

	stopped atomic.Bool

	mu       sync.Mutex
	queue    []Request
	seen     map[string]struct{}
	inFlight int
	delayed  map[*time.Timer]Request
	changed  chan struct{}
	stats    CrawlStats
	onDrop   []func(Request)

	log *logger.Logger
}

// NewScheduler creates a scheduler dispatching to visitor. failures may be nil.
func NewScheduler(visitor Visitor, shaper *RateShaper, failures helpers.FailureRecorder, opts SchedulerOptions) *Scheduler {
	def := DefaultSchedulerOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = def.MaxRequests
	}
	if opts.BackoffBase < 0 {
		opts.BackoffBase = 0
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	return &Scheduler{
		visitor:  visitor,
		shaper:   shaper,
		failures: failures,
		opts:     opts,
		seen:     make(map[string]struct{}),
		delayed:  make(map[*time.Timer]Request),
		changed:  make(chan struct{}),
		log:      logger.ForScheduler(),
	}
}

// OnDrop registers a callback for requests that leave the queue without succeeding
func (s *Scheduler) OnDrop(fn func(Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrop = append(s.onDrop, fn)
}

// Seed enqueues the entry points. It returns ErrNoSeeds when none is admitted.
func (s *Scheduler) Seed(reqs []Request) error {
	admitted := 0
	for _, req := range reqs {
		if !helpers.IsHTTPURL(req.URL) {
			s.log.Warn().Str("url", req.URL).Msg("Skipping invalid seed")
			continue
		}
		if req.Role == "" {
			req.Role = RoleCategory
		}
		if s.Enqueue(req) {
			admitted++
		}
	}
	if admitted == 0 {
		return crawlerrors.ErrNoSeeds
	}
	s.log.Info().Int("seeds", admitted).Msg("Crawl seeded")
	return nil
}

// Enqueue adds follow-up work. It is a no-op after RequestStop and for a
// role and URL pair that was already admitted.
func (s *Scheduler) Enqueue(req Request) bool {
	if s.stopped.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return false
	}
	key := req.dedupKey()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.queue = append(s.queue, req)
	s.notifyLocked()
	return true
}

// RequestStop closes the queue. Safe to call any number of times.
func (s *Scheduler) RequestStop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.log.Info().Msg("Stop requested, draining in-flight work")
	s.mu.Lock()
	s.notifyLocked()
	s.mu.Unlock()
}

// StopRequested reports whether RequestStop was called or the run is over
func (s *Scheduler) StopRequested() bool {
	return s.stopped.Load()
}

// Run drains the queue with the configured number of workers and returns
// once it is empty with nothing in flight, or after a stop.
func (s *Scheduler) Run(ctx context.Context) (CrawlStats, error) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Concurrency; i++ {
		g.Go(func() error {
			for {
				req, ok := s.next(gctx)
				if !ok {
					return nil
				}
				s.process(gctx, req)
			}
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	// the run is over; late drop callbacks must not queue more work
	s.stopped.Store(true)

	s.mu.Lock()
	abandoned := s.queue
	s.queue = nil
	for timer, req := range s.delayed {
		// a timer that already fired finds its entry gone and backs off
		timer.Stop()
		abandoned = append(abandoned, req)
		delete(s.delayed, timer)
	}
	s.stats.Abandoned += len(abandoned)
	stats := s.stats
	stats.Failures = append([]Failure(nil), s.stats.Failures...)
	callbacks := s.onDrop
	s.mu.Unlock()

	for _, req := range abandoned {
		runDropCallbacks(callbacks, req)
	}

	s.log.Info().
		Int("dispatched", stats.Dispatched).
		Int("succeeded", stats.Succeeded).
		Int("retried", stats.Retried).
		Int("failed", stats.Failed).
		Int("abandoned", stats.Abandoned).
		Msg("Crawl finished")
	return stats, err
}

// next blocks until a request is ready or the run is over
func (s *Scheduler) next(ctx context.Context) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.stopped.Load() || ctx.Err() != nil {
			return Request{}, false
		}
		if len(s.queue) > 0 {
			if s.stats.Dispatched >= s.opts.MaxRequests {
				if !s.stats.CeilingHit {
					s.stats.CeilingHit = true
					s.log.Warn().Int("max_requests", s.opts.MaxRequests).Msg("Request ceiling reached")
				}
				return Request{}, false
			}
			req := s.queue[0]
			s.queue[0] = Request{}
			s.queue = s.queue[1:]
			s.inFlight++
			s.stats.Dispatched++
			return req, true
		}
		if s.inFlight == 0 && len(s.delayed) == 0 {
			return Request{}, false
		}

		wait := s.changed
		s.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-wait:
		}
		s.mu.Lock()
	}
}

func (s *Scheduler) process(ctx context.Context, req Request) {
	_, err := s.visitor.Visit(ctx, req)

	s.mu.Lock()
	dropped := s.settleLocked(ctx, req, err)
	callbacks := s.onDrop
	s.mu.Unlock()

	// the request stays in flight until its drop callbacks, which may queue
	// follow-up work, have run
	if dropped {
		runDropCallbacks(callbacks, req)
	}

	s.mu.Lock()
	s.inFlight--
	s.notifyLocked()
	s.mu.Unlock()
}

// settleLocked books the outcome of a visit and reports whether the request
// left the crawl for good
func (s *Scheduler) settleLocked(ctx context.Context, req Request, err error) bool {
	if err == nil {
		s.stats.Succeeded++
		return false
	}
	if ctx.Err() != nil {
		s.stats.Abandoned++
		return true
	}

	attempts := req.Attempt + 1
	if !crawlerrors.IsRetryable(err) || attempts >= s.opts.MaxAttempts {
		s.failLocked(req, attempts, err)
		return true
	}

	retry := req
	retry.Attempt = attempts
	delay := s.backoff(attempts)
	s.stats.Retried++
	s.log.Debug().
		Str("url", req.URL).
		Str("role", string(req.Role)).
		Int("attempt", attempts).
		Dur("backoff", delay).
		Err(err).
		Msg("Request failed, retrying")

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if _, ok := s.delayed[timer]; !ok {
			// Run already counted it as abandoned
			s.mu.Unlock()
			return
		}
		delete(s.delayed, timer)
		if !s.stopped.Load() {
			// retries bypass dedup
			s.queue = append(s.queue, retry)
			s.notifyLocked()
			s.mu.Unlock()
			return
		}
		s.stats.Abandoned++
		callbacks := s.onDrop
		// a pending timer counts as in flight until the drop is handled
		s.inFlight++
		s.mu.Unlock()

		runDropCallbacks(callbacks, retry)

		s.mu.Lock()
		s.inFlight--
		s.notifyLocked()
		s.mu.Unlock()
	})
	s.delayed[timer] = retry
	return false
}

// backoff grows exponentially with the attempt and is jittered down to half
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.opts.BackoffBase
	for i := 1; i < attempt && d < s.opts.BackoffMax; i++ {
		d *= 2
	}
	if d > s.opts.BackoffMax {
		d = s.opts.BackoffMax
	}
	if s.shaper == nil {
		return d
	}
	return s.shaper.Jitter(d/2, d)
}

func (s *Scheduler) failLocked(req Request, attempts int, err error) {
	s.stats.Failed++
	s.stats.Failures = append(s.stats.Failures, Failure{
		URL:      req.URL,
		Role:     req.Role,
		Attempts: attempts,
		Reason:   err.Error(),
	})
	s.log.Error().
		Str("url", req.URL).
		Str("role", string(req.Role)).
		Int("attempt", attempts).
		Str("reason", err.Error()).
		Msg("Request failed permanently")
	if s.failures != nil {
		s.failures.RecordFailure(req.URL, string(req.Role), attempts, err)
	}
}

// runDropCallbacks is called without the scheduler lock held, so callbacks
// may enqueue follow-up work
func runDropCallbacks(callbacks []func(Request), req Request) {
	for _, fn := range callbacks {
		fn(req)
	}
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
