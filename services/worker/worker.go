package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"sjsage522/emlakworker/config"
	"sjsage522/emlakworker/internal"
	"sjsage522/emlakworker/internal/crawler"
	"sjsage522/emlakworker/internal/report"
	"sjsage522/emlakworker/logger"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

// Worker drives crawl runs: it builds the crawl from the configuration and
// dependencies, runs it, and reports the outcome
type Worker struct {
	cfg  *config.Config
	deps *internal.Dependencies
	log  *logger.Logger

	supervisorOpts   crawler.SupervisorOptions
	backoffBase      time.Duration
	backoffMax       time.Duration
	nextPageDelayMin time.Duration
	nextPageDelayMax time.Duration
	seed             int64
}

// Option configures a Worker
type Option func(*Worker)

// WithSupervisorOptions replaces the navigation timings. Timeouts from the
// configuration still apply when the given ones are zero.
func WithSupervisorOptions(opts crawler.SupervisorOptions) Option {
	return func(w *Worker) {
		w.supervisorOpts = opts
	}
}

// WithBackoff sets the retry backoff bounds
func WithBackoff(base, max time.Duration) Option {
	return func(w *Worker) {
		w.backoffBase = base
		w.backoffMax = max
	}
}

// WithNextPageDelay sets the pause after queueing a results page
func WithNextPageDelay(min, max time.Duration) Option {
	return func(w *Worker) {
		w.nextPageDelayMin = min
		w.nextPageDelayMax = max
	}
}

// WithSeed fixes the rate shaper's random source
func WithSeed(seed int64) Option {
	return func(w *Worker) {
		w.seed = seed
	}
}

// NewWorker creates a new worker
func NewWorker(cfg *config.Config, deps *internal.Dependencies, opts ...Option) *Worker {
	sched := crawler.DefaultSchedulerOptions()
	w := &Worker{
		cfg:              cfg,
		deps:             deps,
		log:              logger.ForWorker(),
		supervisorOpts:   crawler.DefaultSupervisorOptions(),
		backoffBase:      sched.BackoffBase,
		backoffMax:       sched.BackoffMax,
		nextPageDelayMin: time.Second,
		nextPageDelayMax: 3 * time.Second,
		seed:             time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.deps.Detector == nil {
		w.deps.Detector = crawler.NewChallengeDetector()
	}
	return w
}

// Start runs the crawl once, or repeatedly every CrawlInterval until ctx is
// done. A run without seeds is fatal; other run errors are logged and the
// next run still happens.
func (w *Worker) Start(ctx context.Context) error {
	for {
		_, err := w.RunOnce(ctx)
		if errors.Is(err, crawlerrors.ErrNoSeeds) {
			return err
		}
		if w.cfg.CrawlInterval <= 0 {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			w.log.Error().Err(err).Msg("Crawl run failed")
		}

		w.log.Info().Dur("interval", w.cfg.CrawlInterval).Msg("Waiting for next crawl")
		timer := time.NewTimer(w.cfg.CrawlInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce performs a single crawl and returns its summary
func (w *Worker) RunOnce(ctx context.Context) (*report.Summary, error) {
	summary := &report.Summary{
		StartedAt: time.Now(),
		StartURLs: w.cfg.StartURLs,
		MaxItems:  w.cfg.MaxItems,
	}

	shaper := crawler.NewRateShaper(w.seed, w.cfg.RequestsPerSecond)
	pool := crawler.NewSessionPool(w.deps.Proxy, crawler.SessionPoolOptions{
		Capacity: w.cfg.SessionPoolSize,
		MaxUsage: w.cfg.SessionMaxUsage,
	})
	defer pool.Close()

	supOpts := w.supervisorOpts
	if w.cfg.NavigationTimeout > 0 {
		supOpts.NavigationTimeout = w.cfg.NavigationTimeout
	}
	if w.cfg.HandlerTimeout > 0 {
		supOpts.HandlerTimeout = w.cfg.HandlerTimeout
	}
	supOpts.HostCooldown = w.cfg.HostCooldown
	sup := crawler.NewNavigationSupervisor(pool, shaper, w.deps.Detector, w.deps.Navigator, w.deps.Cache, supOpts)

	sched := crawler.NewScheduler(sup, shaper, w.deps.Failures, crawler.SchedulerOptions{
		Concurrency: w.cfg.Concurrency,
		MaxAttempts: w.cfg.MaxAttempts,
		MaxRequests: w.cfg.MaxRequests(),
		BackoffBase: w.backoffBase,
		BackoffMax:  w.backoffMax,
	})

	quota := crawler.NewItemQuota(w.cfg.MaxItems)
	handlers := crawler.NewHandlers(w.deps.Parser, w.deps.Sink, quota, sched, shaper, crawler.HandlerOptions{
		IncludeDetails:   w.cfg.IncludeDetails,
		NextPageDelayMin: w.nextPageDelayMin,
		NextPageDelayMax: w.nextPageDelayMax,
	})
	handlers.Register(sup)
	sched.OnDrop(handlers.Dropped)

	seeds := make([]crawler.Request, 0, len(w.cfg.StartURLs))
	for _, u := range w.cfg.StartURLs {
		seeds = append(seeds, crawler.Request{URL: u, Role: crawler.RoleCategory})
	}
	if err := sched.Seed(seeds); err != nil {
		w.log.Error().Err(err).Msg("No valid start URLs found in the input")
		return nil, err
	}

	w.log.Info().
		Strs("start_urls", w.cfg.StartURLs).
		Int("max_items", w.cfg.MaxItems).
		Bool("include_details", w.cfg.IncludeDetails).
		Int("concurrency", w.cfg.Concurrency).
		Msg("Starting crawl")

	stats, err := sched.Run(ctx)

	summary.FinishedAt = time.Now()
	summary.Emitted = quota.Emitted()
	summary.Stats = stats
	summary.Sessions = pool.Stats()
	summary.Err = err

	w.log.Info().
		Int("emitted", summary.Emitted).
		Int("dispatched", stats.Dispatched).
		Int("succeeded", stats.Succeeded).
		Int("retried", stats.Retried).
		Int("failed", stats.Failed).
		Int("abandoned", stats.Abandoned).
		Dur("elapsed", summary.Elapsed()).
		Msg("Crawl finished")

	if w.cfg.ReportPath != "" {
		if rerr := w.writeReport(summary); rerr != nil {
			w.log.Warn().Err(rerr).Str("path", w.cfg.ReportPath).Msg("Failed to write report")
		}
	}
	return summary, err
}

func (w *Worker) writeReport(summary *report.Summary) error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.ReportPath), 0750); err != nil {
		return err
	}
	f, err := os.Create(w.cfg.ReportPath)
	if err != nil {
		return err
	}
	if err := report.WriteMarkdown(f, summary); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Close closes the sinks
func (w *Worker) Close() error {
	if w.deps.Sink == nil {
		return nil
	}
	return w.deps.Sink.Close()
}
