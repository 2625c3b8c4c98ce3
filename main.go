package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"sjsage522/emlakworker/config"
	"sjsage522/emlakworker/helpers"
	"sjsage522/emlakworker/internal"
	"sjsage522/emlakworker/internal/crawler"
	"sjsage522/emlakworker/logger"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
	"sjsage522/emlakworker/services/cache"
	"sjsage522/emlakworker/services/proxy"
	"sjsage522/emlakworker/services/publisher"
	"sjsage522/emlakworker/services/sink"
	"sjsage522/emlakworker/services/worker"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()

	if err := newRootCmd().Execute(); err != nil {
		logger.Default.Error().Err(err).Msg("Crawl failed")
		os.Exit(exitCode(err))
	}
}

// exitCode maps a run error onto the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, crawlerrors.ErrNoSeeds):
		return 2
	default:
		return 1
	}
}

type flags struct {
	input          string
	startURLs      []string
	maxItems       int
	includeDetails bool
	concurrency    int
	navigator      string
	dataset        string
	report         string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "emlakworker",
		Short: "Crawl real-estate listings from sahibinden.com",
		Long: `emlakworker crawls sahibinden.com result pages, optionally follows every
listing to its detail page, and stores the listings in a local SQLite dataset
plus any configured Baserow table, PostgreSQL database or Redis stream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	bindFlags(cmd.Flags(), f)
	return cmd
}

func bindFlags(fs *pflag.FlagSet, f *flags) {
	fs.StringVarP(&f.input, "input", "i", "", "input document (YAML or JSON)")
	fs.StringSliceVar(&f.startURLs, "start-url", nil, "category URL to start from (repeatable)")
	fs.IntVar(&f.maxItems, "max-items", 0, "stop after this many listings (0 = unbounded)")
	fs.BoolVar(&f.includeDetails, "include-details", true, "visit each listing's detail page")
	fs.IntVar(&f.concurrency, "concurrency", 3, "concurrent page visits")
	fs.StringVar(&f.navigator, "navigator", config.NavigatorChrome, "page loader: chrome, http or flaresolverr")
	fs.StringVar(&f.dataset, "dataset", "", "SQLite dataset path")
	fs.StringVar(&f.report, "report", "", "write a Markdown run report to this path")
}

// loadConfig layers the environment, the input document and the flags
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg := config.LoadConfig()

	if f.input != "" {
		in, err := config.LoadInput(f.input)
		if err != nil {
			return nil, crawlerrors.NewConfiguration("invalid input", err)
		}
		in.Apply(cfg)
	}

	changed := cmd.Flags().Changed
	if changed("start-url") {
		cfg.StartURLs = f.startURLs
	}
	if changed("max-items") {
		cfg.MaxItems = f.maxItems
	}
	if changed("include-details") {
		cfg.IncludeDetails = f.includeDetails
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if changed("navigator") {
		cfg.Navigator = f.navigator
	}
	if changed("dataset") {
		cfg.DatasetPath = f.dataset
	}
	if changed("report") {
		cfg.ReportPath = f.report
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config) error {
	log := logger.Default
	if parent == nil {
		parent = context.Background()
	}

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().
		Str("environment", cfg.Environment).
		Str("navigator", cfg.Navigator).
		Dur("crawl_interval", cfg.CrawlInterval).
		Msg("Starting application")

	services, err := initializeServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Cleanup()

	w := worker.NewWorker(cfg, services.Deps)
	defer func() {
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sinks")
		}
	}()

	if err := w.Start(ctx); err != nil {
		return err
	}
	log.Info().Msg("Shutting down gracefully...")
	return nil
}

// Services holds all the initialized services
type Services struct {
	Deps    *internal.Dependencies
	closers []func()
}

// Cleanup releases what the sinks do not own
func (s *Services) Cleanup() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{Deps: &internal.Dependencies{
		Detector: crawler.NewChallengeDetector(),
		Parser:   crawler.NewSahibindenParser(crawler.DefaultSelectors()),
	}}
	deps := services.Deps

	// Host cooldowns live in memcache so parallel workers share them
	if cfg.MemcacheAddr != "" {
		mc := cache.NewMemcacheService(cfg.MemcacheAddr, cfg.MemcachePrefix)
		if err := mc.Ping(); err != nil {
			logger.ForCache().Warn().Err(err).Str("addr", cfg.MemcacheAddr).Msg("Memcache unavailable, host cooldowns disabled")
		} else {
			deps.Cache = mc
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	pm, err := proxy.NewProxyManager(proxy.Config{
		URLs:    cfg.ProxyEndpoints(),
		Country: cfg.ProxyCountry,
	})
	if err != nil {
		return nil, crawlerrors.NewConfiguration("invalid proxy configuration", err)
	}
	if err := pm.UpdateProxies(); err != nil {
		logger.ForProxy().Warn().Err(err).Msg("No proxy passed the latency test")
	}
	if pm.Direct() {
		logger.ForProxy().Warn().Msg("No proxies configured, using direct connections")
	}
	deps.Proxy = pm

	if cfg.FailureLogPath != "" {
		deps.Failures = helpers.NewFailureLog(cfg.FailureLogPath)
	}

	out, err := initializeSinks(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Sink = out

	switch cfg.Navigator {
	case config.NavigatorChrome:
		nav := crawler.NewChromeNavigator(deps.Detector, crawler.ChromeNavigatorOptions{
			Headless: cfg.Headless,
			ExecPath: cfg.ChromePath,
			MaxTabs:  cfg.Concurrency,
		})
		services.closers = append(services.closers, func() { nav.Close() })
		deps.Navigator = nav
	case config.NavigatorFlareSolverr:
		deps.Navigator = crawler.NewFlareSolverrNavigator(cfg.FlareSolverrURL, cfg.NavigationTimeout, deps.Detector)
	default:
		deps.Navigator = crawler.NewHTTPNavigator(deps.Detector, crawler.HTTPNavigatorOptions{
			Timeout: cfg.NavigationTimeout,
		})
	}

	return services, nil
}

// initializeSinks opens the dataset and every configured secondary sink
func initializeSinks(ctx context.Context, cfg *config.Config) (*sink.Multi, error) {
	dataset, err := sink.OpenDataset(cfg.DatasetPath)
	if err != nil {
		return nil, crawlerrors.NewSink("dataset", "failed to open "+cfg.DatasetPath, err)
	}
	logger.Info("Dataset at %s", dataset.Path())
	sinks := []sink.Sink{dataset}

	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	if cfg.BaserowEnabled() {
		baserow, err := sink.NewBaserow(sink.BaserowConfig{
			BaseURL:    cfg.BaserowURL,
			APIToken:   cfg.BaserowToken,
			TableID:    cfg.BaserowTableID,
			DatabaseID: cfg.BaserowDatabaseID,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, baserow)
	}

	if cfg.PostgresDSN != "" {
		pg, err := sink.NewPostgres(ctx, sink.PostgresConfig{DSN: cfg.PostgresDSN, Schema: cfg.PostgresSchema})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, pg)
		logger.Info("Connected to PostgreSQL (schema: %s)", cfg.PostgresSchema)
	}

	if cfg.RedisAddr != "" {
		pub, err := publisher.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamCount, cfg.RedisStreamMaxLength)
		if err != nil {
			closeAll()
			return nil, crawlerrors.NewSink("stream", fmt.Sprintf("failed to connect to redis at %s", cfg.RedisAddr), err)
		}
		sinks = append(sinks, sink.NewStream(pub))
		logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)", cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
	}

	return sink.NewMulti(sinks...), nil
}
