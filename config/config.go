package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"

	crawlerrors "sjsage522/emlakworker/pkg/errors"
)

// AppName names the data directory
const AppName = "emlakworker"

// DefaultStartURL is the newest-first Istanbul apartments listing
const DefaultStartURL = "https://www.sahibinden.com/satilik-daire/istanbul?sorting=date_desc"

// Navigator names
const (
	NavigatorChrome       = "chrome"
	NavigatorHTTP         = "http"
	NavigatorFlareSolverr = "flaresolverr"
)

// Config represents the application configuration
type Config struct {
	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Memcache configuration
	MemcacheAddr   string
	MemcachePrefix string

	// Crawl configuration
	CrawlInterval     time.Duration
	StartURLs         []string
	MaxItems          int
	IncludeDetails    bool
	Concurrency       int
	MaxAttempts       int
	RequestsPerSecond float64
	SessionPoolSize   int
	SessionMaxUsage   int
	NavigationTimeout time.Duration
	HandlerTimeout    time.Duration
	HostCooldown      time.Duration

	// Navigation
	Navigator       string
	ChromePath      string
	Headless        bool
	FlareSolverrURL string

	// Proxy configuration
	ProxyURLs          []string
	ProxyCountry       string
	ApifyProxyGroups   []string
	ApifyProxyPassword string

	// Sinks
	DatasetPath       string
	BaserowURL        string
	BaserowToken      string
	BaserowTableID    string
	BaserowDatabaseID string
	PostgresDSN       string
	PostgresSchema    string

	// Output
	ReportPath     string
	FailureLogPath string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisStream:          getEnv("REDIS_STREAM", "listings"),
		RedisStreamCount:     getEnvInt("REDIS_STREAM_COUNT", 1),
		RedisStreamMaxLength: getEnvInt("REDIS_STREAM_MAX_LENGTH", 10000),

		MemcacheAddr:   getEnv("MEMCACHE_ADDR", ""),
		MemcachePrefix: getEnv("MEMCACHE_PREFIX", "emlak:"),

		CrawlInterval:     time.Duration(getEnvInt("CRAWL_INTERVAL_SECONDS", 0)) * time.Second,
		StartURLs:         getEnvList("START_URLS", []string{DefaultStartURL}),
		MaxItems:          getEnvInt("MAX_ITEMS", 0),
		IncludeDetails:    getEnvBool("INCLUDE_DETAILS", true),
		Concurrency:       getEnvInt("MAX_CONCURRENCY", 3),
		MaxAttempts:       getEnvInt("MAX_ATTEMPTS", 8),
		RequestsPerSecond: getEnvFloat("REQUESTS_PER_SECOND", 0.5),
		SessionPoolSize:   getEnvInt("SESSION_POOL_SIZE", 10),
		SessionMaxUsage:   getEnvInt("SESSION_MAX_USAGE", 50),
		NavigationTimeout: time.Duration(getEnvInt("NAVIGATION_TIMEOUT_SECONDS", 60)) * time.Second,
		HandlerTimeout:    time.Duration(getEnvInt("HANDLER_TIMEOUT_SECONDS", 120)) * time.Second,
		HostCooldown:      time.Duration(getEnvInt("HOST_COOLDOWN_SECONDS", 30)) * time.Second,

		Navigator:       getEnv("NAVIGATOR", NavigatorChrome),
		ChromePath:      getEnv("CHROME_PATH", ""),
		Headless:        getEnvBool("CHROME_HEADLESS", true),
		FlareSolverrURL: getEnv("FLARESOLVERR_URL", "http://localhost:8191/v1"),

		ProxyURLs:          getEnvList("PROXY_URLS", nil),
		ProxyCountry:       getEnv("PROXY_COUNTRY", "TR"),
		ApifyProxyGroups:   getEnvList("APIFY_PROXY_GROUPS", nil),
		ApifyProxyPassword: getEnv("APIFY_PROXY_PASSWORD", ""),

		DatasetPath:       getEnv("DATASET_PATH", DefaultDatasetPath()),
		BaserowURL:        getEnv("BASEROW_URL", "https://api.baserow.io/api"),
		BaserowToken:      getEnv("BASEROW_API_TOKEN", ""),
		BaserowTableID:    getEnv("BASEROW_TABLE_ID", ""),
		BaserowDatabaseID: getEnv("BASEROW_DATABASE_ID", ""),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		PostgresSchema:    getEnv("POSTGRES_SCHEMA", "public"),

		ReportPath:     getEnv("REPORT_PATH", ""),
		FailureLogPath: getEnv("FAILURE_LOG_PATH", ""),

		Environment: getEnv("EMLAK_ENVIRONMENT", "development"),
	}
}

// DefaultDatasetPath is the dataset file under the XDG data directory
func DefaultDatasetPath() string {
	return filepath.Join(xdg.DataHome, AppName, "dataset.db")
}

// MaxRequests is the total-request ceiling for one crawl
func (c *Config) MaxRequests() int {
	if c.MaxItems > 0 {
		return c.MaxItems * 3
	}
	return 1000
}

// Validate checks the configuration for values the crawl cannot run with
func (c *Config) Validate() error {
	switch c.Navigator {
	case NavigatorChrome, NavigatorHTTP:
	case NavigatorFlareSolverr:
		if c.FlareSolverrURL == "" {
			return crawlerrors.NewConfiguration("flaresolverr navigator needs FLARESOLVERR_URL", nil)
		}
	default:
		return crawlerrors.NewConfiguration("unknown navigator "+strconv.Quote(c.Navigator), nil)
	}
	if c.Concurrency <= 0 {
		return crawlerrors.NewConfiguration("concurrency must be positive", nil)
	}
	if c.MaxAttempts <= 0 {
		return crawlerrors.NewConfiguration("max attempts must be positive", nil)
	}
	if c.MaxItems < 0 {
		return crawlerrors.NewConfiguration("max items must not be negative", nil)
	}
	if c.BaserowToken != "" && c.BaserowTableID == "" {
		return crawlerrors.NewConfiguration("baserow token given without a table id", nil)
	}
	if c.DatasetPath == "" {
		return crawlerrors.NewConfiguration("dataset path is empty", nil)
	}
	return nil
}

// BaserowEnabled reports whether the Baserow sink is configured
func (c *Config) BaserowEnabled() bool {
	return c.BaserowToken != "" && c.BaserowTableID != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
