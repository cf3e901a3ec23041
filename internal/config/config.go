// Package config loads and validates the crawler configuration.
// It uses Viper so that every knob can come from a config file,
// environment variables, or CLI flags interchangeably.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OutputFormat selects the sink provider records are persisted through.
type OutputFormat string

// Supported output formats.
const (
	OutputCSV      OutputFormat = "csv"
	OutputPostgres OutputFormat = "postgres"
	OutputNoop     OutputFormat = "noop"
)

// Config holds every setting that influences a crawl run. The struct is
// decoupled from Viper so components stay testable without global state.
type Config struct {
	// Remote API access.
	AccessToken       string
	APIBaseURL        string
	APIVersion        string
	RequestTimeout    time.Duration
	MaxInFlight       int64
	RequestsPerSecond float64

	// Orchestration.
	UpdateCheckPeriod time.Duration
	QueueSize         int
	BatchSize         int
	PageSize          int

	// Resumability ledger.
	CachePath string

	// Output sink.
	Format         OutputFormat
	CSVDir         string
	PostgresDSN    string
	PostgresSchema string

	// Observability.
	MetricsAddr    string
	DevelopmentLog bool
}

// SetDefaults registers every default on the given Viper instance and
// enables environment overrides (FBCRAWLER_API_REQUEST_TIMEOUT etc).
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.data365.co")
	v.SetDefault("api.version", "v1.1")
	v.SetDefault("api.request_timeout", "3s")
	v.SetDefault("api.max_in_flight", 10)
	v.SetDefault("api.requests_per_second", 0.0)

	v.SetDefault("crawler.update_check_period", "3s")
	v.SetDefault("crawler.queue_size", 5)
	v.SetDefault("crawler.batch_size", 5)
	v.SetDefault("crawler.page_size", 100)

	v.SetDefault("cache.path", "./current_task_cache.db")

	v.SetDefault("output.format", string(OutputCSV))
	v.SetDefault("output.csv_dir", "./data")
	v.SetDefault("output.postgres_dsn", "")
	v.SetDefault("output.postgres_schema", "data")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.development", false)

	v.SetEnvPrefix("FBCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load constructs a Config by reading from the given Viper instance.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		AccessToken:       v.GetString("api.access_token"),
		APIBaseURL:        v.GetString("api.base_url"),
		APIVersion:        v.GetString("api.version"),
		RequestTimeout:    v.GetDuration("api.request_timeout"),
		MaxInFlight:       v.GetInt64("api.max_in_flight"),
		RequestsPerSecond: v.GetFloat64("api.requests_per_second"),
		UpdateCheckPeriod: v.GetDuration("crawler.update_check_period"),
		QueueSize:         v.GetInt("crawler.queue_size"),
		BatchSize:         v.GetInt("crawler.batch_size"),
		PageSize:          v.GetInt("crawler.page_size"),
		CachePath:         v.GetString("cache.path"),
		Format:            OutputFormat(v.GetString("output.format")),
		CSVDir:            v.GetString("output.csv_dir"),
		PostgresDSN:       v.GetString("output.postgres_dsn"),
		PostgresSchema:    v.GetString("output.postgres_schema"),
		MetricsAddr:       v.GetString("metrics.addr"),
		DevelopmentLog:    v.GetBool("log.development"),
	}
	return cfg, cfg.Validate()
}

// APIURL returns the versioned API root, e.g. https://api.data365.co/v1.1.
func (c Config) APIURL() string {
	return strings.TrimRight(c.APIBaseURL, "/") + "/" + c.APIVersion
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("api.access_token must be set")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if c.APIVersion == "" {
		return fmt.Errorf("api.version must be set")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be > 0")
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("api.max_in_flight must be > 0")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must be >= 0")
	}
	if c.UpdateCheckPeriod <= 0 {
		return fmt.Errorf("crawler.update_check_period must be > 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("crawler.queue_size must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("crawler.page_size must be > 0")
	}
	if c.CachePath == "" {
		return fmt.Errorf("cache.path must be set")
	}
	switch c.Format {
	case OutputCSV:
		if c.CSVDir == "" {
			return fmt.Errorf("output.csv_dir must be set for csv output")
		}
	case OutputPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("output.postgres_dsn must be set for postgres output")
		}
		if c.PostgresSchema == "" {
			return fmt.Errorf("output.postgres_schema must be set for postgres output")
		}
	case OutputNoop:
	default:
		return fmt.Errorf("unknown output format: %s", c.Format)
	}
	return nil
}
