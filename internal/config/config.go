// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/runcalcs-crawler/internal/dedup"
	"github.com/JakeFAU/runcalcs-crawler/internal/extract"
	"github.com/JakeFAU/runcalcs-crawler/internal/pipeline"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Races    RacesConfig    `mapstructure:"races"`
	Articles ArticlesConfig `mapstructure:"articles"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	DB       DBConfig       `mapstructure:"db"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	RunTimeoutSeconds     int `mapstructure:"run_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures page fetching, politeness and retries.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	UserAgent        string  `mapstructure:"user_agent"`
	RespectRobots    bool    `mapstructure:"respect_robots"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
	RPS              float64 `mapstructure:"rps"`
	Burst            int     `mapstructure:"burst"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`

	// DomainRPS overrides RPS for specific hosts.
	DomainRPS map[string]float64 `mapstructure:"domain_rps"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int  `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"` // visible characters below which a scripted page is rendered
	ScrollSteps        int  `mapstructure:"scroll_steps"`
}

// CrawlerConfig governs the crawl loop.
type CrawlerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// BlockedDomains are never fetched. "*.example.com" blocks a domain and its subdomains.
	BlockedDomains []string `mapstructure:"blocked_domains"`
	// Timezone is the IANA zone zone-less dates are read in and "today" is judged by.
	Timezone string `mapstructure:"timezone"`
	// AsOf (YYYY-MM-DD) pins the run clock to that date, to replay expiry. Empty uses the wall clock.
	AsOf string `mapstructure:"as_of"`
}

// StorageConfig selects and configures the dataset blob store.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Region      string `mapstructure:"region"`
	Prefix      string `mapstructure:"prefix"`
	BaseDir     string `mapstructure:"base_dir"`
	ContentType string `mapstructure:"content_type"`

	// CacheControl is applied to datasets written to gcs or s3.
	CacheControl string `mapstructure:"cache_control"`
}

// MatchingConfig tunes race identity.
type MatchingConfig struct {
	NameSimilarity float64 `mapstructure:"name_similarity"`
	DateWindowDays int     `mapstructure:"date_window_days"`
}

// RacesConfig configures the race variant.
type RacesConfig struct {
	Key               string                  `mapstructure:"key"`
	PageBudget        int                     `mapstructure:"page_budget"`
	Seeds             []string                `mapstructure:"seeds"`
	DefaultDistanceKM float64                 `mapstructure:"default_distance_km"`
	Matching          MatchingConfig          `mapstructure:"matching"`
	BaselineEnabled   bool                    `mapstructure:"baseline_enabled"`
	Baseline          []pipeline.BaselineRace `mapstructure:"baseline"`
}

// ArticlesConfig configures the article variant.
type ArticlesConfig struct {
	Key        string   `mapstructure:"key"`
	PageBudget int      `mapstructure:"page_budget"`
	Seeds      []string `mapstructure:"seeds"`
}

// ExtractConfig tunes the requirement-text heuristic.
type ExtractConfig struct {
	RequirementKeywords     []string `mapstructure:"requirement_keywords"`
	MaxRequirementSentences int      `mapstructure:"max_requirement_sentences"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the run ledger.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// MetricsConfig configures the Pushgateway used by one-shot runs.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// DefaultRaceSeeds are marathon calendar pages.
var DefaultRaceSeeds = []string{
	"https://aims-worldrunning.org/calendar.html",
	"https://www.worldmarathonmajors.com/races",
	"https://www.runningintheusa.com/classic/list/marathon/upcoming",
	"https://www.marathonguide.com/races/racecalendar.cfm",
}

// DefaultArticleSeeds are running news sections and feeds.
var DefaultArticleSeeds = []string{
	"https://www.runnersworld.com/news/",
	"https://www.letsrun.com/feed/",
	"https://www.irunfar.com/feed",
	"https://worldathletics.org/news",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.run_timeout_seconds", 900)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "runcalcs-crawler/1.0 (+https://runcalcs.com)")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.max_body_bytes", 5*1024*1024)
	v.SetDefault("http.rps", 1.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 200)
	v.SetDefault("headless.scroll_steps", 2)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.timezone", "UTC")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("storage.cache_control", "public, max-age=300")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("races.key", "races/upcoming.json")
	v.SetDefault("races.page_budget", 20)
	v.SetDefault("races.seeds", DefaultRaceSeeds)
	v.SetDefault("races.default_distance_km", record.MarathonDistanceKM)
	v.SetDefault("races.matching.name_similarity", dedup.DefaultNameSimilarity)
	v.SetDefault("races.matching.date_window_days", dedup.DefaultDateWindowDays)
	v.SetDefault("races.baseline_enabled", true)
	v.SetDefault("articles.key", "articles/latest.json")
	v.SetDefault("articles.page_budget", 20)
	v.SetDefault("articles.seeds", DefaultArticleSeeds)
	v.SetDefault("extract.requirement_keywords", extract.DefaultRequirementKeywords)
	v.SetDefault("extract.max_requirement_sentences", extract.DefaultMaxRequirementSentences)
	v.SetDefault("db.table", "pipeline_runs")
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("metrics.job", "runcalcs_crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if _, err := time.LoadLocation(c.Crawler.Timezone); err != nil {
		return fmt.Errorf("crawler.timezone %q is not a valid IANA zone: %w", c.Crawler.Timezone, err)
	}
	if c.Crawler.AsOf != "" {
		if _, err := time.Parse(time.DateOnly, c.Crawler.AsOf); err != nil {
			return fmt.Errorf("crawler.as_of %q must be a YYYY-MM-DD date", c.Crawler.AsOf)
		}
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS, BackendS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs, s3 (got %q)", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Races.Key) == "" {
		return fmt.Errorf("races.key is required")
	}
	if c.Races.PageBudget <= 0 {
		return fmt.Errorf("races.page_budget must be > 0")
	}
	if s := c.Races.Matching.NameSimilarity; s <= 0 || s > 1 {
		return fmt.Errorf("races.matching.name_similarity must be in (0, 1]")
	}
	if c.Races.Matching.DateWindowDays < 0 {
		return fmt.Errorf("races.matching.date_window_days must be >= 0")
	}
	if c.Races.DefaultDistanceKM <= 0 {
		return fmt.Errorf("races.default_distance_km must be > 0")
	}
	for i, b := range c.Races.Baseline {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("races.baseline[%d]: %w", i, err)
		}
	}
	if strings.TrimSpace(c.Articles.Key) == "" {
		return fmt.Errorf("articles.key is required")
	}
	if c.Articles.PageBudget <= 0 {
		return fmt.Errorf("articles.page_budget must be > 0")
	}
	if c.Extract.MaxRequirementSentences < 0 {
		return fmt.Errorf("extract.max_requirement_sentences must be >= 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name is required when pubsub.project_id is set")
	}
	return nil
}

// Location resolves crawler.timezone. Validate has already rejected unknown zones.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Crawler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AsOf returns noon of the pinned run date in the configured zone, and false when runs use the
// wall clock.
func (c Config) AsOf() (time.Time, bool) {
	if c.Crawler.AsOf == "" {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(time.DateOnly, c.Crawler.AsOf, c.Location())
	if err != nil {
		return time.Time{}, false
	}
	return day.Add(12 * time.Hour), true
}

// PageTimeout is the per-page fetch timeout.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RaceBaseline returns the curated races to inject: nil when disabled, the configured list when
// one is set, the built-in majors otherwise.
func (c Config) RaceBaseline() []pipeline.BaselineRace {
	if !c.Races.BaselineEnabled {
		return nil
	}
	if len(c.Races.Baseline) > 0 {
		return c.Races.Baseline
	}
	return pipeline.DefaultBaseline()
}

// RaceRun resolves the race variant's run configuration.
func (c Config) RaceRun() pipeline.RunConfig {
	return pipeline.RunConfig{
		Variant:    pipeline.VariantRaces,
		Bucket:     c.Storage.Bucket,
		Key:        c.Races.Key,
		PageBudget: c.Races.PageBudget,
		Seeds:      append([]string(nil), c.Races.Seeds...),
	}
}

// ArticleRun resolves the article variant's run configuration.
func (c Config) ArticleRun() pipeline.RunConfig {
	return pipeline.RunConfig{
		Variant:    pipeline.VariantArticles,
		Bucket:     c.Storage.Bucket,
		Key:        c.Articles.Key,
		PageBudget: c.Articles.PageBudget,
		Seeds:      append([]string(nil), c.Articles.Seeds...),
	}
}
