// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/article-harvester/internal/parser"
)

// EnvPrefix is prepended to every environment override, e.g.
// HARVESTER_CRAWL_WORKERS=8.
const EnvPrefix = "HARVESTER"

// Config captures every knob of a harvest run.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Parser  ParserConfig  `mapstructure:"parser"`
	Output  OutputConfig  `mapstructure:"output"`
	GCS     GCSConfig     `mapstructure:"gcs"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig selects the pagination mode and worker pool size. Seed enables
// next-link pagination; Template plus Pages enables numbered pagination.
type CrawlConfig struct {
	Seed        string `mapstructure:"seed"`
	Template    string `mapstructure:"template"`
	FirstPage   string `mapstructure:"first_page"`
	Pages       int    `mapstructure:"pages"`
	Workers     int    `mapstructure:"workers"`
	MaxArticles int    `mapstructure:"max_articles"`
	RateLimitMs int    `mapstructure:"rate_limit_ms"`
	RateBurst   int    `mapstructure:"rate_burst"`
}

// HTTPConfig configures the fetch client and its retry schedule.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	BackoffBaseMs  int    `mapstructure:"backoff_base_ms"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ParserConfig picks a registered parser and tunes it.
type ParserConfig struct {
	Name             string           `mapstructure:"name"`
	ArticleMarkers   []string         `mapstructure:"article_markers"`
	PaginationMarker string           `mapstructure:"pagination_marker"`
	Selectors        parser.Selectors `mapstructure:"selectors"`
}

// OutputConfig controls local record files.
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	Format    string `mapstructure:"format"`
	Batch     string `mapstructure:"batch"`
	Aggregate bool   `mapstructure:"aggregate"`
}

// GCSConfig mirrors records into a bucket.
type GCSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// DBConfig controls the Postgres article store.
type DBConfig struct {
	Enabled                bool   `mapstructure:"enabled"`
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for saved-article notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"seed":         "crawl.seed",
	"template":     "crawl.template",
	"first-page":   "crawl.first_page",
	"pages":        "crawl.pages",
	"workers":      "crawl.workers",
	"max-articles": "crawl.max_articles",
	"output":       "output.dir",
	"format":       "output.format",
	"batch":        "output.batch",
	"parser":       "parser.name",
}

// Load builds a Config from defaults, an optional file, the environment and
// any changed flags in flags, in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
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
	v.SetDefault("crawl.workers", 20)
	v.SetDefault("crawl.pages", 0)
	v.SetDefault("crawl.max_articles", 0)
	v.SetDefault("crawl.rate_limit_ms", 0)
	v.SetDefault("crawl.rate_burst", 1)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_attempts", 4)
	v.SetDefault("http.backoff_base_ms", 1000)
	v.SetDefault("parser.name", parser.GenericName)
	v.SetDefault("parser.pagination_marker", "index_")
	v.SetDefault("output.dir", "articles_txt")
	v.SetDefault("output.format", "txt")
	v.SetDefault("output.batch", "articles")
	v.SetDefault("output.aggregate", true)
	v.SetDefault("gcs.prefix", "articles")
	v.SetDefault("db.table", "articles")
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("pubsub.topic_name", "articles-saved")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	seed := strings.TrimSpace(c.Crawl.Seed)
	template := strings.TrimSpace(c.Crawl.Template)
	switch {
	case seed == "" && template == "":
		return fmt.Errorf("crawl.seed or crawl.template must be set")
	case seed != "" && template != "":
		return fmt.Errorf("crawl.seed and crawl.template are mutually exclusive")
	case template != "" && c.Crawl.Pages <= 0:
		return fmt.Errorf("crawl.pages must be > 0 when crawl.template is set")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.MaxArticles < 0 {
		return fmt.Errorf("crawl.max_articles must be >= 0")
	}
	if c.Crawl.RateLimitMs < 0 {
		return fmt.Errorf("crawl.rate_limit_ms must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffBaseMs < 0 {
		return fmt.Errorf("http.backoff_base_ms must be >= 0")
	}
	if strings.TrimSpace(c.Parser.Name) == "" {
		return fmt.Errorf("parser.name must be set")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if f := strings.ToLower(c.Output.Format); f != "txt" && f != "json" {
		return fmt.Errorf("output.format must be txt or json, got %q", c.Output.Format)
	}
	if c.Output.Aggregate && strings.TrimSpace(c.Output.Batch) == "" {
		return fmt.Errorf("output.batch must be set when output.aggregate is enabled")
	}
	if c.GCS.Enabled && c.GCS.Bucket == "" {
		return fmt.Errorf("gcs.bucket must be set when gcs is enabled")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// RequestTimeout is the per-request HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase is the first retry delay.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.HTTP.BackoffBaseMs) * time.Millisecond
}

// RateInterval is the minimum spacing between requests to one host.
func (c Config) RateInterval() time.Duration {
	return time.Duration(c.Crawl.RateLimitMs) * time.Millisecond
}
