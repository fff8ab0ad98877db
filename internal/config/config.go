// Package config loads gateway configuration from defaults, an optional
// YAML file and SENTREL_-prefixed environment variables, in that order of
// precedence (lowest to highest).
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full gateway configuration.
type Config struct {
	AppName string
	Debug   bool

	Logging    LoggingConfig
	Server     ServerConfig
	Auth       AuthConfig
	CORS       CORSConfig
	Ingestion  IngestionConfig
	OpenSearch OpenSearchConfig
	Queue      QueueConfig
	RateLimit  RateLimitConfig
	GeoIP      GeoIPConfig
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type AuthConfig struct {
	Required          bool
	AllowedPublicKeys []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type IngestionConfig struct {
	MaxRequestSize int64
	ProjectIDs     []int
	BatchSize      int
	BatchTimeout   time.Duration
	MaxPending     int
}

type OpenSearchConfig struct {
	Hosts          []string
	Username       string
	Password       string
	UseSSL         bool
	VerifyCerts    bool
	CACerts        string
	IndexPrefix    string
	WorkerPoolSize int
}

type QueueConfig struct {
	Enabled bool
	URL     string
	Subject string
}

type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
	RedisURL string
}

type GeoIPConfig struct {
	Enabled      bool
	DatabasePath string
}

// Load reads configuration. configPath may be empty; environment variables
// with the SENTREL prefix override file values (SENTREL_SERVER_PORT etc).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SENTREL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		AppName: v.GetString("app_name"),
		Debug:   v.GetBool("debug"),
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			IdleTimeout:  v.GetDuration("server.idle_timeout"),
		},
		Auth: AuthConfig{
			Required:          v.GetBool("auth.required"),
			AllowedPublicKeys: stringList(v.Get("auth.allowed_public_keys")),
		},
		CORS: CORSConfig{
			AllowedOrigins: stringList(v.Get("cors.allowed_origins")),
		},
		Ingestion: IngestionConfig{
			MaxRequestSize: v.GetInt64("ingestion.max_request_size"),
			ProjectIDs:     intList(v.Get("ingestion.project_ids")),
			BatchSize:      v.GetInt("ingestion.batch_size"),
			BatchTimeout:   v.GetDuration("ingestion.batch_timeout"),
			MaxPending:     v.GetInt("ingestion.max_pending"),
		},
		OpenSearch: OpenSearchConfig{
			Hosts:          stringList(v.Get("opensearch.hosts")),
			Username:       v.GetString("opensearch.username"),
			Password:       v.GetString("opensearch.password"),
			UseSSL:         v.GetBool("opensearch.use_ssl"),
			VerifyCerts:    v.GetBool("opensearch.verify_certs"),
			CACerts:        v.GetString("opensearch.ca_certs"),
			IndexPrefix:    v.GetString("opensearch.index_prefix"),
			WorkerPoolSize: v.GetInt("opensearch.worker_pool_size"),
		},
		Queue: QueueConfig{
			Enabled: v.GetBool("queue.enabled"),
			URL:     v.GetString("queue.url"),
			Subject: v.GetString("queue.subject"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("ratelimit.enabled"),
			Requests: v.GetInt("ratelimit.requests"),
			Window:   v.GetDuration("ratelimit.window"),
			RedisURL: v.GetString("ratelimit.redis_url"),
		},
		GeoIP: GeoIPConfig{
			Enabled:      v.GetBool("geoip.enabled"),
			DatabasePath: v.GetString("geoip.database_path"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "sentrel")
	v.SetDefault("debug", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("auth.required", true)
	v.SetDefault("auth.allowed_public_keys", []string{})

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("ingestion.max_request_size", int64(5*1024*1024))
	v.SetDefault("ingestion.project_ids", []string{})
	v.SetDefault("ingestion.batch_size", 100)
	v.SetDefault("ingestion.batch_timeout", 5*time.Second)
	v.SetDefault("ingestion.max_pending", 10000)

	v.SetDefault("opensearch.hosts", []string{"http://localhost:9200"})
	v.SetDefault("opensearch.username", "")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.use_ssl", false)
	v.SetDefault("opensearch.verify_certs", true)
	v.SetDefault("opensearch.ca_certs", "")
	v.SetDefault("opensearch.index_prefix", "sentry-events")
	v.SetDefault("opensearch.worker_pool_size", 10)

	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.url", "nats://localhost:4222")
	v.SetDefault("queue.subject", "sentrel.events")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests", 1000)
	v.SetDefault("ratelimit.window", 60*time.Second)
	v.SetDefault("ratelimit.redis_url", "")

	v.SetDefault("geoip.enabled", false)
	v.SetDefault("geoip.database_path", "")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Ingestion.MaxRequestSize <= 0 {
		return fmt.Errorf("ingestion.max_request_size must be positive")
	}
	if c.Ingestion.BatchSize <= 0 {
		return fmt.Errorf("ingestion.batch_size must be positive")
	}
	if len(c.OpenSearch.Hosts) == 0 {
		return fmt.Errorf("opensearch.hosts must not be empty")
	}
	if c.RateLimit.Enabled && c.RateLimit.Requests <= 0 {
		return fmt.Errorf("ratelimit.requests must be positive")
	}
	return nil
}

// stringList normalizes list-valued keys: native slices from YAML, a JSON
// array literal, or a comma-separated string from the environment.
func stringList(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		return parseListString(v)
	default:
		return nil
	}
}

func parseListString(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var parsed []string
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			return parsed
		}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// intList converts a list value to ints, skipping unparseable entries.
func intList(raw interface{}) []int {
	var out []int
	for _, s := range stringList(raw) {
		if n, err := strconv.Atoi(s); err == nil {
			out = append(out, n)
		}
	}
	return out
}
