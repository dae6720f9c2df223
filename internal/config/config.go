package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/searchsync/indexqueue/internal/domain"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all runtime configuration. Values come from environment
// variables; an optional TOML file named by CONFIG_FILE supplies defaults
// beneath them. INDEX_QUEUE_SECRET is always required, DATABASE_URL only for
// the postgres backend.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Storage
	QueueBackend string
	DatabaseURL  string
	DBMaxConns   int32
	DBMinConns   int32

	// Shared secret keying the request hash. Never transmitted.
	Secret string

	// Dispatch to the rendering frontend
	RenderBaseURL       string
	DispatchTimeout     time.Duration
	DispatchInsecureTLS bool
	DispatchUserAgent   string
	BasicAuthUser       string
	BasicAuthPassword   string
	DispatchActions     []string

	// Background processing
	Workers            int
	WorkQueueCapacity  int
	SchedulerInterval  time.Duration
	SchedulerBatchSize int
	LeaseDuration      time.Duration
	ReaperInterval     time.Duration

	// Rate limiting: maximum dispatches per second per site (0 = unlimited)
	RateLimitPerSite int

	// Replay protection for the rendering endpoint (optional)
	RedisAddr     string
	RedisPassword string
	ReplayTTL     time.Duration

	IndexingConfigurations []domain.IndexingConfiguration
}

// source resolves a setting: environment first, then the config file.
type source struct {
	file map[string]any
}

// fileConfig holds the structured part of the config file.
type fileConfig struct {
	IndexingConfigurations []domain.IndexingConfiguration `toml:"indexing_configurations"`
}

// Load reads the optional file named by CONFIG_FILE and the environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit config file path. An empty path means
// environment only.
func LoadFile(path string) (*Config, error) {
	src := source{file: map[string]any{}}
	var structured fileConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &src.file); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if err := toml.Unmarshal(data, &structured); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg := &Config{
		HTTPPort:        src.getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     src.getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    src.getDuration("WRITE_TIMEOUT", 90*time.Second),
		ShutdownTimeout: src.getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		QueueBackend: strings.ToLower(src.getEnv("QUEUE_BACKEND", BackendPostgres)),
		DatabaseURL:  src.getEnv("DATABASE_URL", ""),
		DBMaxConns:   int32(src.getInt("DB_MAX_CONNS", 25)),
		DBMinConns:   int32(src.getInt("DB_MIN_CONNS", 5)),

		Secret: src.getEnv("INDEX_QUEUE_SECRET", ""),

		RenderBaseURL:       src.getEnv("RENDER_BASE_URL", "http://localhost/index.php"),
		DispatchTimeout:     src.getDuration("DISPATCH_TIMEOUT", 60*time.Second),
		DispatchInsecureTLS: src.getBool("DISPATCH_INSECURE_TLS", true),
		DispatchUserAgent:   src.getEnv("DISPATCH_USER_AGENT", "indexqueue"),
		BasicAuthUser:       src.getEnv("DISPATCH_BASIC_AUTH_USER", ""),
		BasicAuthPassword:   src.getEnv("DISPATCH_BASIC_AUTH_PASSWORD", ""),
		DispatchActions:     src.getList("DISPATCH_ACTIONS", []string{"indexPage"}),

		Workers:            src.getInt("WORKERS", 4),
		WorkQueueCapacity:  src.getInt("WORK_QUEUE_CAPACITY", 2000),
		SchedulerInterval:  src.getDuration("SCHEDULER_INTERVAL", 5*time.Second),
		SchedulerBatchSize: src.getInt("SCHEDULER_BATCH_SIZE", 50),
		LeaseDuration:      src.getDuration("LEASE_DURATION", 5*time.Minute),
		ReaperInterval:     src.getDuration("REAPER_INTERVAL", 30*time.Second),

		RateLimitPerSite: src.getInt("RATE_LIMIT_PER_SITE", 10),

		RedisAddr:     src.getEnv("REDIS_ADDR", ""),
		RedisPassword: src.getEnv("REDIS_PASSWORD", ""),
		ReplayTTL:     src.getDuration("REPLAY_TTL", 10*time.Minute),

		IndexingConfigurations: structured.IndexingConfigurations,
	}

	if len(cfg.IndexingConfigurations) == 0 {
		cfg.IndexingConfigurations = []domain.IndexingConfiguration{{Name: "pages", Table: "pages"}}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Secret == "" {
		return fmt.Errorf("INDEX_QUEUE_SECRET is required")
	}
	switch c.QueueBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}
	if c.LeaseDuration <= c.DispatchTimeout {
		return fmt.Errorf("LEASE_DURATION (%s) must exceed DISPATCH_TIMEOUT (%s)", c.LeaseDuration, c.DispatchTimeout)
	}
	seen := make(map[string]bool, len(c.IndexingConfigurations))
	for _, ic := range c.IndexingConfigurations {
		if ic.Name == "" || ic.Table == "" {
			return fmt.Errorf("indexing configuration needs name and table")
		}
		if seen[ic.Name] {
			return fmt.Errorf("duplicate indexing configuration %q", ic.Name)
		}
		seen[ic.Name] = true
	}
	return nil
}

func (s source) lookup(key string) (string, bool) {
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	if v, ok := s.file[strings.ToLower(key)]; ok {
		return fmt.Sprint(v), true
	}
	return "", false
}

func (s source) getEnv(key, defaultVal string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return defaultVal
}

func (s source) getInt(key string, defaultVal int) int {
	if v, ok := s.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func (s source) getBool(key string, defaultVal bool) bool {
	if v, ok := s.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func (s source) getDuration(key string, defaultVal time.Duration) time.Duration {
	if v, ok := s.lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getList reads a comma-separated list. TOML arrays are accepted as well.
func (s source) getList(key string, defaultVal []string) []string {
	if v := os.Getenv(key); v != "" {
		return splitList(v)
	}
	switch v := s.file[strings.ToLower(key)].(type) {
	case string:
		return splitList(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
