package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Store struct {
		Backend string // postgres or memory
		DSN     string
		Seed    bool
	}
	Lock struct {
		Backend       string // local or redis
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		TTL           time.Duration
	}
	Kafka struct {
		Brokers []string
		Topic   string
		GroupID string
	}
	API struct {
		Port      string
		BasePath  string
		ListLimit int
	}
	Logging struct {
		Dir   string
		Level string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	var cfg Config

	// Store settings
	cfg.Store.Backend = strings.ToLower(getenv("STORE_BACKEND"))
	cfg.Store.DSN = getenv("DB_DSN")
	cfg.Store.Seed = getenv("SEED_THRESHOLDS") != "false"

	// Tuple lock settings
	cfg.Lock.Backend = strings.ToLower(getenv("LOCK_BACKEND"))
	cfg.Lock.RedisAddr = getenv("REDIS_ADDR")
	cfg.Lock.RedisPassword = getenv("REDIS_PASSWORD")
	if db, err := strconv.Atoi(getenv("REDIS_DB")); err == nil {
		cfg.Lock.RedisDB = db
	}
	if ttl := getenv("LOCK_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOCK_TTL %q: %w", ttl, err)
		}
		cfg.Lock.TTL = d
	}

	// Kafka settings
	for _, b := range strings.Split(getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
		}
	}
	cfg.Kafka.Topic = getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = getenv("KAFKA_GROUP_ID")

	// API settings
	cfg.API.Port = getenv("API_PORT")
	cfg.API.BasePath = getenv("API_BASE_PATH")
	if l, err := strconv.Atoi(getenv("ALERT_LIST_LIMIT")); err == nil {
		cfg.API.ListLimit = l
	}

	// Logging settings
	cfg.Logging.Dir = getenv("LOG_DIR")
	cfg.Logging.Level = getenv("LOG_LEVEL")

	// Apply defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "postgres"
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "local"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 30 * time.Second
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "recsignal.metrics"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "recsignal-ingest"
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.API.ListLimit <= 0 || cfg.API.ListLimit > 1000 {
		cfg.API.ListLimit = 200
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	// Validate required settings
	missing := []string{}
	switch cfg.Store.Backend {
	case "postgres":
		if cfg.Store.DSN == "" {
			missing = append(missing, "DB_DSN")
		}
	case "memory":
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
	switch cfg.Lock.Backend {
	case "redis":
		if cfg.Lock.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	case "local":
	default:
		return Config{}, fmt.Errorf("unknown LOCK_BACKEND %q", cfg.Lock.Backend)
	}
	// The API group must not share the root with /health and /metrics.
	if !strings.HasPrefix(cfg.API.BasePath, "/") || strings.Trim(cfg.API.BasePath, "/") == "" {
		return Config{}, fmt.Errorf("API_BASE_PATH must be a non-root path, got %q", cfg.API.BasePath)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	return cfg, nil
}
