package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultReservedNames are support files that live next to model directories
// in the archive store and must never be reported as models.
var DefaultReservedNames = []string{
	"hubert_base.pt",
	"MODELS.txt",
	"public_models.json",
	"rmvpe.pt",
}

// Config holds the configuration for all services
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Storage  StorageConfig  `toml:"storage"`
	Fetch    FetchConfig    `toml:"fetch"`
	Extract  ExtractConfig  `toml:"extract"`
	NATS     NATSConfig     `toml:"nats"`
	Janitor  JanitorConfig  `toml:"janitor"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string        `toml:"host"`
	Port               int           `toml:"port"`
	ReadTimeout        time.Duration `toml:"read_timeout"`
	WriteTimeout       time.Duration `toml:"write_timeout"`
	IdleTimeout        time.Duration `toml:"idle_timeout"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout"`
	MaxMultipartMemory int64         `toml:"max_multipart_memory"`
}

// DatabaseConfig holds database connection settings. An empty Driver
// disables acquisition history.
type DatabaseConfig struct {
	Driver     string `toml:"driver"` // postgres, sqlite or empty
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	DBName     string `toml:"dbname"`
	SSLMode    string `toml:"sslmode"`
	SQLitePath string `toml:"sqlite_path"`
}

// RedisConfig holds Redis connection settings. An empty Host disables
// cross-process model name leases.
type RedisConfig struct {
	Host     string        `toml:"host"`
	Port     int           `toml:"port"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	LockTTL  time.Duration `toml:"lock_ttl"`
}

// StorageConfig holds archive store configuration
type StorageConfig struct {
	Type          string        `toml:"type"` // local, memory
	RootPath      string        `toml:"root_path"`
	ReservedNames []string      `toml:"reserved_names"`
	ListCacheTTL  time.Duration `toml:"list_cache_ttl"`
}

// FetchConfig controls remote archive retrieval
type FetchConfig struct {
	Timeout   time.Duration `toml:"timeout"`
	MaxBytes  int64         `toml:"max_bytes"` // 0 means unlimited
	UserAgent string        `toml:"user_agent"`
}

// ExtractConfig bounds archive extraction
type ExtractConfig struct {
	MaxBytes          int64 `toml:"max_bytes"`
	MaxEntries        int   `toml:"max_entries"`
	FlattenSingleRoot bool  `toml:"flatten_single_root"`
}

// NATSConfig holds the NATS notification settings. An empty URL disables events.
type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// JanitorConfig controls the periodic sweep of orphaned staging and download files
type JanitorConfig struct {
	Enabled  bool          `toml:"enabled"`
	Schedule string        `toml:"schedule"`
	MaxAge   time.Duration `toml:"max_age"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json, console
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               3001,
			ReadTimeout:        5 * time.Minute,
			WriteTimeout:       35 * time.Minute,
			IdleTimeout:        120 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			MaxMultipartMemory: 32 << 20,
		},
		Database: DatabaseConfig{
			Host:       "localhost",
			Port:       5432,
			User:       "rvcstore",
			DBName:     "rvcstore",
			SSLMode:    "disable",
			SQLitePath: "rvcstore.db",
		},
		Redis: RedisConfig{
			Port:    6379,
			LockTTL: 2 * time.Hour,
		},
		Storage: StorageConfig{
			Type:          "local",
			RootPath:      "./rvc_models",
			ReservedNames: append([]string(nil), DefaultReservedNames...),
			ListCacheTTL:  5 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Minute,
			UserAgent: "rvcstore/1.0",
		},
		Extract: ExtractConfig{
			MaxBytes:          10 << 30,
			MaxEntries:        10000,
			FlattenSingleRoot: false,
		},
		NATS: NATSConfig{
			Subject: "rvcstore.models.added",
		},
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: "@every 15m",
			MaxAge:   6 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("PORT", getEnvInt("SERVER_PORT", c.Server.Port))
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxMultipartMemory = getEnvInt64("SERVER_MAX_MULTIPART_MEMORY", c.Server.MaxMultipartMemory)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.SQLitePath = getEnv("DB_SQLITE_PATH", c.Database.SQLitePath)

	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.LockTTL = getEnvDuration("REDIS_LOCK_TTL", c.Redis.LockTTL)

	c.Storage.Type = getEnv("STORAGE_TYPE", c.Storage.Type)
	c.Storage.RootPath = getEnv("MODELS_ROOT", c.Storage.RootPath)
	c.Storage.ReservedNames = getEnvList("MODELS_RESERVED_NAMES", c.Storage.ReservedNames)
	c.Storage.ListCacheTTL = getEnvDuration("LIST_CACHE_TTL", c.Storage.ListCacheTTL)

	c.Fetch.Timeout = getEnvDuration("FETCH_TIMEOUT", c.Fetch.Timeout)
	c.Fetch.MaxBytes = getEnvInt64("FETCH_MAX_BYTES", c.Fetch.MaxBytes)
	c.Fetch.UserAgent = getEnv("FETCH_USER_AGENT", c.Fetch.UserAgent)

	c.Extract.MaxBytes = getEnvInt64("EXTRACT_MAX_BYTES", c.Extract.MaxBytes)
	c.Extract.MaxEntries = getEnvInt("EXTRACT_MAX_ENTRIES", c.Extract.MaxEntries)
	c.Extract.FlattenSingleRoot = getEnvBool("EXTRACT_FLATTEN_SINGLE_ROOT", c.Extract.FlattenSingleRoot)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Subject = getEnv("NATS_SUBJECT", c.NATS.Subject)

	c.Janitor.Enabled = getEnvBool("JANITOR_ENABLED", c.Janitor.Enabled)
	c.Janitor.Schedule = getEnv("JANITOR_SCHEDULE", c.Janitor.Schedule)
	c.Janitor.MaxAge = getEnvDuration("JANITOR_MAX_AGE", c.Janitor.MaxAge)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// Enabled reports whether a database is configured
func (d *DatabaseConfig) Enabled() bool {
	return d.Driver != ""
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Enabled reports whether Redis is configured
func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}

// SetupLogging configures the global zerolog logger
func (l LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if l.Format == "console" || l.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
