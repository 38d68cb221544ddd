package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Encryption EncryptionConfig
	Provider   ProviderConfig
	Sync       SyncConfig
	RateLimit  RateLimitConfig
	Redis      RedisConfig
	Backup     BackupConfig
	Scheduler  SchedulerConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type EncryptionConfig struct {
	Key string
}

// ProviderEndpoint is one upstream aggregator deployment
type ProviderEndpoint struct {
	BaseURL  string
	ClientID string
	Secret   string
}

// Enabled reports whether the endpoint is configured
func (p ProviderEndpoint) Enabled() bool {
	return p.BaseURL != "" && p.ClientID != "" && p.Secret != ""
}

type ProviderConfig struct {
	Standard  ProviderEndpoint
	Alternate ProviderEndpoint
	Timeout   time.Duration
}

type SyncConfig struct {
	TTLHigh                    time.Duration
	TTLMedium                  time.Duration
	TTLLow                     time.Duration
	TTLLiabilities             time.Duration
	AutoRefreshThreshold       time.Duration
	AutoSyncThreshold          time.Duration
	FullResyncThreshold        time.Duration
	TransactionSyncProbability float64
	InvestmentWindowMonths     int
	InvestmentPageSize         int
	TransactionPageSize        int
	Concurrency                int
}

type RateLimitConfig struct {
	ManualRefreshLimit  int
	ManualRefreshWindow time.Duration
}

type RedisConfig struct {
	URL string
}

type BackupConfig struct {
	Enabled   bool
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Interval  time.Duration
}

type SchedulerConfig struct {
	Enabled        bool
	ScheduleTimes  []string
	WorkerCount    int
	JobDelay       time.Duration
	QueueSize      int
	RunOnStartup   bool
	DuplicateSweep bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

type LogConfig struct {
	Level       string
	Development bool
}

// envReader collects parse errors so Load can report all of them at once.
type envReader struct {
	err error
}

func (r *envReader) int(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	d, err := parseDuration(value)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (r *envReader) float(key string, def float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func Load() (*Config, error) {
	env := &envReader{}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HOST", "0.0.0.0"),
			ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            env.int("DB_PORT", 5432),
			User:            getEnv("DB_USER", "findash"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "findash"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    env.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    env.int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: env.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Provider: ProviderConfig{
			Standard: ProviderEndpoint{
				BaseURL:  getEnv("PROVIDER_BASE_URL", ""),
				ClientID: getEnv("PROVIDER_CLIENT_ID", ""),
				Secret:   getEnv("PROVIDER_SECRET", ""),
			},
			Alternate: ProviderEndpoint{
				BaseURL:  getEnv("ALT_PROVIDER_BASE_URL", ""),
				ClientID: getEnv("ALT_PROVIDER_CLIENT_ID", ""),
				Secret:   getEnv("ALT_PROVIDER_SECRET", ""),
			},
			Timeout: env.duration("PROVIDER_TIMEOUT", 30*time.Second),
		},
		Sync: SyncConfig{
			TTLHigh:                    env.duration("CACHE_TTL_HIGH", 6*time.Hour),
			TTLMedium:                  env.duration("CACHE_TTL_MEDIUM", 12*time.Hour),
			TTLLow:                     env.duration("CACHE_TTL_LOW", 24*time.Hour),
			TTLLiabilities:             env.duration("CACHE_TTL_LIABILITIES", 24*time.Hour),
			AutoRefreshThreshold:       env.duration("AUTO_REFRESH_THRESHOLD", 12*time.Hour),
			AutoSyncThreshold:          env.duration("AUTO_SYNC_THRESHOLD", 6*time.Hour),
			FullResyncThreshold:        env.duration("FULL_RESYNC_THRESHOLD", 30*24*time.Hour),
			TransactionSyncProbability: env.float("TRANSACTION_SYNC_PROBABILITY", 0.2),
			InvestmentWindowMonths:     env.int("INVESTMENT_WINDOW_MONTHS", 24),
			InvestmentPageSize:         env.int("INVESTMENT_PAGE_SIZE", 500),
			TransactionPageSize:        env.int("TRANSACTION_PAGE_SIZE", 500),
			Concurrency:                env.int("REFRESH_CONCURRENCY", 4),
		},
		RateLimit: RateLimitConfig{
			ManualRefreshLimit:  env.int("MANUAL_REFRESH_LIMIT", 10),
			ManualRefreshWindow: env.duration("MANUAL_REFRESH_WINDOW", 24*time.Hour),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Backup: BackupConfig{
			Enabled:   getBoolEnv("BACKUP_ENABLED", false),
			Bucket:    getEnv("BACKUP_BUCKET", ""),
			Prefix:    getEnv("BACKUP_PREFIX", "findash"),
			Region:    getEnv("BACKUP_REGION", "us-east-1"),
			Endpoint:  getEnv("BACKUP_ENDPOINT", ""),
			AccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_SECRET_KEY", ""),
			Interval:  env.duration("BACKUP_INTERVAL", 24*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes:  splitList(getEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00")),
			WorkerCount:    env.int("SCHEDULER_WORKERS", 5),
			JobDelay:       env.duration("SCHEDULER_JOB_DELAY", time.Second),
			QueueSize:      env.int("SCHEDULER_QUEUE_SIZE", 100),
			RunOnStartup:   getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
			DuplicateSweep: getBoolEnv("SCHEDULER_DUPLICATE_SWEEP", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "findash-api"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getBoolEnv("LOG_DEVELOPMENT", false),
		},
	}

	if env.err != nil {
		return nil, env.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges, reporting every problem.
func (c *Config) Validate() error {
	var err error

	if c.Encryption.Key == "" {
		err = multierr.Append(err, errors.New("ENCRYPTION_KEY is required"))
	} else if len(c.Encryption.Key) != 32 {
		err = multierr.Append(err, errors.New("ENCRYPTION_KEY must be exactly 32 bytes for AES-256"))
	}

	if !c.Provider.Standard.Enabled() {
		err = multierr.Append(err, errors.New("PROVIDER_BASE_URL, PROVIDER_CLIENT_ID and PROVIDER_SECRET are required"))
	}

	p := c.Sync.TransactionSyncProbability
	if p < 0 || p > 1 {
		err = multierr.Append(err, fmt.Errorf("TRANSACTION_SYNC_PROBABILITY must be within [0, 1], got %v", p))
	}
	if c.Sync.TTLHigh <= 0 || c.Sync.TTLMedium <= 0 || c.Sync.TTLLow <= 0 {
		err = multierr.Append(err, errors.New("cache TTLs must be positive"))
	}
	if c.Sync.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("REFRESH_CONCURRENCY must be positive"))
	}

	if c.Backup.Enabled && c.Backup.Bucket == "" {
		err = multierr.Append(err, errors.New("BACKUP_BUCKET is required when BACKUP_ENABLED=true"))
	}

	for _, t := range c.Scheduler.ScheduleTimes {
		if _, perr := time.Parse("15:04", t); perr != nil {
			err = multierr.Append(err, fmt.Errorf("invalid SCHEDULER_TIMES entry %q", t))
		}
	}

	return err
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// parseDuration accepts Go durations plus a "d" suffix for whole days.
func parseDuration(value string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(value)
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
