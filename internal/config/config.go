package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server      Server            `mapstructure:"server"`
	Storage     Storage           `mapstructure:"storage"`
	Cache       Cache             `mapstructure:"cache"`
	Transform   Transform         `mapstructure:"transform"`
	Compression Compression       `mapstructure:"compression"`
	Headers     []HeaderRule      `mapstructure:"headers"`
	Presets     map[string]string `mapstructure:"presets"`
	Database    Database          `mapstructure:"database"`
	Kafka       Kafka             `mapstructure:"kafka"`
	Retry       Retry             `mapstructure:"retry"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort        string        `mapstructure:"http_port"` // HTTP port to listen on
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Storage holds configuration for the S3-compatible origin store.
type Storage struct {
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Region        string        `mapstructure:"region"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"` // per origin read
	MaxObjectSize int64         `mapstructure:"max_object_size"`
}

// Cache holds the collapsing cache and its backing stores.
type Cache struct {
	Capacity      int           `mapstructure:"capacity"` // max entries in memory
	TTL           time.Duration `mapstructure:"ttl"`
	Shards        int           `mapstructure:"shards"`
	BuildTimeout  time.Duration `mapstructure:"build_timeout"` // outer bound on a single build
	MaxEntryBytes int64         `mapstructure:"max_entry_bytes"`
	NotFoundTTL   time.Duration `mapstructure:"not_found_ttl"`
	Redis         Redis         `mapstructure:"redis"`
}

// Redis configures the optional second cache tier. Empty Addr disables it.
type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Transform holds pipeline limits and policies.
type Transform struct {
	MaxDimension      int           `mapstructure:"max_dimension"`
	MaxPixels         int           `mapstructure:"max_pixels"`
	MaxOperations     int           `mapstructure:"max_operations"`
	MaxSigma          float64       `mapstructure:"max_sigma"`
	DefaultQuality    int           `mapstructure:"default_quality"`
	PipelineTimeout   time.Duration `mapstructure:"pipeline_timeout"`
	WatermarkTimeout  time.Duration `mapstructure:"watermark_timeout"`
	WatermarkMaxBytes int64         `mapstructure:"watermark_max_bytes"`
	WatermarkHosts    []string      `mapstructure:"watermark_hosts"`   // optional allow-list
	WatermarkFont     string        `mapstructure:"watermark_font"`    // TTF path, built-in face when empty
	CropPolicy        string        `mapstructure:"crop_policy"`       // reject | clamp
	WatermarkFailure  string        `mapstructure:"watermark_failure"` // fail | skip
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	ThrottleWait      time.Duration `mapstructure:"throttle_wait"`
}

// Compression configures on-the-fly content encodings.
type Compression struct {
	Types   []string `mapstructure:"types"`
	MinSize int      `mapstructure:"min_size"`
	Level   int      `mapstructure:"level"`
}

// HeaderRule sets response headers for a group of status codes.
type HeaderRule struct {
	StatusCodes []int             `mapstructure:"status_codes"`
	Values      map[string]string `mapstructure:"values"`
}

// Database holds database master and slave configuration.
// An empty master host disables the preset repository.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Kafka holds configuration for the cache warming queue.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	GroupID string   `mapstructure:"group_id"` // Consumer group ID
	Topic   string   `mapstructure:"topic"`    // Kafka topic name
	Brokers []string `mapstructure:"brokers"`  // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// setDefaults registers a default for every key so a partial file is enough.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.fetch_timeout", 10*time.Second)
	v.SetDefault("storage.max_object_size", 50<<20)

	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.shards", 64)
	v.SetDefault("cache.build_timeout", 60*time.Second)
	v.SetDefault("cache.max_entry_bytes", 10<<20)
	v.SetDefault("cache.not_found_ttl", 30*time.Second)
	v.SetDefault("cache.redis.ttl", 24*time.Hour)

	v.SetDefault("transform.max_dimension", 8192)
	v.SetDefault("transform.max_pixels", 64_000_000)
	v.SetDefault("transform.max_operations", 16)
	v.SetDefault("transform.max_sigma", 100.0)
	v.SetDefault("transform.default_quality", 85)
	v.SetDefault("transform.pipeline_timeout", 30*time.Second)
	v.SetDefault("transform.watermark_timeout", 5*time.Second)
	v.SetDefault("transform.watermark_max_bytes", 5<<20)
	v.SetDefault("transform.crop_policy", "reject")
	v.SetDefault("transform.watermark_failure", "fail")
	v.SetDefault("transform.max_concurrent", 8)
	v.SetDefault("transform.throttle_wait", 10*time.Second)

	v.SetDefault("compression.types", []string{"image/svg+xml", "text/plain", "text/css", "application/json", "application/javascript"})
	v.SetDefault("compression.min_size", 1000)
	v.SetDefault("compression.level", 5)

	v.SetDefault("kafka.topic", "image-warm")
	v.SetDefault("kafka.group_id", "image-gateway")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 100*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
}

// bindEnv binds secrets and deployment specific values to environment variables.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"storage.endpoint":     "S3_ENDPOINT",
		"storage.access_key":   "S3_ACCESS_KEY",
		"storage.secret_key":   "S3_SECRET_KEY",
		"cache.redis.addr":     "REDIS_ADDR",
		"cache.redis.password": "REDIS_PASSWORD",
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration file at path, applies defaults and environment overrides.
// A missing file is not an error; defaults and environment are used instead.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}

func (c *Config) validate() error {
	switch c.Transform.CropPolicy {
	case "reject", "clamp":
	default:
		return fmt.Errorf("transform.crop_policy: unknown value %q", c.Transform.CropPolicy)
	}

	switch c.Transform.WatermarkFailure {
	case "fail", "skip":
	default:
		return fmt.Errorf("transform.watermark_failure: unknown value %q", c.Transform.WatermarkFailure)
	}

	if c.Cache.Shards <= 0 || c.Cache.Shards&(c.Cache.Shards-1) != 0 {
		return fmt.Errorf("cache.shards must be a power of two, got %d", c.Cache.Shards)
	}

	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}

	return nil
}
