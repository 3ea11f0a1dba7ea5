package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Articles  ArticlesConfig  `yaml:"articles"`
	Redis     RedisConfig     `yaml:"redis"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// AuthConfig controls how bearer tokens are resolved to users.
type AuthConfig struct {
	// Disabled accepts any token as the user id. Only for local development.
	Disabled bool `yaml:"disabled"`
}

type SessionConfig struct {
	MaxParticipants  int           `yaml:"max_participants"`
	TTL              time.Duration `yaml:"ttl"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	RecentOperations int           `yaml:"recent_operations"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	SendBuffer     int           `yaml:"send_buffer"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// ArticlesConfig selects the article store: "sqlite" uses the local
// database, "postgres" an external one.
type ArticlesConfig struct {
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RedisConfig enables article leases so several instances can share one
// postgres article store. LeaseTTL bounds how long a crashed instance keeps
// its articles.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		DB: DBConfig{
			Path: "inkwell.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Session: SessionConfig{
			MaxParticipants:  10,
			TTL:              24 * time.Hour,
			IdleTimeout:      time.Hour,
			SweepInterval:    5 * time.Minute,
			RecentOperations: 50,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    70 * time.Second,
			WriteTimeout:   10 * time.Second,
			SendBuffer:     256,
			MaxMessageSize: 1 << 20,
		},
		Articles: ArticlesConfig{
			Driver: "sqlite",
		},
		Redis: RedisConfig{
			Prefix:   "inkwell:lease:",
			LeaseTTL: 15 * time.Minute,
		},
		Archive: ArchiveConfig{
			Prefix: "sessions",
			Region: "us-east-1",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "inkwell",
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("INKWELL_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Session.MaxParticipants <= 0 {
		errs = append(errs, errors.New("session.max_participants must be positive"))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("session.sweep_interval must be positive"))
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		errs = append(errs, errors.New("websocket.ping_interval must be shorter than websocket.read_timeout"))
	}
	switch c.Articles.Driver {
	case "sqlite":
	case "postgres":
		if c.Articles.PostgresDSN == "" {
			errs = append(errs, errors.New("articles.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown articles.driver %q", c.Articles.Driver))
	}
	if c.Redis.Addr != "" {
		if c.Articles.Driver != "postgres" {
			errs = append(errs, errors.New("redis.addr requires the postgres articles driver"))
		}
		if c.Redis.LeaseTTL <= c.Session.SweepInterval {
			errs = append(errs, errors.New("redis.lease_ttl must be longer than session.sweep_interval"))
		}
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, errors.New("archive.bucket is required when archiving is enabled"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("INKWELL_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if err := envInt("INKWELL_SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if dbPath := os.Getenv("INKWELL_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("INKWELL_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if logPath := os.Getenv("INKWELL_LOG_PATH"); logPath != "" {
		cfg.Log.Path = logPath
	}
	if err := envBool("INKWELL_AUTH_DISABLED", &cfg.Auth.Disabled); err != nil {
		return err
	}

	if err := envInt("INKWELL_SESSION_MAX_PARTICIPANTS", &cfg.Session.MaxParticipants); err != nil {
		return err
	}
	if err := envDuration("INKWELL_SESSION_TTL", &cfg.Session.TTL); err != nil {
		return err
	}
	if err := envDuration("INKWELL_SESSION_IDLE_TIMEOUT", &cfg.Session.IdleTimeout); err != nil {
		return err
	}
	if err := envDuration("INKWELL_SESSION_SWEEP_INTERVAL", &cfg.Session.SweepInterval); err != nil {
		return err
	}
	if err := envDuration("INKWELL_WEBSOCKET_PING_INTERVAL", &cfg.WebSocket.PingInterval); err != nil {
		return err
	}
	if err := envDuration("INKWELL_WEBSOCKET_READ_TIMEOUT", &cfg.WebSocket.ReadTimeout); err != nil {
		return err
	}

	if driver := os.Getenv("INKWELL_ARTICLES_DRIVER"); driver != "" {
		cfg.Articles.Driver = driver
	}
	if dsn := os.Getenv("INKWELL_ARTICLES_POSTGRES_DSN"); dsn != "" {
		cfg.Articles.PostgresDSN = dsn
	}

	if addr := os.Getenv("INKWELL_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("INKWELL_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if err := envDuration("INKWELL_REDIS_LEASE_TTL", &cfg.Redis.LeaseTTL); err != nil {
		return err
	}

	if err := envBool("INKWELL_ARCHIVE_ENABLED", &cfg.Archive.Enabled); err != nil {
		return err
	}
	if bucket := os.Getenv("INKWELL_ARCHIVE_BUCKET"); bucket != "" {
		cfg.Archive.Bucket = bucket
	}
	if endpoint := os.Getenv("INKWELL_ARCHIVE_ENDPOINT"); endpoint != "" {
		cfg.Archive.Endpoint = endpoint
	}
	if key := os.Getenv("INKWELL_ARCHIVE_ACCESS_KEY_ID"); key != "" {
		cfg.Archive.AccessKeyID = key
	}
	if secret := os.Getenv("INKWELL_ARCHIVE_SECRET_ACCESS_KEY"); secret != "" {
		cfg.Archive.SecretAccessKey = secret
	}

	if err := envBool("INKWELL_METRICS_ENABLED", &cfg.Metrics.Enabled); err != nil {
		return err
	}
	return nil
}

func envInt(name string, dst *int) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func envBool(name string, dst *bool) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
