package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Implausible score policies
const (
	PolicyReject = "reject"
	PolicyFlag   = "flag"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig          `yaml:"server"`
	Redis       RedisConfig           `yaml:"redis"`
	Postgres    PostgresConfig        `yaml:"postgres"`
	Kafka       KafkaConfig           `yaml:"kafka"`
	Sync        SyncConfig            `yaml:"sync"`
	Store       StoreConfig           `yaml:"store"`
	Validation  ValidationConfig      `yaml:"validation"`
	Leaderboard LeaderboardConfig     `yaml:"leaderboard"`
	Games       map[string]GameConfig `yaml:"games"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// AdminToken enables the operator endpoints when set
	AdminToken string `yaml:"admin_token"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ScoresTopic   string        `yaml:"scores_topic"`
	RolloverTopic string        `yaml:"rollover_topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SyncConfig holds best-score mirroring worker configuration
type SyncConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// StoreConfig selects the backing store for sessions and ranked sets
type StoreConfig struct {
	Driver           string        `yaml:"driver"`
	OpTimeout        time.Duration `yaml:"op_timeout"`
	SessionRetention time.Duration `yaml:"session_retention"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// ValidationConfig holds replay validation policy
type ValidationConfig struct {
	// ImplausiblePolicy is "reject" (default) or "flag"
	ImplausiblePolicy   string        `yaml:"implausible_policy"`
	DurationGrace       time.Duration `yaml:"duration_grace"`
	MaxInputs           int           `yaml:"max_inputs"`
	RegularityMinEvents int           `yaml:"regularity_min_events"`
	RegularityMaxStddev time.Duration `yaml:"regularity_max_stddev"`
}

// SoftFlagImplausible reports whether bound violations are held for review instead of hard-rejected
func (c *ValidationConfig) SoftFlagImplausible() bool {
	return c.ImplausiblePolicy == PolicyFlag
}

// LeaderboardConfig holds leaderboard query configuration
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
	AroundMax    int `yaml:"around_max"`
}

// GameConfig is the static per-game rate table
type GameConfig struct {
	Name            string        `yaml:"name"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	PointsPerSecond float64       `yaml:"points_per_second"`
	PointsPerInput  float64       `yaml:"points_per_input"`
	BaseAllowance   int64         `yaml:"base_allowance"`
	TournamentOnly  bool          `yaml:"tournament_only"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault reads path, falling back to DefaultConfig only when the file does not
// exist. The returned bool reports whether the defaults were used.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// Parse decodes YAML configuration, expanding environment variables first
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverRedis, DriverMemory:
	case DriverPostgres:
		if !c.Postgres.Enabled {
			return fmt.Errorf("store driver %q requires postgres.enabled", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Validation.ImplausiblePolicy {
	case PolicyReject, PolicyFlag:
	default:
		return fmt.Errorf("unknown implausible_policy %q", c.Validation.ImplausiblePolicy)
	}

	if len(c.Games) == 0 {
		return fmt.Errorf("at least one game must be configured")
	}
	for id, g := range c.Games {
		if g.PointsPerSecond <= 0 && g.PointsPerInput <= 0 {
			return fmt.Errorf("game %q: points_per_second or points_per_input must be positive", id)
		}
		if g.PointsPerSecond < 0 || g.PointsPerInput < 0 || g.BaseAllowance < 0 {
			return fmt.Errorf("game %q: rate table values must be non-negative", id)
		}
	}
	return nil
}

// GameIDs returns the configured game ids in sorted order
func (c *Config) GameIDs() []string {
	ids := make([]string, 0, len(c.Games))
	for id := range c.Games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.ScoresTopic == "" {
		c.Kafka.ScoresTopic = "arcade-verified-scores"
	}
	if c.Kafka.RolloverTopic == "" {
		c.Kafka.RolloverTopic = "arcade-period-rollover"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "arcade-scores"
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 30 * time.Minute
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 1000
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DriverRedis
	}
	if c.Store.OpTimeout == 0 {
		c.Store.OpTimeout = 2 * time.Second
	}
	if c.Store.SessionRetention == 0 {
		c.Store.SessionRetention = 1 * time.Hour
	}
	if c.Store.SweepInterval == 0 {
		c.Store.SweepInterval = 5 * time.Minute
	}

	// Validation defaults
	if c.Validation.ImplausiblePolicy == "" {
		c.Validation.ImplausiblePolicy = PolicyReject
	}
	if c.Validation.DurationGrace == 0 {
		c.Validation.DurationGrace = 5 * time.Second
	}
	if c.Validation.MaxInputs == 0 {
		c.Validation.MaxInputs = 100000
	}
	if c.Validation.RegularityMinEvents == 0 {
		c.Validation.RegularityMinEvents = 50
	}
	if c.Validation.RegularityMaxStddev == 0 {
		c.Validation.RegularityMaxStddev = 2 * time.Millisecond
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 100
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 1000
	}
	if c.Leaderboard.AroundMax == 0 {
		c.Leaderboard.AroundMax = 50
	}

	// Game defaults
	if len(c.Games) == 0 {
		c.Games = DefaultGames()
	}
	for id, g := range c.Games {
		if g.Name == "" {
			g.Name = id
		}
		if g.SessionTTL == 0 {
			g.SessionTTL = 15 * time.Minute
		}
		c.Games[id] = g
	}
}

// DefaultGames returns the rate table shipped with the arcade
func DefaultGames() map[string]GameConfig {
	return map[string]GameConfig{
		"space-rocks": {
			Name:            "Space Rocks",
			SessionTTL:      15 * time.Minute,
			PointsPerSecond: 10,
		},
		"block-drop": {
			Name:            "Block Drop",
			SessionTTL:      30 * time.Minute,
			PointsPerSecond: 40,
			PointsPerInput:  25,
			BaseAllowance:   100,
		},
		"pixel-dash": {
			Name:            "Pixel Dash",
			SessionTTL:      10 * time.Minute,
			PointsPerSecond: 50,
		},
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}
