// Package config loads rolegate configuration.
//
// Configuration comes from a single YAML file named by the --config flag or
// the ROLEGATE_CONFIG environment variable. Secrets and deployment-specific
// endpoints may be overridden by environment variables so the file can be
// committed. When no file is given, defaults plus environment are used.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	id "rolegate/pkg/domain"
	pstrings "rolegate/pkg/platform/strings"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Audit sinks.
const (
	SinkNone     = "none"
	SinkKafka    = "kafka"
	SinkPostgres = "postgres"
)

// Config is the root configuration.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Operators []id.UserID     `yaml:"operators" validate:"min=1,dive,gt=0"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Audit     AuditConfig     `yaml:"audit"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Presence  PresenceConfig  `yaml:"presence"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Log       LogConfig       `yaml:"log"`
	Ops       OpsConfig       `yaml:"ops"`
}

type DiscordConfig struct {
	Token string `yaml:"token" validate:"required"`
	// NotifyChannelID receives an "online" notice on startup when set.
	NotifyChannelID id.ChannelID `yaml:"notify_channel_id"`
	// CommandGuildID registers slash commands in one guild instead of
	// globally. Guild commands update instantly, which helps in development.
	CommandGuildID id.GuildID `yaml:"command_guild_id"`
}

type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file redis postgres memory"`
	// Path is the JSON document for the file backend.
	Path string `yaml:"path" validate:"required_if=Backend file"`
	// Key is the Redis key holding the document.
	Key string `yaml:"key"`
	// Table and Document locate the document row for the postgres backend.
	Table    string `yaml:"table"`
	Document string `yaml:"document"`
}

// RedisConfig mirrors the go-redis pool knobs.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

type AuditConfig struct {
	Sink string `yaml:"sink" validate:"oneof=none kafka postgres"`
	// Buffer is the async publisher queue size; 0 publishes synchronously.
	Buffer int         `yaml:"buffer" validate:"gte=0"`
	Kafka  KafkaConfig `yaml:"kafka"`
	// OpsSampleRate keeps this fraction of operations-category events.
	OpsSampleRate    float64       `yaml:"ops_sample_rate" validate:"gte=0,lte=1"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic             string   `yaml:"topic"`
	CreateTopic       bool     `yaml:"create_topic"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
	Enabled           bool     `yaml:"-"`
}

type ReconcileConfig struct {
	// RatePerSecond bounds platform writes (edits and re-posts) during the
	// startup pass. Zero disables pacing.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
}

type PresenceConfig struct {
	Enabled bool            `yaml:"enabled"`
	Steps   []PresenceEntry `yaml:"steps" validate:"dive"`
}

// PresenceEntry is one step of the status rotation. Kind is guild_count,
// latency or text.
type PresenceEntry struct {
	Kind  string        `yaml:"kind" validate:"oneof=guild_count latency text"`
	Text  string        `yaml:"text"`
	Dwell time.Duration `yaml:"dwell" validate:"gt=0"`
}

type PromptConfig struct {
	Title       string `yaml:"title" validate:"required"`
	Description string `yaml:"description" validate:"required"`
	ButtonLabel string `yaml:"button_label" validate:"required,max=80"`
	Color       int    `yaml:"color" validate:"gte=0,lte=16777215"`

	Granted              string `yaml:"granted" validate:"required"`
	AlreadyGranted       string `yaml:"already_granted" validate:"required"`
	ConfigurationMissing string `yaml:"configuration_missing" validate:"required"`
	AssignmentFailed     string `yaml:"assignment_failed" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

type OpsConfig struct {
	// Addr for /healthz, /readyz, /metrics and /grants. Empty disables.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given. Values
// mirror the original single-file bot.
func Default() Config {
	return Config{
		Operators: []id.UserID{1005408303825829998},
		Store: StoreConfig{
			Backend:  BackendFile,
			Path:     "saved_data.json",
			Key:      "rolegate:grants",
			Table:    "grant_documents",
			Document: "grants",
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			MaxOpenConns: 5,
			MaxIdleConns: 2,
			ConnLifetime: 30 * time.Minute,
		},
		Audit: AuditConfig{
			Sink:   SinkNone,
			Buffer: 256,
			Kafka: KafkaConfig{
				Topic:             "rolegate.audit",
				Partitions:        1,
				ReplicationFactor: 1,
			},
			OpsSampleRate:    1,
			BreakerThreshold: 5,
			BreakerCooldown:  time.Minute,
		},
		Reconcile: ReconcileConfig{RatePerSecond: 5, Burst: 1},
		Presence: PresenceConfig{
			Enabled: true,
			Steps: []PresenceEntry{
				{Kind: "guild_count", Dwell: 10 * time.Second},
				{Kind: "latency", Dwell: 10 * time.Second},
				{Kind: "text", Text: "Press the button to verify", Dwell: 10 * time.Second},
				{Kind: "text", Text: "Role prompts survive restarts", Dwell: 10 * time.Second},
				{Kind: "text", Text: "Watching over you", Dwell: 2 * time.Second},
			},
		},
		Prompt: PromptConfig{
			Title:                "Verification",
			Description:          "Press the button below to receive the role.",
			ButtonLabel:          "Verify",
			Color:                0x00ff00,
			Granted:              "%s has been granted!",
			AlreadyGranted:       "You already have that role!",
			ConfigurationMissing: "The saved role could not be found.",
			AssignmentFailed:     "The role could not be assigned. Please contact a server administrator.",
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Ops: OpsConfig{Addr: ":9090"},
	}
}

var validate = validator.New()

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags plus cross-field requirements the tags can't
// express.
func (c *Config) Validate() error {
	c.Audit.Kafka.Enabled = c.Audit.Sink == SinkKafka
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Store.Backend == BackendRedis && c.Redis.URL == "" {
		return errors.New("config validation failed: store backend redis requires redis.url")
	}
	needsPostgres := c.Store.Backend == BackendPostgres || c.Audit.Sink == SinkPostgres
	if needsPostgres && c.Postgres.DSN == "" {
		return errors.New("config validation failed: postgres backend requires postgres.dsn")
	}
	return nil
}

// IsOperator reports whether userID is on the operator allow-list.
func (c Config) IsOperator(userID id.UserID) bool {
	for _, op := range c.Operators {
		if op == userID {
			return true
		}
	}
	return false
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("ROLEGATE_DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := getenv("ROLEGATE_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := getenv("ROLEGATE_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := getenv("ROLEGATE_OPS_ADDR"); v != "" {
		cfg.Ops.Addr = v
	}
	if v := getenv("ROLEGATE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := getenv("ROLEGATE_KAFKA_BROKERS"); v != "" {
		cfg.Audit.Kafka.Brokers = pstrings.SplitList(v)
	}
	if v := getenv("ROLEGATE_OPERATORS"); v != "" {
		ops := make([]id.UserID, 0)
		for _, raw := range pstrings.SplitList(v) {
			op, err := id.ParseUserID(raw)
			if err != nil {
				return fmt.Errorf("ROLEGATE_OPERATORS: %w", err)
			}
			ops = append(ops, op)
		}
		cfg.Operators = ops
	}
	if v := getenv("ROLEGATE_NOTIFY_CHANNEL_ID"); v != "" {
		ch, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ROLEGATE_NOTIFY_CHANNEL_ID: %w", err)
		}
		cfg.Discord.NotifyChannelID = id.ChannelID(ch)
	}
	return nil
}
