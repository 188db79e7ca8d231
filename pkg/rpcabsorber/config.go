package rpcabsorber

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
)

// Config represents the root configuration of an rpc-absorber client.
// Zero fields keep their default value.
type Config struct {
	// Store selects the local row store holding tables and the response cache.
	Store StoreConfig `yaml:"store" json:"store"`

	// KVStore configures the key-value backend used by the "kv" store and
	// the redis event queue.
	KVStore KVStoreConfig `yaml:"kvstore" json:"kvstore"`

	// TableDefaults is the caching strategy of tables not listed in Tables.
	TableDefaults TableConfig `yaml:"table_defaults" json:"table_defaults"`

	// Tables contains per-table strategy overrides.
	Tables map[string]TableConfig `yaml:"tables,omitempty" json:"tables,omitempty"`

	// WS configures the remote site and the call orchestrator.
	WS WSConfig `yaml:"ws" json:"ws"`

	// Events configures the session and account notification queue.
	Events EventsConfig `yaml:"events" json:"events"`
}

// StoreConfig contains configuration for the local row store.
type StoreConfig struct {
	// Type is one of "sqlite", "mysql", "postgresql", "kv" or "memory".
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// Path is the sqlite database file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// SSLMode is passed to PostgreSQL (e.g. "require", "disable").
	SSLMode string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	// Namespace prefixes every key written by the "kv" store.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	MaxOpenConns      int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns      int           `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`
}

// KVStoreConfig contains configuration for the key-value store.
type KVStoreConfig struct {
	// Type is one of "redis", "dynamodb" or "memory".
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	RedisConfig    RedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	DynamoDBConfig DynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`

	MaxRetries   int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout  time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Endpoints    []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize     int      `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	MinIdleConns int      `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`
}

// DynamoDBConfig contains DynamoDB-specific configuration.
type DynamoDBConfig struct {
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	TableName       string `yaml:"table_name,omitempty" json:"table_name,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// TableConfig selects how a table caches its store.
type TableConfig struct {
	// Strategy is one of "none", "eager", "lazy" or "debug".
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty"`

	// LazyLifetime is how often a lazy table forgets what it memoized.
	LazyLifetime time.Duration `yaml:"lazy_lifetime,omitempty" json:"lazy_lifetime,omitempty"`

	// DebugTarget is the strategy a debug table wraps.
	DebugTarget string `yaml:"debug_target,omitempty" json:"debug_target,omitempty"`
}

// WSConfig configures the remote site and the call orchestrator.
type WSConfig struct {
	SiteID  string        `yaml:"site_id,omitempty" json:"site_id,omitempty"`
	BaseURL string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Token   string        `yaml:"token,omitempty" json:"token,omitempty"`
	Lang    string        `yaml:"lang,omitempty" json:"lang,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// QueueLimit and QueueDelay control batching: a batch is sent when it
	// holds QueueLimit calls or QueueDelay after its first call.
	QueueLimit int           `yaml:"queue_limit,omitempty" json:"queue_limit,omitempty"`
	QueueDelay time.Duration `yaml:"queue_delay,omitempty" json:"queue_delay,omitempty"`

	// Frequencies are the cache expiration delays per update frequency.
	Frequencies FrequencyConfig `yaml:"frequencies,omitempty" json:"frequencies,omitempty"`

	MeteredMultiplier float64       `yaml:"metered_multiplier,omitempty" json:"metered_multiplier,omitempty"`
	BackgroundWindow  time.Duration `yaml:"background_window,omitempty" json:"background_window,omitempty"`

	// CacheErrors lists server error codes cached like responses.
	CacheErrors []string `yaml:"cache_errors,omitempty" json:"cache_errors,omitempty"`

	// Metered starts the client on a metered connection.
	Metered bool `yaml:"metered,omitempty" json:"metered,omitempty"`
}

// FrequencyConfig holds one expiration delay per update frequency.
type FrequencyConfig struct {
	Usually   time.Duration `yaml:"usually,omitempty" json:"usually,omitempty"`
	Often     time.Duration `yaml:"often,omitempty" json:"often,omitempty"`
	Sometimes time.Duration `yaml:"sometimes,omitempty" json:"sometimes,omitempty"`
	Rarely    time.Duration `yaml:"rarely,omitempty" json:"rarely,omitempty"`
}

// EventsConfig configures the notification queue and its dispatcher.
type EventsConfig struct {
	// QueueType is one of "memory", "redis" or "kafka".
	QueueType       string `yaml:"queue_type,omitempty" json:"queue_type,omitempty"`
	QueueBufferSize int    `yaml:"queue_buffer_size,omitempty" json:"queue_buffer_size,omitempty"`
	RedisKey        string `yaml:"redis_key,omitempty" json:"redis_key,omitempty"`

	// DispatchRate is the maximum number of events delivered per second.
	DispatchRate     int           `yaml:"dispatch_rate,omitempty" json:"dispatch_rate,omitempty"`
	BatchSize        int           `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	PollInterval     time.Duration `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	MaxRetries       int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base,omitempty" json:"retry_backoff_base,omitempty"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max,omitempty" json:"retry_backoff_max,omitempty"`

	KafkaConfig KafkaConfig `yaml:"kafka_config,omitempty" json:"kafka_config,omitempty"`
}

// KafkaConfig contains configuration for the Kafka event queue.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	Topic           string        `yaml:"topic,omitempty" json:"topic,omitempty"`
	GroupID         string        `yaml:"group_id,omitempty" json:"group_id,omitempty"`
	BatchSize       int           `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	BatchTimeout    time.Duration `yaml:"batch_timeout,omitempty" json:"batch_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	RequiredAcks    int           `yaml:"required_acks,omitempty" json:"required_acks,omitempty"`
	MaxMessageBytes int           `yaml:"max_message_bytes,omitempty" json:"max_message_bytes,omitempty"`
	MinBytes        int           `yaml:"min_bytes,omitempty" json:"min_bytes,omitempty"`
	MaxBytes        int           `yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`
	MaxWait         time.Duration `yaml:"max_wait,omitempty" json:"max_wait,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults: a sqlite
// store in the working directory, an in-memory event queue and the stock
// expiration delays.
func DefaultConfig() *Config {
	cfg, err := fromInternal(registry.DefaultInternalConfig())
	if err != nil {
		// the defaults always round-trip
		panic(err)
	}
	return cfg
}

// LoadConfig reads a YAML or JSON file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ConfigFromEnv builds a configuration from RPC_ABSORBER_* environment
// variables on top of the defaults.
func ConfigFromEnv() (*Config, error) {
	mgr := registry.NewConfigManager()
	if err := mgr.LoadFromEnv(); err != nil {
		return nil, err
	}
	return fromInternal(mgr.GetConfig())
}

// The public and internal configurations share their YAML layout, so each
// converts into the other through it.

func fromInternal(in *registry.InternalConfig) (*Config, error) {
	data, err := yaml.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// manager validates cfg and loads it into a config manager.
func (c *Config) manager() (*registry.ConfigManager, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	mgr := registry.NewConfigManager()
	if err := mgr.LoadFromYAML(data); err != nil {
		return nil, err
	}
	return mgr, nil
}
