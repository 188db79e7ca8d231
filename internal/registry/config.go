package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ConfigValidator is the Strategy interface for validating configuration.
// Each KV backend (Redis, DynamoDB, memory) provides its own validator for
// its section of the configuration.
type ConfigValidator interface {
	// Validate validates the KVStore section of the internal configuration.
	Validate(config *InternalConfig) error

	// Type returns the type identifier for this validator (e.g., "redis", "dynamodb").
	Type() string
}

var (
	// validatorRegistry stores all registered config validators.
	validatorRegistry = make(map[string]ConfigValidator)

	// validatorRegistryMutex protects the validator registry from concurrent access.
	validatorRegistryMutex sync.RWMutex

	// structValidator checks the `validate` struct tags.
	structValidator = validator.New()
)

// ValidationStrategyRegistry provides methods to register and retrieve config validators.
type ValidationStrategyRegistry struct{}

// Register registers a config validator.
// Panics if validator is nil, type is empty, or type is already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}

	validatorRegistry[validator.Type()] = validator
}

// Get retrieves a validator by type.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator registers a validator with the default registry.
// This is the preferred way to register validators from init() functions.
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator retrieves a validator by type from the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

var defaultValidationRegistry = &ValidationStrategyRegistry{}

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	mu     sync.RWMutex
	config *InternalConfig
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultInternalConfig(),
	}
}

// DefaultInternalConfig returns a configuration with sensible defaults:
// a local sqlite store, in-memory event queue and the stock orchestrator
// timings.
func DefaultInternalConfig() *InternalConfig {
	return &InternalConfig{
		Store: InternalStoreConfig{
			Type:              "sqlite",
			Path:              "rpc-absorber.db",
			MaxOpenConns:      1,
			MaxIdleConns:      1,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		KVStore: InternalKVStoreConfig{
			Type: "memory",
			RedisConfig: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				DB:           0,
				PoolSize:     10,
				MinIdleConns: 5,
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		TableDefaults: InternalTableConfig{
			Strategy:     "none",
			LazyLifetime: 60 * time.Second,
			DebugTarget:  "none",
		},
		Tables: make(map[string]InternalTableConfig),
		WS: InternalWSConfig{
			SiteID:     "default",
			Timeout:    30 * time.Second,
			QueueLimit: 10,
			QueueDelay: 50 * time.Millisecond,
			Frequencies: InternalFrequencyConfig{
				Usually:   7 * time.Minute,
				Often:     20 * time.Minute,
				Sometimes: time.Hour,
				Rarely:    12 * time.Hour,
			},
			MeteredMultiplier: 1.5,
			BackgroundWindow:  7 * 24 * time.Hour,
		},
		Events: InternalEventsConfig{
			QueueType:        "memory",
			QueueBufferSize:  1000,
			RedisKey:         "rpc-absorber:events",
			DispatchRate:     50,
			BatchSize:        20,
			PollInterval:     100 * time.Millisecond,
			MaxRetries:       3,
			RetryBackoffBase: 100 * time.Millisecond,
			RetryBackoffMax:  5 * time.Second,
			KafkaConfig: InternalKafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "rpc-absorber-events",
				GroupID:         "rpc-absorber-events",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				ReadTimeout:     10 * time.Second,
				RequiredAcks:    -1,
				MaxMessageBytes: 1000000,
				MinBytes:        1,
				MaxBytes:        10 * 1024 * 1024,
				MaxWait:         100 * time.Millisecond,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
// The file format is determined by the file extension (.yaml, .yml, or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data on top of the defaults.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromJSON loads configuration from JSON data on top of the defaults.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return cm.apply(config)
}

// Set validates and installs an already built configuration.
func (cm *ConfigManager) Set(config *InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	return cm.apply(config)
}

func (cm *ConfigManager) apply(config *InternalConfig) error {
	if config.Tables == nil {
		config.Tables = make(map[string]InternalTableConfig)
	}
	if err := ValidateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.mu.Lock()
	cm.config = config
	cm.mu.Unlock()
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables follow the pattern: RPC_ABSORBER_<SECTION>_<KEY>
// Examples:
//   - RPC_ABSORBER_STORE_TYPE=mysql
//   - RPC_ABSORBER_KVSTORE_ENDPOINTS=localhost:6379,localhost:6380
//   - RPC_ABSORBER_WS_BASE_URL=https://school.example.org
//   - RPC_ABSORBER_WS_QUEUE_DELAY=50ms
//   - RPC_ABSORBER_EVENTS_QUEUE_TYPE=kafka
func (cm *ConfigManager) LoadFromEnv() error {
	config := DefaultInternalConfig()

	envString("RPC_ABSORBER_STORE_TYPE", &config.Store.Type)
	envString("RPC_ABSORBER_STORE_PATH", &config.Store.Path)
	envString("RPC_ABSORBER_STORE_HOST", &config.Store.Host)
	envInt("RPC_ABSORBER_STORE_PORT", &config.Store.Port)
	envString("RPC_ABSORBER_STORE_DATABASE", &config.Store.Database)
	envString("RPC_ABSORBER_STORE_USERNAME", &config.Store.Username)
	envString("RPC_ABSORBER_STORE_PASSWORD", &config.Store.Password)
	envString("RPC_ABSORBER_STORE_SSL_MODE", &config.Store.SSLMode)
	envString("RPC_ABSORBER_STORE_NAMESPACE", &config.Store.Namespace)
	envInt("RPC_ABSORBER_STORE_MAX_OPEN_CONNS", &config.Store.MaxOpenConns)
	envInt("RPC_ABSORBER_STORE_MAX_IDLE_CONNS", &config.Store.MaxIdleConns)

	envString("RPC_ABSORBER_KVSTORE_TYPE", &config.KVStore.Type)
	if val := os.Getenv("RPC_ABSORBER_KVSTORE_ENDPOINTS"); val != "" {
		config.KVStore.RedisConfig.Endpoints = strings.Split(val, ",")
	}
	envString("RPC_ABSORBER_KVSTORE_PASSWORD", &config.KVStore.RedisConfig.Password)
	envInt("RPC_ABSORBER_KVSTORE_DB", &config.KVStore.RedisConfig.DB)
	envInt("RPC_ABSORBER_KVSTORE_POOL_SIZE", &config.KVStore.RedisConfig.PoolSize)
	envInt("RPC_ABSORBER_KVSTORE_MAX_RETRIES", &config.KVStore.MaxRetries)
	envString("RPC_ABSORBER_KVSTORE_REGION", &config.KVStore.DynamoDBConfig.Region)
	envString("RPC_ABSORBER_KVSTORE_TABLE_NAME", &config.KVStore.DynamoDBConfig.TableName)
	envString("RPC_ABSORBER_KVSTORE_ENDPOINT", &config.KVStore.DynamoDBConfig.Endpoint)

	envString("RPC_ABSORBER_TABLES_STRATEGY", &config.TableDefaults.Strategy)
	envDuration("RPC_ABSORBER_TABLES_LAZY_LIFETIME", &config.TableDefaults.LazyLifetime)

	envString("RPC_ABSORBER_WS_SITE_ID", &config.WS.SiteID)
	envString("RPC_ABSORBER_WS_BASE_URL", &config.WS.BaseURL)
	envString("RPC_ABSORBER_WS_TOKEN", &config.WS.Token)
	envString("RPC_ABSORBER_WS_LANG", &config.WS.Lang)
	envDuration("RPC_ABSORBER_WS_TIMEOUT", &config.WS.Timeout)
	envInt("RPC_ABSORBER_WS_QUEUE_LIMIT", &config.WS.QueueLimit)
	envDuration("RPC_ABSORBER_WS_QUEUE_DELAY", &config.WS.QueueDelay)
	envDuration("RPC_ABSORBER_WS_BACKGROUND_WINDOW", &config.WS.BackgroundWindow)
	if val := os.Getenv("RPC_ABSORBER_WS_CACHE_ERRORS"); val != "" {
		config.WS.CacheErrors = strings.Split(val, ",")
	}
	if val := os.Getenv("RPC_ABSORBER_WS_METERED"); val != "" {
		config.WS.Metered = val == "true" || val == "1"
	}

	envString("RPC_ABSORBER_EVENTS_QUEUE_TYPE", &config.Events.QueueType)
	envInt("RPC_ABSORBER_EVENTS_DISPATCH_RATE", &config.Events.DispatchRate)
	envInt("RPC_ABSORBER_EVENTS_MAX_RETRIES", &config.Events.MaxRetries)
	if val := os.Getenv("RPC_ABSORBER_EVENTS_KAFKA_BROKERS"); val != "" {
		config.Events.KafkaConfig.Brokers = strings.Split(val, ",")
	}
	envString("RPC_ABSORBER_EVENTS_KAFKA_TOPIC", &config.Events.KafkaConfig.Topic)

	return cm.apply(config)
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// GetConfig returns the current internal configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// GetTableConfig returns the configuration for a specific table merged
// with the table defaults.
func (cm *ConfigManager) GetTableConfig(tableName string) InternalTableConfig {
	cfg := cm.GetConfig()
	tableConfig, exists := cfg.Tables[tableName]
	if !exists {
		return cfg.TableDefaults
	}

	if tableConfig.Strategy == "" {
		tableConfig.Strategy = cfg.TableDefaults.Strategy
	}
	if tableConfig.LazyLifetime == 0 {
		tableConfig.LazyLifetime = cfg.TableDefaults.LazyLifetime
	}
	if tableConfig.DebugTarget == "" {
		tableConfig.DebugTarget = cfg.TableDefaults.DebugTarget
	}
	return tableConfig
}

// ValidateConfig validates the configuration and returns an error if invalid.
// Struct tags cover the shape of every section; the KV section is checked
// by the validator its backend registered.
func ValidateConfig(config *InternalConfig) error {
	if err := structValidator.Struct(config); err != nil {
		return err
	}

	if config.Store.Type == "mysql" || config.Store.Type == "postgresql" {
		if config.Store.Host == "" {
			return fmt.Errorf("store.host is required for %s", config.Store.Type)
		}
		if config.Store.Database == "" {
			return fmt.Errorf("store.database is required for %s", config.Store.Type)
		}
		if config.Store.Username == "" {
			return fmt.Errorf("store.username is required for %s", config.Store.Type)
		}
	}
	if config.Store.Type == "sqlite" && config.Store.Path == "" {
		return fmt.Errorf("store.path is required for sqlite")
	}

	if config.Store.Type == "kv" || config.Events.QueueType == "redis" {
		if config.KVStore.Type == "" {
			return fmt.Errorf("kvstore.type is required")
		}
		validator, exists := GetValidator(config.KVStore.Type)
		if !exists {
			return fmt.Errorf("unsupported KV store type: %s", config.KVStore.Type)
		}
		if err := validator.Validate(config); err != nil {
			return fmt.Errorf("kvstore validation failed: %w", err)
		}
	}

	if config.Events.QueueType == "redis" && config.KVStore.Type != "redis" {
		return fmt.Errorf("events.queue_type 'redis' requires kvstore.type 'redis'")
	}
	if config.Events.QueueType == "kafka" {
		if len(config.Events.KafkaConfig.Brokers) == 0 {
			return fmt.Errorf("kafka_config.brokers is required when queue_type is 'kafka'")
		}
		if config.Events.KafkaConfig.Topic == "" {
			return fmt.Errorf("kafka_config.topic is required when queue_type is 'kafka'")
		}
	}

	return nil
}
