package registry

import (
	"time"
)

// InternalConfig represents the internal configuration structure.
// This is a copy of the public Config type to avoid import cycles.
type InternalConfig struct {
	Store         InternalStoreConfig            `yaml:"store" json:"store"`
	KVStore       InternalKVStoreConfig          `yaml:"kvstore" json:"kvstore"`
	TableDefaults InternalTableConfig            `yaml:"table_defaults" json:"table_defaults"`
	Tables        map[string]InternalTableConfig `yaml:"tables" json:"tables" validate:"dive"`
	WS            InternalWSConfig               `yaml:"ws" json:"ws"`
	Events        InternalEventsConfig           `yaml:"events" json:"events"`
}

// InternalStoreConfig selects and configures the local row store.
type InternalStoreConfig struct {
	Type              string        `yaml:"type" json:"type" validate:"required,oneof=sqlite mysql postgresql kv memory"`
	Path              string        `yaml:"path,omitempty" json:"path,omitempty"` // sqlite file path
	Host              string        `yaml:"host,omitempty" json:"host,omitempty"`
	Port              int           `yaml:"port,omitempty" json:"port,omitempty" validate:"gte=0,lte=65535"`
	Database          string        `yaml:"database,omitempty" json:"database,omitempty"`
	Username          string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password          string        `yaml:"password,omitempty" json:"password,omitempty"`
	SSLMode           string        `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`
	Namespace         string        `yaml:"namespace,omitempty" json:"namespace,omitempty"` // kv key prefix
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns" validate:"gt=0"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// InternalKVStoreConfig contains configuration for the key-value store.
// It backs the "kv" row store and the redis event queue.
type InternalKVStoreConfig struct {
	Type           string                 `yaml:"type" json:"type"`
	RedisConfig    InternalRedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	DynamoDBConfig InternalDynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`
	MaxRetries     int                    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout    time.Duration          `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout    time.Duration          `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout   time.Duration          `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// InternalRedisConfig contains Redis-specific configuration.
type InternalRedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db" json:"db"`
	PoolSize     int      `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// InternalTableConfig selects the caching strategy of a table.
type InternalTableConfig struct {
	Strategy     string        `yaml:"strategy" json:"strategy" validate:"omitempty,oneof=none eager lazy debug"`
	LazyLifetime time.Duration `yaml:"lazy_lifetime,omitempty" json:"lazy_lifetime,omitempty" validate:"gte=0"`
	DebugTarget  string        `yaml:"debug_target,omitempty" json:"debug_target,omitempty" validate:"omitempty,oneof=none eager lazy"`
}

// InternalWSConfig configures the call orchestrator and its transport.
type InternalWSConfig struct {
	SiteID            string                  `yaml:"site_id" json:"site_id" validate:"required"`
	BaseURL           string                  `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
	Token             string                  `yaml:"token" json:"token"`
	Lang              string                  `yaml:"lang,omitempty" json:"lang,omitempty"`
	Timeout           time.Duration           `yaml:"timeout" json:"timeout" validate:"gt=0"`
	QueueLimit        int                     `yaml:"queue_limit" json:"queue_limit" validate:"gt=0"`
	QueueDelay        time.Duration           `yaml:"queue_delay" json:"queue_delay" validate:"gt=0"`
	Frequencies       InternalFrequencyConfig `yaml:"frequencies" json:"frequencies"`
	MeteredMultiplier float64                 `yaml:"metered_multiplier" json:"metered_multiplier" validate:"gte=1"`
	BackgroundWindow  time.Duration           `yaml:"background_window" json:"background_window" validate:"gt=0"`
	CacheErrors       []string                `yaml:"cache_errors,omitempty" json:"cache_errors,omitempty"`
	Metered           bool                    `yaml:"metered,omitempty" json:"metered,omitempty"`
}

// InternalFrequencyConfig holds the expiration delay of each update
// frequency class, from the most to the least frequently refreshed.
type InternalFrequencyConfig struct {
	Usually   time.Duration `yaml:"usually" json:"usually" validate:"gt=0"`
	Often     time.Duration `yaml:"often" json:"often" validate:"gtfield=Usually"`
	Sometimes time.Duration `yaml:"sometimes" json:"sometimes" validate:"gtfield=Often"`
	Rarely    time.Duration `yaml:"rarely" json:"rarely" validate:"gtfield=Sometimes"`
}

// InternalEventsConfig configures the notification queue and dispatcher.
type InternalEventsConfig struct {
	QueueType        string              `yaml:"queue_type" json:"queue_type" validate:"required,oneof=memory redis kafka"`
	QueueBufferSize  int                 `yaml:"queue_buffer_size" json:"queue_buffer_size" validate:"gt=0"`
	RedisKey         string              `yaml:"redis_key,omitempty" json:"redis_key,omitempty"`
	DispatchRate     int                 `yaml:"dispatch_rate" json:"dispatch_rate" validate:"gt=0"` // events per second
	BatchSize        int                 `yaml:"batch_size" json:"batch_size" validate:"gt=0"`
	PollInterval     time.Duration       `yaml:"poll_interval" json:"poll_interval" validate:"gt=0"`
	MaxRetries       int                 `yaml:"max_retries" json:"max_retries" validate:"gte=0"`
	RetryBackoffBase time.Duration       `yaml:"retry_backoff_base" json:"retry_backoff_base"`
	RetryBackoffMax  time.Duration       `yaml:"retry_backoff_max" json:"retry_backoff_max"`
	KafkaConfig      InternalKafkaConfig `yaml:"kafka_config" json:"kafka_config"`
}

// InternalKafkaConfig contains Kafka-specific configuration.
type InternalKafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers"`
	Topic           string        `yaml:"topic" json:"topic"`
	GroupID         string        `yaml:"group_id" json:"group_id"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes"`
	MinBytes        int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes        int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait         time.Duration `yaml:"max_wait" json:"max_wait"`
}
