package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config собирает настройки всех компонентов сервиса. Значения берутся из
// YAML-файла (опционально) и переменных окружения с префиксом OLE_;
// окружение имеет приоритет.
type Config struct {
	HTTP         HTTPConfig         `mapstructure:"http"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Cancellation CancellationConfig `mapstructure:"cancellation"`
	Idempotency  IdempotencyConfig  `mapstructure:"idempotency"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// Mode — режим gin: debug, release или test.
	Mode string `mapstructure:"mode"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig выбирает реализацию хранилищ: memory или postgres.
// Redis для запросов на отмену подключается отдельным флагом, потому что
// он дополняет любой из бэкендов.
type StorageConfig struct {
	Backend               string `mapstructure:"backend"`
	PostgresDSN           string `mapstructure:"postgres_dsn"`
	UseRedisCancellations bool   `mapstructure:"use_redis_cancellations"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

type CancellationConfig struct {
	// ShippingFeeMinor — стандартная стоимость доставки в минимальных единицах.
	ShippingFeeMinor int64 `mapstructure:"shipping_fee_minor"`
	// PendingTTL — срок ожидания доплаты по дефициту.
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
}

type IdempotencyConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Load читает конфигурацию. configPath может быть пустым, тогда действуют
// значения по умолчанию и переменные окружения.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.mode", "release")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.use_redis_cancellations", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "ole.order.events")
	v.SetDefault("kafka.dlq_topic", "ole.dlq")
	v.SetDefault("cancellation.shipping_fee_minor", 0)
	v.SetDefault("cancellation.pending_ttl", 30*time.Minute)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.cleanup_interval", time.Hour)

	v.SetEnvPrefix("OLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.HTTP.Addr == "" {
		return errors.New("http.addr must not be empty")
	}
	if c.Cancellation.ShippingFeeMinor < 0 {
		return errors.New("cancellation.shipping_fee_minor must be non-negative")
	}
	if c.Cancellation.PendingTTL <= 0 {
		return errors.New("cancellation.pending_ttl must be positive")
	}
	if c.Idempotency.TTL <= 0 || c.Idempotency.CleanupInterval <= 0 {
		return errors.New("idempotency.ttl and idempotency.cleanup_interval must be positive")
	}
	return nil
}
