package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	AppEnv   string         `mapstructure:"app_env"`
	AppName  string         `mapstructure:"app_name"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Lock     LockConfig     `mapstructure:"lock"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | postgres | sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	// LockWaitTimeout bounds how long a transaction waits for a wallet row lock.
	LockWaitTimeout time.Duration `mapstructure:"lock_wait_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers       []string         `mapstructure:"brokers"`
	ConsumerGroup string           `mapstructure:"consumer_group"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentConfirmed string `mapstructure:"payment_confirmed"`
	Notifications    string `mapstructure:"notifications"`
}

type LockConfig struct {
	Backend       string        `mapstructure:"backend"` // redis | local
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type BusinessConfig struct {
	CommissionRate          string        `mapstructure:"commission_rate"`
	SubscriptionDuration    time.Duration `mapstructure:"subscription_duration"`
	ExpirySweepInterval     time.Duration `mapstructure:"expiry_sweep_interval"`
	ExpirySweepBatchSize    int           `mapstructure:"expiry_sweep_batch_size"`
	OutboxMaxRetryCount     int           `mapstructure:"outbox_max_retry_count"`
	PlatformWalletOwnerID   int64         `mapstructure:"platform_wallet_owner_id"`
	GatewayWalletOwnerID    int64         `mapstructure:"gateway_wallet_owner_id"`
	SnowflakeNodeID         int64         `mapstructure:"snowflake_node_id"`
	PaymentEventMaxAttempts int           `mapstructure:"payment_event_max_attempts"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Rate parses the configured commission rate.
func (b BusinessConfig) Rate() (decimal.Decimal, error) {
	return decimal.NewFromString(b.CommissionRate)
}

// Validate rejects settings that would break money movement.
func (c *Config) Validate() error {
	rate, err := c.Business.Rate()
	if err != nil {
		return fmt.Errorf("business.commission_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("business.commission_rate must be in [0,1), got %s", rate)
	}
	if c.Business.SubscriptionDuration <= 0 {
		return errors.New("business.subscription_duration must be positive")
	}
	if c.Lock.WaitTimeout <= 0 {
		return errors.New("lock.wait_timeout must be positive")
	}
	if c.Business.PlatformWalletOwnerID == c.Business.GatewayWalletOwnerID {
		return errors.New("platform and gateway wallets must be distinct")
	}
	switch c.Lock.Backend {
	case "redis", "local":
	default:
		return fmt.Errorf("lock.backend must be redis or local, got %q", c.Lock.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("app_name", "sharetips")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.lock_wait_timeout", 5*time.Second)
	v.SetDefault("kafka.consumer_group", "sharetips-core")
	v.SetDefault("kafka.topic.payment_confirmed", "payment.confirmed")
	v.SetDefault("kafka.topic.notifications", "sharetips.notifications")
	v.SetDefault("lock.backend", "redis")
	v.SetDefault("lock.wait_timeout", 3*time.Second)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("business.commission_rate", "0.10")
	v.SetDefault("business.subscription_duration", 30*24*time.Hour)
	v.SetDefault("business.expiry_sweep_interval", time.Minute)
	v.SetDefault("business.expiry_sweep_batch_size", 500)
	v.SetDefault("business.outbox_max_retry_count", 5)
	v.SetDefault("business.platform_wallet_owner_id", 1)
	v.SetDefault("business.gateway_wallet_owner_id", 2)
	v.SetDefault("business.snowflake_node_id", 1)
	v.SetDefault("business.payment_event_max_attempts", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
}

// Load reads the yaml file at configPath. Any key can be overridden by a
// SHARETIPS_* environment variable.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SHARETIPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
