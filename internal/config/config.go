package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	MySQL        DatabaseConfig     `mapstructure:"mysql"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	Heartbeat    HeartbeatConfig    `mapstructure:"heartbeat"`
	Recovery     RecoveryConfig     `mapstructure:"recovery"`
	Shutdown     ShutdownConfig     `mapstructure:"shutdown"`
	Notification NotificationConfig `mapstructure:"notification"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type WorkerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`        // parallel consumers per queue type
	NoAdvisorBackoff time.Duration `mapstructure:"no_advisor_backoff"` // delay before requeue on saturation
	ServiceTimeUnit  time.Duration `mapstructure:"service_time_unit"`  // wall time of one configured service "minute"
	MaxRedeliveries  int           `mapstructure:"max_redeliveries"`   // drop a message after this many requeues
}

type OutboxConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	ClaimLease    time.Duration `mapstructure:"claim_lease"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
	Retention     time.Duration `mapstructure:"retention"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RecoveryConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
}

type ShutdownConfig struct {
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type NotificationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	TelegramURL   string `mapstructure:"telegram_url"`
	BotToken      string `mapstructure:"bot_token"`
	ChatID        string `mapstructure:"chat_id"`
	TimeoutMs     int    `mapstructure:"timeout_ms"`
	FailThreshold int    `mapstructure:"fail_threshold"`
	OpenForMs     int    `mapstructure:"open_for_ms"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (TICKETERO_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (TICKETERO_*)
	v.SetEnvPrefix("TICKETERO")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
