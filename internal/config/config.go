package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/telemetry"
)

const envPrefix = "ORDERFLOW"

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	OTel       OTelConfig       `mapstructure:"otel"`
	Log        LogConfig        `mapstructure:"log"`
	Inventory  InventoryConfig  `mapstructure:"inventory"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type OTelConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type InventoryConfig struct {
	LowStockThreshold int `mapstructure:"low_stock_threshold"`
}

type GatewayConfig struct {
	UpstreamURL string `mapstructure:"upstream_url"`
}

type MigrationsConfig struct {
	Path string `mapstructure:"path"`
}

var defaults = map[string]any{
	"app.env":                       "development",
	"server.port":                   "8080",
	"server.read_timeout":           10 * time.Second,
	"server.write_timeout":          10 * time.Second,
	"server.shutdown_timeout":       10 * time.Second,
	"db.url":                        "",
	"db.max_open_conns":             25,
	"db.max_idle_conns":             5,
	"db.conn_max_lifetime":          30 * time.Minute,
	"kafka.brokers":                 []string{},
	"kafka.topic":                   "order.events",
	"kafka.group_id":                "inventory-worker",
	"otel.enabled":                  true,
	"otel.endpoint":                 "",
	"otel.insecure":                 true,
	"otel.sample_ratio":             1.0,
	"log.level":                     "info",
	"inventory.low_stock_threshold": 10,
	"gateway.upstream_url":          "http://localhost:8081",
	"migrations.path":               "file://migrations",
}

// Load reads config.yaml from the given directories (./ and ./deploy/ when
// none are given), then applies ORDERFLOW_ environment overrides such as
// ORDERFLOW_DB_URL. A missing config file is not an error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./", "./deploy/"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// RequireDatabase fails when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DB.URL == "" {
		return fmt.Errorf("db.url is required (set %s_DB_URL)", envPrefix)
	}
	return nil
}

// Tracer builds the span exporter settings for one service.
func (c *Config) Tracer(serviceName, serviceVersion string) telemetry.TracerConfig {
	return telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       c.OTel.Endpoint,
		Insecure:       c.OTel.Insecure,
		SampleRatio:    c.OTel.SampleRatio,
	}
}

func (c *Config) Production() bool {
	return c.App.Env == "production"
}

func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
