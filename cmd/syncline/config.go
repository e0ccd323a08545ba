package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// daemonConfig is everything the syncline daemon reads at startup.
// Values come from SYNCLINE_* environment variables or an optional
// syncline.toml next to the binary; dots in keys map to underscores in
// the environment (http.addr -> SYNCLINE_HTTP_ADDR).
type daemonConfig struct {
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Warehouse struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"warehouse"`

	ObjectStore struct {
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		Bucket    string `mapstructure:"bucket"`
		UseSSL    bool   `mapstructure:"use_ssl"`
	} `mapstructure:"objectstore"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Auth struct {
		Secret      string        `mapstructure:"secret"`
		TokenExpiry time.Duration `mapstructure:"token_expiry"`
	} `mapstructure:"auth"`

	Pipeline struct {
		TickInterval         time.Duration `mapstructure:"tick_interval"`
		LeaseTTL             time.Duration `mapstructure:"lease_ttl"`
		TransformConcurrency int           `mapstructure:"transform_concurrency"`
		MaxBatchesPerTick    int           `mapstructure:"max_batches_per_tick"`
		MaxAttempts          int           `mapstructure:"max_attempts"`
		HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
		ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"pipeline"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "syncline")

	v.SetDefault("auth.token_expiry", time.Hour)

	v.SetDefault("pipeline.tick_interval", 5*time.Second)
	v.SetDefault("pipeline.lease_ttl", 60*time.Second)
	v.SetDefault("pipeline.transform_concurrency", 4)
	v.SetDefault("pipeline.max_batches_per_tick", 10)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.heartbeat_interval", 10*time.Second)
	v.SetDefault("pipeline.shutdown_timeout", 30*time.Second)
}

// loadConfig reads configuration from the environment and an optional
// syncline.toml in the working directory.
func loadConfig() (*daemonConfig, error) {
	v := viper.New()

	v.SetEnvPrefix("SYNCLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("syncline")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg daemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
