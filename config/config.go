package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — full runtime configuration, loaded from roost.yaml + ROOST_* env.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
}

type ServerConfig struct {
	Address  string `mapstructure:"address"`
	HTTPPort string `mapstructure:"http_port"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres | mysql | "" (in-memory)
	DSN    string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
	File   string `mapstructure:"file"`
}

// FleetConfig — liveness and delivery knobs for the coordination loop.
type FleetConfig struct {
	// HeartbeatInterval is advisory: echoed to devices that do not carry
	// their own check_in_interval.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// OfflineThreshold must be well above HeartbeatInterval so a single
	// missed beat does not flap the device offline.
	OfflineThreshold  time.Duration `mapstructure:"offline_threshold"`
	RegistrationGrace time.Duration `mapstructure:"registration_grace"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	CommandBatch      int           `mapstructure:"command_batch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "roost.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("fleet.heartbeat_interval", 60*time.Second)
	v.SetDefault("fleet.offline_threshold", 300*time.Second)
	v.SetDefault("fleet.registration_grace", 15*time.Minute)
	v.SetDefault("fleet.sweep_interval", 30*time.Second)
	v.SetDefault("fleet.command_batch", 10)
}

// Load reads roost.yaml from the working dir or /etc/roost, then applies
// ROOST_* environment overrides (ROOST_SERVER_HTTP_PORT etc). A missing
// file is fine: defaults + env are enough to run.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("roost")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/roost")

	v.SetEnvPrefix("ROOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// A threshold at or below the beat interval would mark every device
	// offline between beats; clamp to the documented minimum.
	if cfg.Fleet.OfflineThreshold < 3*cfg.Fleet.HeartbeatInterval {
		cfg.Fleet.OfflineThreshold = 3 * cfg.Fleet.HeartbeatInterval
	}
	return &cfg, nil
}
