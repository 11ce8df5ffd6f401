/*
Package config loads Bay's process-wide configuration from environment
variables, with an optional `.env` file loaded first (and always
overridable by real process environment), matching the original settings
object this control plane's behavior is pinned to.
*/
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BehaviorAfterMax is the admission policy once max_ship_num is reached.
type BehaviorAfterMax string

const (
	BehaviorReject BehaviorAfterMax = "reject"
	BehaviorWait   BehaviorAfterMax = "wait"
)

// Config is Bay's full process configuration.
type Config struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Debug bool   `mapstructure:"debug"`

	MaxShipNum           int              `mapstructure:"max_ship_num"`
	BehaviorAfterMaxShip  BehaviorAfterMax `mapstructure:"behavior_after_max_ship"`
	AccessToken          string           `mapstructure:"access_token"`

	// DatabaseURL locates the bbolt data file. The env var name is kept
	// from the SQL-backed original even though the backend is now an
	// embedded KV file, not a connection string. Only its directory part
	// is used: the store always opens a file named bay.db in that directory.
	DatabaseURL string `mapstructure:"database_url"`

	ContainerImage   string `mapstructure:"docker_image"`
	ContainerNetwork string `mapstructure:"docker_network"`

	DefaultShipTTL    time.Duration `mapstructure:"-"`
	DefaultShipCPUs   float64       `mapstructure:"default_ship_cpus"`
	DefaultShipMemory string        `mapstructure:"default_ship_memory"`

	ShipHealthCheckTimeout  time.Duration `mapstructure:"-"`
	ShipHealthCheckInterval time.Duration `mapstructure:"-"`

	MaxUploadSize int64 `mapstructure:"-"`

	// DefaultShipTTLSeconds, ShipHealthCheckTimeoutSeconds,
	// ShipHealthCheckIntervalSeconds and MaxUploadSizeBytes back the
	// time.Duration/int64 fields above; viper unmarshals the raw numeric
	// env values into these, and Load() derives the typed fields.
	DefaultShipTTLSeconds          int   `mapstructure:"default_ship_ttl"`
	ShipHealthCheckTimeoutSeconds  int   `mapstructure:"ship_health_check_timeout"`
	ShipHealthCheckIntervalSeconds int   `mapstructure:"ship_health_check_interval"`
	MaxUploadSizeBytes             int64 `mapstructure:"max_upload_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("debug", false)
	v.SetDefault("max_ship_num", 10)
	v.SetDefault("behavior_after_max_ship", string(BehaviorWait))
	v.SetDefault("access_token", "secret-token")
	v.SetDefault("database_url", "./bay.db")
	v.SetDefault("docker_image", "ship:latest")
	v.SetDefault("docker_network", "shipyard")
	v.SetDefault("default_ship_ttl", 3600)
	v.SetDefault("default_ship_cpus", 1.0)
	v.SetDefault("default_ship_memory", "512m")
	v.SetDefault("ship_health_check_timeout", 60)
	v.SetDefault("ship_health_check_interval", 2)
	v.SetDefault("max_upload_size", 10*1024*1024)
}

// Load reads an optional .env file, then environment variables (which
// always win over .env values), applying the defaults above for anything
// unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	for _, key := range []string{
		"host", "port", "debug", "max_ship_num", "behavior_after_max_ship",
		"access_token", "database_url", "docker_image", "docker_network",
		"default_ship_ttl", "default_ship_cpus", "default_ship_memory",
		"ship_health_check_timeout", "ship_health_check_interval",
		"max_upload_size",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.DefaultShipTTL = time.Duration(cfg.DefaultShipTTLSeconds) * time.Second
	cfg.ShipHealthCheckTimeout = time.Duration(cfg.ShipHealthCheckTimeoutSeconds) * time.Second
	cfg.ShipHealthCheckInterval = time.Duration(cfg.ShipHealthCheckIntervalSeconds) * time.Second
	cfg.MaxUploadSize = cfg.MaxUploadSizeBytes

	if cfg.BehaviorAfterMaxShip != BehaviorReject && cfg.BehaviorAfterMaxShip != BehaviorWait {
		return nil, fmt.Errorf("invalid behavior_after_max_ship %q: must be %q or %q", cfg.BehaviorAfterMaxShip, BehaviorReject, BehaviorWait)
	}

	return &cfg, nil
}
