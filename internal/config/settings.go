// Package config loads runtime settings from an optional YAML file and
// OFFSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// OFFSYNC_REMOTE_BASE_URL for remote.base_url.
const EnvPrefix = "OFFSYNC"

// Settings is the complete runtime configuration.
type Settings struct {
	Database      string        `mapstructure:"database" validate:"required"`
	ReplayTimeout time.Duration `mapstructure:"replay_timeout" validate:"gt=0"`
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gte=0"`
	Remote        Remote        `mapstructure:"remote"`
	Connectivity  Connectivity  `mapstructure:"connectivity"`
	Observability Observability `mapstructure:"observability"`
}

// Remote configures the remote collaborator.
type Remote struct {
	// BaseURL of the service. Empty means the process has no server and
	// stays offline.
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// Listen is the address used by `offsync serve`.
	Listen string `mapstructure:"listen" validate:"required,hostname_port"`
}

// Connectivity configures reachability probing.
type Connectivity struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval" validate:"gt=0"`
}

// Observability configures tracing.
type Observability struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`

	// TracingURL is the OTLP/HTTP collector host:port. Empty disables
	// export.
	TracingURL string `mapstructure:"tracing_url" validate:"omitempty,hostname_port"`
}

// Validate checks struct tags.
func (s *Settings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", "offsync.db")
	v.SetDefault("replay_timeout", 10*time.Second)
	v.SetDefault("retry_interval", 30*time.Second)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("remote.listen", "127.0.0.1:8787")
	v.SetDefault("connectivity.probe_interval", 15*time.Second)
	v.SetDefault("observability.service_name", "offsync")
	v.SetDefault("observability.tracing_url", "")
}

// Load reads settings. If path is empty, offsync.yaml in the working
// directory is used when present. Environment variables override the file.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("offsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Settings{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
