// Package config loads dbworkerctl's settings with a three-tier
// precedence: explicit flags win, then DBWORKER_* environment variables,
// then a YAML file at ~/.config/dbworkerctl/config.yaml, via viper and
// gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is every startup-time knob dbworkerctl's subcommands read.
type Config struct {
	RegistryDir   string        `mapstructure:"registry_dir"`
	JobTTL        time.Duration `mapstructure:"job_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout"`
	DaemonEnvVar  string        `mapstructure:"daemon_env_var"`
	LogDir        string        `mapstructure:"log_dir"`
}

func defaults() Config {
	return Config{
		RegistryDir:   "/tmp/code_analysis_db_workers",
		JobTTL:        5 * time.Minute,
		SweepInterval: 60 * time.Second,
		PollInterval:  10 * time.Millisecond,
		CallTimeout:   30 * time.Second,
		BusyTimeout:   5 * time.Second,
		DaemonEnvVar:  "DBWORKER_DAEMON_CHILD",
	}
}

// Load builds a viper instance bound to flags > DBWORKER_* env > the YAML
// config file > built-in defaults, and decodes it into a Config. v is the
// cobra command's viper instance, already populated with bound flags by
// the caller (see cmd/dbworkerctl).
func Load(v *viper.Viper) (Config, error) {
	cfg := defaults()
	setViperDefaults(v, cfg)

	v.SetEnvPrefix("DBWORKER")
	v.AutomaticEnv()

	if path := configFilePath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setViperDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("registry_dir", cfg.RegistryDir)
	v.SetDefault("job_ttl", cfg.JobTTL)
	v.SetDefault("sweep_interval", cfg.SweepInterval)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("call_timeout", cfg.CallTimeout)
	v.SetDefault("busy_timeout", cfg.BusyTimeout)
	v.SetDefault("daemon_env_var", cfg.DaemonEnvVar)
	v.SetDefault("log_dir", cfg.LogDir)
}

func configFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "dbworkerctl", "config.yaml")
}
