package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// Frame budget per transform; 16ms tracks a 60fps capture rate.
	FrameBudget time.Duration `mapstructure:"frame_budget"`
	// Sessions with no traffic for longer than idle_threshold are swept.
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// Consecutive dropped frames before a "connection degraded" warning.
	DropThreshold int `mapstructure:"drop_threshold"`
	// Base URL of the external model registry; empty means static resolution.
	RegistryURL string `mapstructure:"registry_url"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("frame_budget", "16ms")
	v.SetDefault("idle_threshold", "60s")
	v.SetDefault("sweep_interval", "10s")
	v.SetDefault("drop_threshold", 30)
	v.SetDefault("registry_url", "")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).Int("port", cfg.Port).
		Dur("frame_budget", cfg.FrameBudget).Dur("idle_threshold", cfg.IdleThreshold).
		Msg("effective config")
	return &cfg, nil
}
