package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Endpoint    string        `mapstructure:"endpoint"`
	DisplayName string        `mapstructure:"display_name"`
	StatusAddr  string        `mapstructure:"status_addr"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
	SendQueue   int           `mapstructure:"send_queue"`
	ICEServers  []ICEServer   `mapstructure:"ice_servers"`
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
	v.SetDefault("endpoint", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("display_name", "guest")
	v.SetDefault("status_addr", "127.0.0.1:9090")
	v.SetDefault("heartbeat", "25s")
	v.SetDefault("send_queue", 32)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &cfg, nil
}
