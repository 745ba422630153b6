package config

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables. fileName is
// either a bare name looked up in the working directory or a path to a file.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.apiVersion", "v2")
	v.SetDefault("server.roomKind", "vr")
	v.SetDefault("server.roomCapacity", 16)
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.auth.ticketSecret", "default-secret-key-change-me")
	v.SetDefault("server.auth.ticketTTL", "1h")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("client.endpoint", "http://localhost:8080")
	v.SetDefault("client.apiVersion", "v2")
	v.SetDefault("client.roomKind", "vr")
	v.SetDefault("client.keepAliveInterval", "1s")
	v.SetDefault("client.tickInterval", "50ms")
	v.SetDefault("client.restoreConcurrency", 8)

	// 2. Set config file details
	if filepath.Ext(fileName) != "" {
		v.SetConfigFile(fileName)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".") // look for config in the working directory
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix("ROOMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents()
	}
	if len(cfg.Colors) == 0 {
		cfg.Colors = DefaultPalette
	}
	if _, err := cfg.Palette(); err != nil {
		return nil, err
	}
	if _, err := cfg.Client.Highlight(); err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded", slog.Int("events", len(cfg.Events)), slog.Int("colors", len(cfg.Colors)))

	return &cfg, nil
}
