// Package config loads the bridge configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the bridge process.
type Config struct {
	LogLevel string `env:"PUBCHANNEL_LOG_LEVEL" envDefault:"info"`
	// PositionsDB is the SQLite file holding reading positions. Empty keeps
	// them in memory for the lifetime of the process.
	PositionsDB string `env:"PUBCHANNEL_POSITIONS_DB"`

	TTSLanguage       string `env:"PUBCHANNEL_TTS_LANGUAGE" envDefault:"en"`
	TTSWordsPerMinute int    `env:"PUBCHANNEL_TTS_WPM" envDefault:"180"`
	CharsPerPage      int    `env:"PUBCHANNEL_CHARS_PER_PAGE" envDefault:"1500"`

	MaxFrame int `env:"PUBCHANNEL_MAX_FRAME"`
	MaxChunk int `env:"PUBCHANNEL_MAX_CHUNK"`

	HTTPTimeout   time.Duration `env:"PUBCHANNEL_HTTP_TIMEOUT" envDefault:"30s"`
	MaxAssetBytes int64         `env:"PUBCHANNEL_MAX_ASSET_BYTES" envDefault:"268435456"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the bridge cannot run with.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.TTSWordsPerMinute <= 0 {
		return fmt.Errorf("PUBCHANNEL_TTS_WPM must be positive, got %d", c.TTSWordsPerMinute)
	}
	if c.CharsPerPage <= 0 {
		return fmt.Errorf("PUBCHANNEL_CHARS_PER_PAGE must be positive, got %d", c.CharsPerPage)
	}
	if c.MaxFrame < 0 || c.MaxChunk < 0 {
		return fmt.Errorf("frame limits must not be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("PUBCHANNEL_HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	if c.MaxAssetBytes <= 0 {
		return fmt.Errorf("PUBCHANNEL_MAX_ASSET_BYTES must be positive, got %d", c.MaxAssetBytes)
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
