package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.convo/config.toml.
type Config struct {
	DefaultAccount  string `toml:"default_account"`
	HistoryPageSize int    `toml:"history_page_size"`
	Poll            Poll   `toml:"poll"`
}

// Poll tunes the event log poller.
type Poll struct {
	ForegroundMS int  `toml:"foreground_ms"`
	BackgroundMS int  `toml:"background_ms"`
	MaxRetries   uint `toml:"max_retries"`
}

// Default returns the config used when no file exists.
func Default() *Config {
	return &Config{
		HistoryPageSize: 50,
		Poll: Poll{
			ForegroundMS: 1000,
			BackgroundMS: 5000,
			MaxRetries:   5,
		},
	}
}

// ForegroundInterval is the poll interval while a conversation is on screen.
func (p Poll) ForegroundInterval() time.Duration {
	return time.Duration(p.ForegroundMS) * time.Millisecond
}

// BackgroundInterval is the poll interval while every conversation is backgrounded.
func (p Poll) BackgroundInterval() time.Duration {
	return time.Duration(p.BackgroundMS) * time.Millisecond
}

// Load reads config from the given path. Returns nil and error if file missing.
// Keys absent from the file keep their Default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file is missing
// or unreadable.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
