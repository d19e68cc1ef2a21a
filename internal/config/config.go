// Package config loads the application configuration from a TOML file with
// environment-variable overrides for deployment settings and secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Images   ImagesConfig   `toml:"images"`
	Scryfall ScryfallConfig `toml:"scryfall"`
	TCG      TCGConfig      `toml:"tcgplayer"`
	Rates    RatesConfig    `toml:"rates"`
	Workers  WorkersConfig  `toml:"workers"`
	App      AppConfig      `toml:"app"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Port        string   `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// DatabaseConfig contains the sqlite database location.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ImagesConfig contains the on-disk image cache location.
type ImagesConfig struct {
	Dir string `toml:"dir"`
}

// ScryfallConfig contains external catalog client settings.
type ScryfallConfig struct {
	BaseURL string `toml:"base_url"`
}

// TCGConfig contains price provider credentials.
type TCGConfig struct {
	BaseURL   string `toml:"base_url"`
	PublicKey string `toml:"public_key"`
	SecretKey string `toml:"secret_key"`
}

// RatesConfig contains currency rate provider settings.
type RatesConfig struct {
	BaseURL string `toml:"base_url"`
	AppID   string `toml:"app_id"`
}

// WorkersConfig contains background job intervals.
type WorkersConfig struct {
	PriceInterval string `toml:"price_interval"`
	RatesInterval string `toml:"rates_interval"`
}

// AppConfig contains general application settings.
type AppConfig struct {
	DebugMode       bool   `toml:"debug_mode"`
	DefaultCurrency string `toml:"default_currency"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		},
		Database: DatabaseConfig{Path: "./collector.db"},
		Images:   ImagesConfig{Dir: "./data/images"},
		Scryfall: ScryfallConfig{BaseURL: "https://api.scryfall.com"},
		TCG:      TCGConfig{BaseURL: "https://api.tcgplayer.com"},
		Rates:    RatesConfig{BaseURL: "https://openexchangerates.org/api"},
		Workers: WorkersConfig{
			PriceInterval: "24h",
			RatesInterval: "12h",
		},
		App: AppConfig{
			DebugMode:       false,
			DefaultCurrency: "USD",
		},
	}
}

// Load reads the config file at path (defaults apply when it is empty or
// missing), then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("IMAGES_DIR"); v != "" {
		c.Images.Dir = v
	}
	if v := os.Getenv("TCGPLAYER_PUBLIC_KEY"); v != "" {
		c.TCG.PublicKey = v
	}
	if v := os.Getenv("TCGPLAYER_SECRET_KEY"); v != "" {
		c.TCG.SecretKey = v
	}
	if v := os.Getenv("OPENEXCHANGERATES_APP_ID"); v != "" {
		c.Rates.AppID = v
	}
	if v := os.Getenv("DEBUG"); v == "true" {
		c.App.DebugMode = true
	}
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Workers.PriceInterval); err != nil {
		return fmt.Errorf("invalid price interval %q: %w", c.Workers.PriceInterval, err)
	}
	if _, err := time.ParseDuration(c.Workers.RatesInterval); err != nil {
		return fmt.Errorf("invalid rates interval %q: %w", c.Workers.RatesInterval, err)
	}
	if c.App.DefaultCurrency == "" {
		return fmt.Errorf("default currency cannot be empty")
	}
	return nil
}

// PriceInterval returns the price worker interval as a duration.
func (c *Config) PriceInterval() time.Duration {
	d, _ := time.ParseDuration(c.Workers.PriceInterval)
	return d
}

// RatesInterval returns the rates worker interval as a duration.
func (c *Config) RatesInterval() time.Duration {
	d, _ := time.ParseDuration(c.Workers.RatesInterval)
	return d
}
