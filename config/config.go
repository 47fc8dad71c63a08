// Package config loads service configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "Europe/Helsinki"

	portEnv        = "PORT"
	baseURLEnv     = "APP_BASE_URL"
	databaseDSNEnv = "DATABASE_DSN"
	secretKeyEnv   = "SECRET_KEY"
	sendgridKeyEnv = "SENDGRID_API_KEY"
	emailFromEnv   = "EMAIL_FROM"
)

// Config holds every setting required across the application.
type Config struct {
	Listen   string            `yaml:"listen"`
	BaseURL  string            `yaml:"base_url"`
	Timezone string            `yaml:"timezone"`
	LogLevel string            `yaml:"log_level"`
	Database DatabaseConfig    `yaml:"database"`
	Scrape   ScrapeConfig      `yaml:"scrape"`
	Digest   DigestConfig      `yaml:"digest"`
	Mail     MailConfig        `yaml:"mail"`
	Tokens   TokenConfig       `yaml:"tokens"`
	Series   map[string]string `yaml:"series"` // feed key -> category label

	location *time.Location `yaml:"-"`
}

// DatabaseConfig describes Postgres connection details.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ScrapeConfig controls the source-site crawler.
type ScrapeConfig struct {
	SourceURL    string        `yaml:"source_url"`
	RequestDelay time.Duration `yaml:"request_delay"` // pause between page fetches
}

// DigestConfig defines when and how the weekly batch runs.
type DigestConfig struct {
	Cron       string        `yaml:"cron"`        // standard 5-field spec
	RunTimeout time.Duration `yaml:"run_timeout"` // hard cap for one batch run
}

// MailConfig wires the outbound mail provider.
type MailConfig struct {
	From           string `yaml:"from"`
	FromName       string `yaml:"from_name"`
	SendgridAPIKey string `yaml:"sendgrid_api_key"`
}

// TokenConfig holds the signing secret and token lifetimes.
type TokenConfig struct {
	Secret         string        `yaml:"secret"`
	ConfirmTTL     time.Duration `yaml:"confirm_ttl"`
	UnsubscribeTTL time.Duration `yaml:"unsubscribe_ttl"`
}

// Load reads the YAML file at path (a missing file is fine, defaults apply),
// applies environment overrides, and fills remaining defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults + environment only
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	if err := cfg.bindTimezone(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings without which the service cannot run.
func (c *Config) Validate() error {
	if c.Tokens.Secret == "" {
		return errors.New("config: signing secret is required (tokens.secret or SECRET_KEY)")
	}
	if c.Database.DSN == "" {
		return errors.New("config: database DSN is required (database.dsn or DATABASE_DSN)")
	}
	if c.Mail.From == "" {
		return errors.New("config: mail from address is required (mail.from or EMAIL_FROM)")
	}
	return nil
}

// Location resolves the seminar timezone. Digest windows, calendar defaults
// and the cron schedule all run in this zone.
func (c *Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// SeriesLabel returns the display label for a feed key.
func (c *Config) SeriesLabel(key string) (string, bool) {
	label, ok := c.Series[key]
	return label, ok
}

// SeriesLabels returns the recognized category labels, sorted for
// deterministic iteration.
func (c *Config) SeriesLabels() []string {
	labels := make([]string, 0, len(c.Series))
	for _, label := range c.Series {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(portEnv); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv(baseURLEnv); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(secretKeyEnv); v != "" {
		c.Tokens.Secret = v
	}
	if v := os.Getenv(sendgridKeyEnv); v != "" {
		c.Mail.SendgridAPIKey = v
	}
	if v := os.Getenv(emailFromEnv); v != "" {
		c.Mail.From = v
	}
}

func (c *Config) normalize() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Scrape.SourceURL == "" {
		c.Scrape.SourceURL = "https://www.helsinkigse.fi"
	}
	if c.Scrape.RequestDelay == 0 {
		c.Scrape.RequestDelay = 1500 * time.Millisecond
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 8 * * 1" // Monday morning
	}
	if c.Digest.RunTimeout == 0 {
		c.Digest.RunTimeout = 10 * time.Minute
	}
	if c.Mail.FromName == "" {
		c.Mail.FromName = "Helsinki GSE Seminar Hub"
	}
	if c.Tokens.ConfirmTTL == 0 {
		c.Tokens.ConfirmTTL = 72 * time.Hour
	}
	if c.Tokens.UnsubscribeTTL == 0 {
		c.Tokens.UnsubscribeTTL = 90 * 24 * time.Hour
	}
	if len(c.Series) == 0 {
		c.Series = map[string]string{
			"micro":         "Microeconomics",
			"environmental": "Environmental Economics",
			"behavioral":    "Behavioral Economics",
			"io":            "Industrial Organization",
			"colloquium":    "Colloquium",
			"vatt":          "VATT",
			"trade-urban":   "Trade, Regional and Urban Economics",
		}
	}
}

func (c *Config) bindTimezone() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("config: unknown timezone %q: %w", c.Timezone, err)
	}
	c.location = loc
	return nil
}
