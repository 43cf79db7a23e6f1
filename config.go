package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

var timePattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

type Config struct {
	TelegramBotToken   string  `koanf:"telegram_bot_token"`
	ChannelID          int64   `koanf:"channel_id"`
	AdminIDs           []int64 `koanf:"admin_ids"`
	MistralAPIKey      string  `koanf:"mistral_api_key"`
	MistralBaseURL     string  `koanf:"mistral_base_url"`
	MistralModel       string  `koanf:"mistral_model"`
	ListingURL         string  `koanf:"listing_url"`
	PostTime           string  `koanf:"post_time"`
	Timezone           string  `koanf:"timezone"`
	RecencyWindowHours int     `koanf:"recency_window_hours"`
	SummarizerTimeout  int     `koanf:"summarizer_timeout"`
	HTTPPort           string  `koanf:"http_port"`
	DatabaseURL        string  `koanf:"database_url"`
	AutopostEnabled    bool    `koanf:"autopost_enabled"`
}

func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	// Try to load config file from various formats
	configFiles := []string{
		"config.yaml",
		"config.yml",
		"config.json",
		"config.toml",
	}

	configFile, found := lo.Find(configFiles, func(file string) bool {
		_, err := os.Stat(file)
		return err == nil
	})

	if found {
		var parser koanf.Parser
		ext := filepath.Ext(configFile)

		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		case ".toml":
			parser = toml.Parser()
		default:
			return nil, oops.Errorf("unsupported config file extension: %s", ext)
		}

		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, oops.With("config_file", configFile).Wrap(err)
		}
	}

	// Environment variables override config file values
	// (TELEGRAM_BOT_TOKEN -> telegram_bot_token)
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, oops.With("context", "loading environment variables").Wrap(err)
	}

	// Defaults
	if !k.Exists("mistral_base_url") {
		k.Set("mistral_base_url", "https://api.mistral.ai/v1")
	}
	if !k.Exists("mistral_model") {
		k.Set("mistral_model", "mistral-large-latest")
	}
	if !k.Exists("listing_url") {
		k.Set("listing_url", "https://techcrunch.com/")
	}
	if !k.Exists("post_time") {
		k.Set("post_time", "20:00")
	}
	if !k.Exists("timezone") {
		k.Set("timezone", "Europe/Moscow")
	}
	if !k.Exists("recency_window_hours") {
		k.Set("recency_window_hours", 20)
	}
	if !k.Exists("summarizer_timeout") {
		k.Set("summarizer_timeout", 60)
	}
	if !k.Exists("http_port") {
		k.Set("http_port", "8080")
	}
	if !k.Exists("autopost_enabled") {
		k.Set("autopost_enabled", true)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.With("context", "unmarshaling config").Wrap(err)
	}

	// AdminIDs may arrive as a comma-separated string from env vars or as a
	// slice from config files
	if adminIDs := k.Get("admin_ids"); adminIDs != nil {
		switch v := adminIDs.(type) {
		case string:
			cfg.AdminIDs = ParseAdminIDs(v)
		case []interface{}:
			cfg.AdminIDs = lo.FilterMap(v, func(item interface{}, _ int) (int64, bool) {
				switch val := item.(type) {
				case int64:
					return val, true
				case int:
					return int64(val), true
				case float64:
					return int64(val), true
				default:
					return 0, false
				}
			})
		}
	}

	// Validate required fields
	if cfg.TelegramBotToken == "" {
		return nil, ErrMissingBotToken
	}
	if cfg.ChannelID == 0 {
		return nil, ErrMissingChannelID
	}
	if cfg.MistralAPIKey == "" {
		return nil, ErrMissingMistralKey
	}
	if cfg.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	if _, _, err := ParsePostTime(cfg.PostTime); err != nil {
		return nil, oops.With("post_time", cfg.PostTime).Wrap(err)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, oops.With("timezone", cfg.Timezone).Wrap(err)
	}

	return &cfg, nil
}

// Location resolves the configured fixed timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// IsAdmin reports whether the sender is on the operator allow-list.
func (c *Config) IsAdmin(userID int64) bool {
	return lo.Contains(c.AdminIDs, userID)
}

// ParsePostTime validates and splits an HH:MM wall-clock time (24-hour).
func ParsePostTime(s string) (hour, minute int, err error) {
	m := timePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, ErrInvalidTimeFormat
	}
	fmt.Sscanf(m[1], "%d", &hour)
	fmt.Sscanf(m[2], "%d", &minute)
	return hour, minute, nil
}

// ParseAdminIDs parses comma-separated operator IDs into []int64 using lo
func ParseAdminIDs(s string) []int64 {
	if s == "" {
		return []int64{}
	}
	parts := strings.Split(s, ",")
	return lo.FilterMap(parts, func(part string, _ int) (int64, bool) {
		part = strings.TrimSpace(part)
		if part == "" {
			return 0, false
		}
		var id int64
		if _, err := fmt.Sscanf(part, "%d", &id); err == nil {
			return id, true
		}
		return 0, false
	})
}
