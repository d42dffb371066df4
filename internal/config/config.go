// Package config loads settings from defaults, an optional YAML file and the
// environment, in that order; later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects which settings Validate requires.
type Mode string

const (
	ModeServe  Mode = "serve"  // HTTP API plus trackers
	ModeTrack  Mode = "track"  // trackers only
	ModeExport Mode = "export" // one-shot reconciliation
	ModeLocal  Mode = "local"  // store-only commands (stats, migrate)
)

// ConfigEnv names the file to load when no path is passed to Load.
const ConfigEnv = "CONTACTS_CONFIG"

// MinSecretLength applies to JWT_SECRET and SECRET_KEY.
const MinSecretLength = 16

// Config is the full runtime configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		OwnerID  int64  `yaml:"owner_id"`
	} `yaml:"telegram"`

	LLM struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		Model    string `yaml:"model"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"llm"`

	Google struct {
		ServiceAccountFile string `yaml:"service_account_file"`
		SpreadsheetID      string `yaml:"spreadsheet_id"`
		SheetName          string `yaml:"sheet_name"`
		WritesPerMinute    int    `yaml:"writes_per_minute"`
	} `yaml:"google"`

	DatabasePath    string `yaml:"database_path"`
	InitialMessages int    `yaml:"initial_messages"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		JWTExpiry time.Duration `yaml:"jwt_expiry"`
		MaxAge    time.Duration `yaml:"max_age"`
		SecretKey string        `yaml:"secret_key"`
	} `yaml:"auth"`

	AutoExportSchedule string `yaml:"auto_export_schedule"`
}

// Default returns the built-in defaults.
func Default() *Config {
	c := &Config{}
	c.LLM.Provider = "gemini"
	c.Google.SheetName = "Conference Contacts"
	c.DatabasePath = "./contacts.db"
	c.InitialMessages = 5
	c.Log.Level = "INFO"
	c.Log.Format = "text"
	c.HTTP.Addr = ":8080"
	c.Auth.JWTExpiry = 7 * 24 * time.Hour
	c.Auth.MaxAge = 24 * time.Hour
	return c
}

// Load builds a Config. path may be empty, in which case CONTACTS_CONFIG is
// consulted; with neither set only defaults and the environment apply. A
// path that is set but missing is an error.
func Load(path string) (*Config, error) {
	c := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigEnv))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	str := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	str(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	str(&c.LLM.Provider, "LLM_PROVIDER")
	str(&c.LLM.APIKey, "LLM_API_KEY")
	str(&c.LLM.Model, "LLM_MODEL")
	str(&c.LLM.BaseURL, "LLM_BASE_URL")
	str(&c.Google.ServiceAccountFile, "GOOGLE_SERVICE_ACCOUNT_FILE")
	str(&c.Google.SpreadsheetID, "GOOGLE_SPREADSHEET_ID")
	str(&c.Google.SheetName, "GOOGLE_SHEET_NAME")
	str(&c.DatabasePath, "DATABASE_PATH")
	str(&c.Log.Level, "LOG_LEVEL")
	str(&c.Log.Format, "LOG_FORMAT")
	str(&c.HTTP.Addr, "HTTP_ADDR")
	str(&c.Auth.JWTSecret, "JWT_SECRET")
	str(&c.Auth.SecretKey, "SECRET_KEY")
	str(&c.AutoExportSchedule, "AUTO_EXPORT_SCHEDULE")

	// Provider-specific key names are accepted when LLM_API_KEY is unset.
	if c.LLM.APIKey == "" {
		for _, key := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY"} {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				c.LLM.APIKey = v
				break
			}
		}
	}

	var errs []error
	if v, ok := os.LookupEnv("TELEGRAM_OWNER_ID"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_OWNER_ID: %q is not an integer", v))
		}
		c.Telegram.OwnerID = n
	}
	for key, dst := range map[string]*int{
		"INITIAL_MESSAGES_COUNT":   &c.InitialMessages,
		"SHEETS_WRITES_PER_MINUTE": &c.Google.WritesPerMinute,
	} {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
				continue
			}
			*dst = n
		}
	}
	for key, dst := range map[string]*time.Duration{
		"JWT_EXPIRY":   &c.Auth.JWTExpiry,
		"AUTH_MAX_AGE": &c.Auth.MaxAge,
	} {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = d
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SheetsEnabled reports whether a service-account file is configured.
func (c *Config) SheetsEnabled() bool {
	return c.Google.ServiceAccountFile != ""
}

// Validate checks that the settings mode needs are present. All problems
// are reported together.
func (c *Config) Validate(mode Mode) error {
	var errs []error
	need := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	need(c.DatabasePath != "", "DATABASE_PATH is required")
	need(c.InitialMessages >= 1 && c.InitialMessages <= 50, "INITIAL_MESSAGES_COUNT must be between 1 and 50")
	need(c.Google.WritesPerMinute >= 0, "SHEETS_WRITES_PER_MINUTE cannot be negative")
	need(c.Google.SheetName != "", "GOOGLE_SHEET_NAME cannot be empty")
	need(c.Auth.SecretKey == "" || len(c.Auth.SecretKey) >= MinSecretLength,
		fmt.Sprintf("SECRET_KEY must be at least %d characters", MinSecretLength))

	switch mode {
	case ModeTrack:
		need(c.Telegram.BotToken != "" || c.Auth.SecretKey != "",
			"TELEGRAM_BOT_TOKEN is required (or SECRET_KEY for stored per-account bots)")
		need(c.Telegram.BotToken == "" || c.Telegram.OwnerID > 0,
			"TELEGRAM_OWNER_ID is required with TELEGRAM_BOT_TOKEN")
		need(c.LLM.APIKey != "", "LLM_API_KEY is required")
	case ModeServe:
		need(c.Telegram.BotToken != "", "TELEGRAM_BOT_TOKEN is required to verify logins")
		need(len(c.Auth.JWTSecret) >= MinSecretLength,
			fmt.Sprintf("JWT_SECRET must be at least %d characters", MinSecretLength))
		need(c.Auth.JWTExpiry > 0, "JWT_EXPIRY must be positive")
		need(c.Auth.MaxAge > 0, "AUTH_MAX_AGE must be positive")
		need(c.LLM.APIKey != "", "LLM_API_KEY is required")
		need(c.HTTP.Addr != "", "HTTP_ADDR is required")
	case ModeExport:
		need(c.SheetsEnabled(), "GOOGLE_SERVICE_ACCOUNT_FILE is required")
		need(c.Telegram.OwnerID > 0, "TELEGRAM_OWNER_ID is required")
	case ModeLocal:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", mode))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
