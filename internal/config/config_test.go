package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every key Load reads so the host environment cannot leak
// into a test. t.Setenv restores the previous values afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		ConfigEnv, "TELEGRAM_BOT_TOKEN", "TELEGRAM_OWNER_ID", "LLM_PROVIDER", "LLM_API_KEY",
		"LLM_MODEL", "LLM_BASE_URL", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY",
		"GOOGLE_SERVICE_ACCOUNT_FILE", "GOOGLE_SPREADSHEET_ID", "GOOGLE_SHEET_NAME",
		"SHEETS_WRITES_PER_MINUTE", "DATABASE_PATH", "LOG_LEVEL", "LOG_FORMAT",
		"INITIAL_MESSAGES_COUNT", "HTTP_ADDR", "JWT_SECRET", "JWT_EXPIRY", "AUTH_MAX_AGE",
		"SECRET_KEY", "AUTO_EXPORT_SCHEDULE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./contacts.db", c.DatabasePath)
	assert.Equal(t, "Conference Contacts", c.Google.SheetName)
	assert.Equal(t, 5, c.InitialMessages)
	assert.Equal(t, "INFO", c.Log.Level)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, 7*24*time.Hour, c.Auth.JWTExpiry)
	assert.Equal(t, 24*time.Hour, c.Auth.MaxAge)
	assert.False(t, c.SheetsEnabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "contacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
telegram:
  bot_token: file-token
  owner_id: 7
google:
  sheet_name: From File
  writes_per_minute: 30
initial_messages: 9
auth:
  jwt_expiry: 1h
`), 0o600))

	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("INITIAL_MESSAGES_COUNT", "12")
	t.Setenv("GEMINI_API_KEY", "gem-key")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", c.Telegram.BotToken, "env overrides file")
	assert.Equal(t, int64(7), c.Telegram.OwnerID, "file value kept without env")
	assert.Equal(t, "From File", c.Google.SheetName)
	assert.Equal(t, 30, c.Google.WritesPerMinute)
	assert.Equal(t, 12, c.InitialMessages)
	assert.Equal(t, time.Hour, c.Auth.JWTExpiry)
	assert.Equal(t, "gem-key", c.LLM.APIKey)
}

func TestLoad_ConfigEnvPath(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_path: /tmp/x.db\n"), 0o600))
	t.Setenv(ConfigEnv, path)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", c.DatabasePath)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("telegram: [unclosed"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("bad env values are all reported", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TELEGRAM_OWNER_ID", "abc")
		t.Setenv("JWT_EXPIRY", "forever")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TELEGRAM_OWNER_ID")
		assert.Contains(t, err.Error(), "JWT_EXPIRY")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Telegram.BotToken = "1:abc"
		c.Telegram.OwnerID = 42
		c.LLM.APIKey = "key"
		c.Auth.JWTSecret = "0123456789abcdef-jwt"
		c.Google.ServiceAccountFile = "/etc/sa.json"
		return c
	}

	for _, mode := range []Mode{ModeServe, ModeTrack, ModeExport, ModeLocal} {
		assert.NoError(t, valid().Validate(mode), mode)
	}

	tests := []struct {
		name   string
		mode   Mode
		mutate func(*Config)
		want   string
	}{
		{"short jwt secret", ModeServe, func(c *Config) { c.Auth.JWTSecret = "short" }, "JWT_SECRET"},
		{"serve without bot", ModeServe, func(c *Config) { c.Telegram.BotToken = "" }, "TELEGRAM_BOT_TOKEN"},
		{"track without llm", ModeTrack, func(c *Config) { c.LLM.APIKey = "" }, "LLM_API_KEY"},
		{"track bot without owner", ModeTrack, func(c *Config) { c.Telegram.OwnerID = 0 }, "TELEGRAM_OWNER_ID"},
		{"export without sheets", ModeExport, func(c *Config) { c.Google.ServiceAccountFile = "" }, "GOOGLE_SERVICE_ACCOUNT_FILE"},
		{"history out of range", ModeLocal, func(c *Config) { c.InitialMessages = 51 }, "INITIAL_MESSAGES_COUNT"},
		{"short seal key", ModeLocal, func(c *Config) { c.Auth.SecretKey = "tiny" }, "SECRET_KEY"},
		{"unknown mode", Mode("dance"), func(*Config) {}, "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate(tt.mode)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_TrackWithStoredBotsOnly(t *testing.T) {
	c := Default()
	c.LLM.APIKey = "key"
	c.Auth.SecretKey = "a-long-enough-seal-key"

	assert.NoError(t, c.Validate(ModeTrack))
}
