package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable LoadFromEnv reads for the duration of t.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envKeys {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:8089/callback", cfg.RedirectURI)
	assert.Equal(t, "activity:read_all", cfg.Scope)
	assert.Equal(t, ".strava_tokens.json", cfg.TokenFile)
	assert.Equal(t, "https://www.strava.com/oauth/authorize", cfg.AuthorizeURL)
	assert.Equal(t, "https://www.strava.com/oauth/token", cfg.TokenURL)
	assert.Equal(t, 5*time.Minute, cfg.RefreshBuffer)
	assert.Equal(t, 180*time.Second, cfg.AuthTimeout)
	assert.False(t, cfg.Keyring)
	assert.Equal(t, "auto", cfg.Format)
	assert.NotNil(t, cfg.Sources)
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	writeJSON(t, configPath, map[string]any{
		"client_id":      12345,
		"client_secret":  "file-secret",
		"redirect_uri":   "http://127.0.0.1:9000/callback",
		"scope":          "read,activity:read_all",
		"token_file":     "/var/lib/coachsync/tokens.json",
		"token_url":      "http://127.0.0.1:8080/oauth/token",
		"keyring":        true,
		"refresh_buffer": "10m",
		"auth_timeout":   60,
		"format":         "json",
	})

	cfg := Default()
	loadFromFile(cfg, configPath, SourceGlobal)

	assert.Equal(t, "12345", cfg.ClientID)
	assert.Equal(t, "file-secret", cfg.ClientSecret)
	assert.Equal(t, "http://127.0.0.1:9000/callback", cfg.RedirectURI)
	assert.Equal(t, "read,activity:read_all", cfg.Scope)
	assert.Equal(t, "/var/lib/coachsync/tokens.json", cfg.TokenFile)
	assert.Equal(t, "http://127.0.0.1:8080/oauth/token", cfg.TokenURL)
	assert.True(t, cfg.Keyring)
	assert.Equal(t, 10*time.Minute, cfg.RefreshBuffer)
	assert.Equal(t, time.Minute, cfg.AuthTimeout)
	assert.Equal(t, "json", cfg.Format)

	assert.Equal(t, "global", cfg.Sources["client_id"])
	assert.Equal(t, "global", cfg.Sources["refresh_buffer"])
}

func TestLoadFromFileLocalIgnoresAuthorityKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	writeJSON(t, configPath, map[string]any{
		"client_id":     "local-id",
		"client_secret": "local-secret",
		"token_url":     "https://evil.example.com/token",
		"authorize_url": "https://evil.example.com/authorize",
	})

	cfg := Default()
	loadFromFile(cfg, configPath, SourceLocal)

	assert.Equal(t, "local-id", cfg.ClientID)
	assert.Empty(t, cfg.ClientSecret, "client_secret must not be read from local config")
	assert.Equal(t, "https://www.strava.com/oauth/token", cfg.TokenURL)
	assert.Equal(t, "https://www.strava.com/oauth/authorize", cfg.AuthorizeURL)
}

func TestLoadFromFileSkipsInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("not valid json"), 0644))

	cfg := Default()
	loadFromFile(cfg, configPath, SourceGlobal)

	assert.Equal(t, "activity:read_all", cfg.Scope)
}

func TestLoadFromFileSkipsMissingFile(t *testing.T) {
	cfg := Default()
	loadFromFile(cfg, "/nonexistent/path/config.json", SourceGlobal)

	assert.Empty(t, cfg.ClientID)
	assert.Empty(t, cfg.Sources)
}

func TestLoadFromFileSkipsInvalidDuration(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	writeJSON(t, configPath, map[string]any{"refresh_buffer": "soon"})

	cfg := Default()
	loadFromFile(cfg, configPath, SourceGlobal)

	assert.Equal(t, 5*time.Minute, cfg.RefreshBuffer)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRAVA_CLIENT_ID", "env-id")
	t.Setenv("STRAVA_CLIENT_SECRET", "env-secret")
	t.Setenv("STRAVA_REDIRECT_URI", "http://localhost:9999/callback")
	t.Setenv("STRAVA_SCOPES", "read")
	t.Setenv("STRAVA_TOKEN_FILE", "/tmp/tokens.json")
	t.Setenv("COACHSYNC_KEYRING", "1")
	t.Setenv("COACHSYNC_REFRESH_BUFFER", "2m")
	t.Setenv("COACHSYNC_AUTH_TIMEOUT", "30")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, "env-id", cfg.ClientID)
	assert.Equal(t, "env-secret", cfg.ClientSecret)
	assert.Equal(t, "http://localhost:9999/callback", cfg.RedirectURI)
	assert.Equal(t, "read", cfg.Scope)
	assert.Equal(t, "/tmp/tokens.json", cfg.TokenFile)
	assert.True(t, cfg.Keyring)
	assert.Equal(t, 2*time.Minute, cfg.RefreshBuffer)
	assert.Equal(t, 30*time.Second, cfg.AuthTimeout)
	assert.Equal(t, "env", cfg.Sources["client_secret"])
}

func TestLoadFromEnvIgnoresInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("COACHSYNC_KEYRING", "maybe")
	t.Setenv("COACHSYNC_REFRESH_BUFFER", "later")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.False(t, cfg.Keyring)
	assert.Equal(t, 5*time.Minute, cfg.RefreshBuffer)
	assert.NotContains(t, cfg.Sources, "keyring")
}

func TestLoadDotenvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRAVA_CLIENT_ID", "real-env-id")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STRAVA_CLIENT_ID=dotenv-id\nSTRAVA_CLIENT_SECRET=dotenv-secret\n"), 0600))

	cfg := Default()
	require.NoError(t, loadDotenv(cfg, path))
	LoadFromEnv(cfg)

	assert.Equal(t, "real-env-id", cfg.ClientID)
	assert.Equal(t, "dotenv-secret", cfg.ClientSecret)
	assert.Equal(t, "dotenv", cfg.Sources["client_secret"])
	assert.Equal(t, "env", cfg.Sources["client_id"])
}

func TestLoadDotenvIgnoresAuthorityKeys(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"STRAVA_CLIENT_SECRET=dotenv-secret\n"+
			"STRAVA_TOKEN_URL=https://evil.example.com/token\n"+
			"STRAVA_AUTHORIZE_URL=https://evil.example.com/authorize\n"), 0600))

	cfg := Default()
	require.NoError(t, loadDotenv(cfg, path))

	assert.Equal(t, "dotenv-secret", cfg.ClientSecret)
	assert.Equal(t, "https://www.strava.com/oauth/token", cfg.TokenURL)
	assert.Equal(t, "https://www.strava.com/oauth/authorize", cfg.AuthorizeURL)
	assert.NotContains(t, cfg.Sources, "token_url")
	assert.NotContains(t, cfg.Sources, "authorize_url")
}

func TestLoadDotenvMissingFile(t *testing.T) {
	cfg := Default()
	assert.NoError(t, loadDotenv(cfg, filepath.Join(t.TempDir(), ".env")))
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)

	workDir := t.TempDir()
	t.Chdir(workDir)

	writeJSON(t, filepath.Join(configHome, "coachsync", "config.json"), map[string]any{
		"client_id":     "global-id",
		"client_secret": "global-secret",
		"scope":         "global-scope",
		"format":        "styled",
	})
	writeJSON(t, filepath.Join(workDir, ".coachsync", "config.json"), map[string]any{
		"scope": "local-scope",
	})
	t.Setenv("STRAVA_SCOPES", "env-scope")

	cfg, err := Load(FlagOverrides{Format: "json", TokenFile: "flag.json"})
	require.NoError(t, err)

	assert.Equal(t, "global-id", cfg.ClientID)
	assert.Equal(t, "global-secret", cfg.ClientSecret)
	assert.Equal(t, "env-scope", cfg.Scope)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "flag.json", cfg.TokenFile)

	assert.Equal(t, "global", cfg.Source("client_id"))
	assert.Equal(t, "env", cfg.Source("scope"))
	assert.Equal(t, "flag", cfg.Source("format"))
	assert.Equal(t, "default", cfg.Source("redirect_uri"))
}

func TestLoadExplicitConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "coach.json")
	writeJSON(t, path, map[string]any{"client_id": "explicit-id", "token_url": "http://127.0.0.1/token"})

	cfg, err := Load(FlagOverrides{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, "explicit-id", cfg.ClientID)
	assert.Equal(t, "http://127.0.0.1/token", cfg.TokenURL)
	assert.Equal(t, "explicit", cfg.Source("client_id"))

	_, err = Load(FlagOverrides{ConfigFile: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestOAuth(t *testing.T) {
	cfg := Default()
	cfg.ClientID = "cid"
	cfg.ClientSecret = "sec"
	cfg.TokenFile = "tokens.json"

	oauth := cfg.OAuth()
	assert.Equal(t, "cid", oauth.ClientID)
	assert.Equal(t, "sec", oauth.ClientSecret)
	assert.Equal(t, "tokens.json", oauth.StoreLocation)
	assert.Equal(t, cfg.RedirectURI, oauth.RedirectURI)
	assert.Equal(t, cfg.TokenURL, oauth.TokenURL)
}

func TestMaskedSecret(t *testing.T) {
	tests := []struct {
		secret   string
		expected string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcdefgh", "****efgh"},
	}

	for _, tt := range tests {
		cfg := &Config{ClientSecret: tt.secret}
		assert.Equal(t, tt.expected, cfg.MaskedSecret())
	}
}

func TestGlobalConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/coachsync", GlobalConfigDir())
}
