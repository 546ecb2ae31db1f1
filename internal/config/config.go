// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/coachsync/coachsync/internal/auth"
)

// DefaultAddTimeout is how long `athletes add` waits for the browser redirect.
const DefaultAddTimeout = 180 * time.Second

// Config holds the resolved configuration.
type Config struct {
	// OAuth client settings
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
	RedirectURI  string `json:"redirect_uri"`
	Scope        string `json:"scope"`
	AuthorizeURL string `json:"authorize_url"`
	TokenURL     string `json:"token_url"`

	// Credential storage
	TokenFile string `json:"token_file"`
	Keyring   bool   `json:"keyring"`

	// Lifecycle timing
	RefreshBuffer time.Duration `json:"refresh_buffer"`
	AuthTimeout   time.Duration `json:"auth_timeout"`
	TokenTimeout  time.Duration `json:"token_timeout"`

	// Output settings
	Format string `json:"format"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault  Source = "default"
	SourceGlobal   Source = "global"
	SourceLocal    Source = "local"
	SourceExplicit Source = "explicit"
	SourceDotenv   Source = "dotenv"
	SourceEnv      Source = "env"
	SourceFlag     Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	ConfigFile string
	TokenFile  string
	Format     string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		RedirectURI:   auth.DefaultRedirectURI,
		Scope:         auth.DefaultScope,
		AuthorizeURL:  auth.DefaultAuthorizeURL,
		TokenURL:      auth.DefaultTokenURL,
		TokenFile:     auth.DefaultStoreLocation,
		RefreshBuffer: auth.DefaultRefreshBuffer,
		AuthTimeout:   DefaultAddTimeout,
		TokenTimeout:  auth.DefaultTokenTimeout,
		Format:        "auto",
		Sources:       make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > .env > explicit file > local > global > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, GlobalConfigPath(), SourceGlobal)
	loadFromFile(cfg, LocalConfigPath(), SourceLocal)

	if overrides.ConfigFile != "" {
		if _, err := os.Stat(overrides.ConfigFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", overrides.ConfigFile, err)
		}
		loadFromFile(cfg, overrides.ConfigFile, SourceExplicit)
	}

	if err := loadDotenv(cfg, ".env"); err != nil {
		return nil, err
	}

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	return cfg, nil
}

// OAuth projects the resolved settings onto the auth client configuration.
func (cfg *Config) OAuth() auth.OAuthConfig {
	return auth.OAuthConfig{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		RedirectURI:   cfg.RedirectURI,
		Scope:         cfg.Scope,
		StoreLocation: cfg.TokenFile,
		AuthorizeURL:  cfg.AuthorizeURL,
		TokenURL:      cfg.TokenURL,
	}
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	// Authority keys decide where the client secret and codes are sent.
	// A local config in a cloned directory must not redirect them.
	untrusted := source == SourceLocal

	if v := getStringOrNumber(fileCfg, "client_id"); v != "" {
		cfg.ClientID = v
		cfg.Sources["client_id"] = string(source)
	}
	if v, ok := fileCfg["client_secret"].(string); ok && v != "" {
		if untrusted {
			fmt.Fprintf(os.Stderr, "warning: ignoring client_secret from %s config at %s (secrets are not read from local config)\n", source, path)
		} else {
			cfg.ClientSecret = v
			cfg.Sources["client_secret"] = string(source)
		}
	}
	if v, ok := fileCfg["redirect_uri"].(string); ok && v != "" {
		cfg.RedirectURI = v
		cfg.Sources["redirect_uri"] = string(source)
	}
	if v, ok := fileCfg["scope"].(string); ok && v != "" {
		cfg.Scope = v
		cfg.Sources["scope"] = string(source)
	}
	for _, k := range []string{"authorize_url", "token_url"} {
		v, ok := fileCfg[k].(string)
		if !ok || v == "" {
			continue
		}
		if untrusted {
			fmt.Fprintf(os.Stderr, "warning: ignoring %s %q from %s config at %s (authority keys are not trusted from local config)\n", k, v, source, path)
			continue
		}
		if k == "authorize_url" {
			cfg.AuthorizeURL = v
		} else {
			cfg.TokenURL = v
		}
		cfg.Sources[k] = string(source)
	}
	if v, ok := fileCfg["token_file"].(string); ok && v != "" {
		cfg.TokenFile = v
		cfg.Sources["token_file"] = string(source)
	}
	if v, ok := fileCfg["keyring"].(bool); ok {
		cfg.Keyring = v
		cfg.Sources["keyring"] = string(source)
	}
	if v, ok := fileCfg["format"].(string); ok && v != "" {
		cfg.Format = v
		cfg.Sources["format"] = string(source)
	}

	durations := map[string]*time.Duration{
		"refresh_buffer": &cfg.RefreshBuffer,
		"auth_timeout":   &cfg.AuthTimeout,
		"token_timeout":  &cfg.TokenTimeout,
	}
	for k, dst := range durations {
		raw, ok := fileCfg[k]
		if !ok {
			continue
		}
		d, ok := parseDuration(raw)
		if !ok {
			fmt.Fprintf(os.Stderr, "warning: ignoring invalid %s %v in %s\n", k, raw, path)
			continue
		}
		*dst = d
		cfg.Sources[k] = string(source)
	}
}

// loadDotenv applies a .env file without overriding variables already set
// in the process environment.
func loadDotenv(cfg *Config, path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	for name, value := range values {
		if _, set := os.LookupEnv(name); set {
			continue
		}
		// A .env sits in the working directory like local config, so it
		// gets the same authority-key restriction.
		if dotenvAuthorityKeys[name] {
			fmt.Fprintf(os.Stderr, "warning: ignoring %s from %s (authority keys are not trusted from .env)\n", name, path)
			continue
		}
		applyEnv(cfg, name, value, SourceDotenv)
	}
	return nil
}

var dotenvAuthorityKeys = map[string]bool{
	"STRAVA_AUTHORIZE_URL": true,
	"STRAVA_TOKEN_URL":     true,
}

// envKeys maps environment variables to the settings they control.
var envKeys = []string{
	"STRAVA_CLIENT_ID",
	"STRAVA_CLIENT_SECRET",
	"STRAVA_REDIRECT_URI",
	"STRAVA_SCOPES",
	"STRAVA_TOKEN_FILE",
	"STRAVA_AUTHORIZE_URL",
	"STRAVA_TOKEN_URL",
	"COACHSYNC_KEYRING",
	"COACHSYNC_REFRESH_BUFFER",
	"COACHSYNC_AUTH_TIMEOUT",
	"COACHSYNC_FORMAT",
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	for _, name := range envKeys {
		if v := os.Getenv(name); v != "" {
			applyEnv(cfg, name, v, SourceEnv)
		}
	}
}

func applyEnv(cfg *Config, name, v string, source Source) {
	set := func(key string) { cfg.Sources[key] = string(source) }

	switch name {
	case "STRAVA_CLIENT_ID":
		cfg.ClientID = v
		set("client_id")
	case "STRAVA_CLIENT_SECRET":
		cfg.ClientSecret = v
		set("client_secret")
	case "STRAVA_REDIRECT_URI":
		cfg.RedirectURI = v
		set("redirect_uri")
	case "STRAVA_SCOPES":
		cfg.Scope = v
		set("scope")
	case "STRAVA_TOKEN_FILE":
		cfg.TokenFile = v
		set("token_file")
	case "STRAVA_AUTHORIZE_URL":
		cfg.AuthorizeURL = v
		set("authorize_url")
	case "STRAVA_TOKEN_URL":
		cfg.TokenURL = v
		set("token_url")
	case "COACHSYNC_KEYRING":
		if b, ok := parseEnvBool(v); ok {
			cfg.Keyring = b
			set("keyring")
		}
	case "COACHSYNC_REFRESH_BUFFER":
		if d, ok := parseDuration(v); ok {
			cfg.RefreshBuffer = d
			set("refresh_buffer")
		}
	case "COACHSYNC_AUTH_TIMEOUT":
		if d, ok := parseDuration(v); ok {
			cfg.AuthTimeout = d
			set("auth_timeout")
		}
	case "COACHSYNC_FORMAT":
		cfg.Format = v
		set("format")
	}
}

// parseEnvBool parses a boolean environment variable strictly.
// Returns (value, true) for recognized values, (false, false) for unrecognized.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// parseDuration accepts Go duration strings ("5m", "90s") or a number of seconds.
func parseDuration(v any) (time.Duration, bool) {
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil && d >= 0 {
			return d, true
		}
		var secs float64
		if _, err := fmt.Sscan(val, &secs); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
	case float64:
		if val >= 0 {
			return time.Duration(val * float64(time.Second)), true
		}
	}
	return 0, false
}

// getStringOrNumber extracts a value that may be either a string or number in JSON.
func getStringOrNumber(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers are unmarshaled as float64
		return fmt.Sprintf("%.0f", val)
	default:
		return ""
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.TokenFile != "" {
		cfg.TokenFile = o.TokenFile
		cfg.Sources["token_file"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
}

// Source returns where key was set, or "default".
func (cfg *Config) Source(key string) string {
	if s, ok := cfg.Sources[key]; ok {
		return s
	}
	return string(SourceDefault)
}

// MaskedSecret returns the client secret with all but the last four
// characters hidden.
func (cfg *Config) MaskedSecret() string {
	if cfg.ClientSecret == "" {
		return ""
	}
	if len(cfg.ClientSecret) <= 4 {
		return strings.Repeat("*", len(cfg.ClientSecret))
	}
	return strings.Repeat("*", len(cfg.ClientSecret)-4) + cfg.ClientSecret[len(cfg.ClientSecret)-4:]
}

// Path helpers

// GlobalConfigPath returns the path of the per-user config file.
func GlobalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// LocalConfigPath returns the path of the per-directory config file.
func LocalConfigPath() string {
	return filepath.Join(".coachsync", "config.json")
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "coachsync")
}
