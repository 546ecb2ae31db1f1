package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coachsync/coachsync/internal/appctx"
	"github.com/coachsync/coachsync/internal/config"
	"github.com/coachsync/coachsync/internal/output"
)

// configKeys lists the settings `config set` accepts.
var configKeys = map[string]bool{
	"client_id":      true,
	"client_secret":  true,
	"redirect_uri":   true,
	"scope":          true,
	"authorize_url":  true,
	"token_url":      true,
	"token_file":     true,
	"keyring":        true,
	"refresh_buffer": true,
	"auth_timeout":   true,
	"token_timeout":  true,
	"format":         true,
}

// globalOnlyKeys are ignored when read from a local config file.
var globalOnlyKeys = map[string]bool{
	"client_secret": true,
	"authorize_url": true,
	"token_url":     true,
}

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `View and edit configuration.

Settings are read from ~/.config/coachsync/config.json, then
.coachsync/config.json in the current directory, then .env, then
STRAVA_* environment variables. Later sources win.`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			cfg := app.Config
			values := []struct {
				key   string
				value string
			}{
				{"client_id", cfg.ClientID},
				{"client_secret", cfg.MaskedSecret()},
				{"redirect_uri", cfg.RedirectURI},
				{"scope", cfg.Scope},
				{"authorize_url", cfg.AuthorizeURL},
				{"token_url", cfg.TokenURL},
				{"token_file", cfg.TokenFile},
				{"keyring", fmt.Sprintf("%t", cfg.Keyring)},
				{"refresh_buffer", cfg.RefreshBuffer.String()},
				{"auth_timeout", cfg.AuthTimeout.String()},
				{"token_timeout", cfg.TokenTimeout.String()},
				{"format", cfg.Format},
			}

			rows := make([]map[string]any, 0, len(values))
			for _, v := range values {
				rows = append(rows, map[string]any{
					"key":    v.key,
					"value":  v.value,
					"source": cfg.Source(v.key),
				})
			}

			return app.OK(rows,
				output.WithSummary("Effective configuration"),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "set",
					Cmd:         "coachsync config set <key> <value>",
					Description: "Set config value",
				}),
			)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the local or global config file.

Valid keys: ` + strings.Join(sortedConfigKeys(), ", ") + `

client_secret, authorize_url and token_url are only honored in the global
config.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			key, value := args[0], args[1]
			if !configKeys[key] {
				return output.ErrUsage(fmt.Sprintf("Invalid config key %q. Valid keys: %s", key, strings.Join(sortedConfigKeys(), ", ")))
			}
			if globalOnlyKeys[key] && !global {
				return output.ErrUsageHint(key+" can only be set globally", "Retry with --global")
			}

			configPath, scope := configTarget(global)
			if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			configData := make(map[string]any)
			if data, err := os.ReadFile(configPath); err == nil { //nolint:gosec // G304: Path is from trusted config location
				_ = json.Unmarshal(data, &configData) // Start fresh if invalid
			}

			valueOut := value
			switch key {
			case "keyring":
				b, ok := parseBoolFlag(value)
				if !ok {
					return output.ErrUsage("keyring must be true/false (or 1/0)")
				}
				configData[key] = b
				valueOut = fmt.Sprintf("%t", b)
			case "refresh_buffer", "auth_timeout", "token_timeout":
				d, err := time.ParseDuration(value)
				if err != nil || d < 0 {
					return output.ErrUsage(fmt.Sprintf("%s must be a duration like 5m or 90s", key))
				}
				configData[key] = d.String()
				valueOut = d.String()
			case "format":
				if _, err := output.ParseFormat(value); err != nil {
					return output.ErrUsage(err.Error())
				}
				configData[key] = value
			default:
				configData[key] = value
			}

			if err := writeConfigFile(configPath, configData); err != nil {
				return err
			}

			if key == "client_secret" {
				valueOut = "(hidden)"
			}
			return app.OK(map[string]any{
				"key":    key,
				"value":  valueOut,
				"scope":  scope,
				"path":   configPath,
				"status": "set",
			},
				output.WithSummary(fmt.Sprintf("Set %s = %s (%s)", key, valueOut, scope)),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "show",
					Cmd:         "coachsync config show",
					Description: "View config",
				}),
			)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Set in global config (~/.config/coachsync/)")

	return cmd
}

func newConfigUnsetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Unset a configuration value",
		Long:  "Remove a configuration value from the local or global config file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			key := args[0]
			configPath, scope := configTarget(global)

			configData := make(map[string]any)
			data, err := os.ReadFile(configPath) //nolint:gosec // G304: Path is from trusted config location
			if err != nil {
				return app.OK(map[string]any{
					"key":    key,
					"status": "not_found",
				}, output.WithSummary(fmt.Sprintf("Config file not found: %s", configPath)))
			}
			_ = json.Unmarshal(data, &configData) // Treat invalid as empty

			if _, exists := configData[key]; !exists {
				return app.OK(map[string]any{
					"key":    key,
					"status": "not_set",
				}, output.WithSummary(fmt.Sprintf("Key not set: %s", key)))
			}

			delete(configData, key)
			if err := writeConfigFile(configPath, configData); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"key":    key,
				"scope":  scope,
				"status": "unset",
			}, output.WithSummary(fmt.Sprintf("Unset %s (%s)", key, scope)))
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Unset from global config")

	return cmd
}

func configTarget(global bool) (path, scope string) {
	if global {
		return config.GlobalConfigPath(), "global"
	}
	return config.LocalConfigPath(), "local"
}

func sortedConfigKeys() []string {
	names := make([]string, 0, len(configKeys))
	for k := range configKeys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func parseBoolFlag(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func writeConfigFile(path string, configData map[string]any) error {
	data, err := json.MarshalIndent(configData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomicWriteFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// atomicWriteFile writes data to a file atomically using temp+rename.
// Files are always created with 0600 permissions.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows: rename fails when the destination exists.
	if err := os.Rename(tmpPath, path); err != nil && runtime.GOOS == "windows" {
		_ = os.Remove(path)
		return os.Rename(tmpPath, path)
	} else { //nolint:revive // two-branch rename
		return err
	}
}
