// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/coachsync/coachsync/internal/auth"
	"github.com/coachsync/coachsync/internal/config"
	"github.com/coachsync/coachsync/internal/output"
	"github.com/coachsync/coachsync/internal/version"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Output *output.Writer
	Logger *slog.Logger

	// Flags holds the global flag values
	Flags GlobalFlags

	// Stderr receives prompts and log output.
	Stderr io.Writer

	// ManagerOptions are appended when the auth manager is built (tests
	// use this to swap the exchanger or browser).
	ManagerOptions []auth.ManagerOption

	auth *auth.Manager
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON    bool
	Quiet   bool
	Styled  bool // Force ANSI styled output (even when piped)
	IDsOnly bool

	// Context flags
	ConfigFile string
	TokenFile  string

	// Behavior flags
	Verbose int // 0=warnings, 1=info, 2=debug (stacks with -v -v or -vv)
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config) *App {
	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		format = output.FormatAuto
	}

	return &App{
		Config: cfg,
		Stderr: os.Stderr,
		Logger: newLogger(os.Stderr, 0),
		Output: output.New(output.Options{
			Format: format,
			Writer: os.Stdout,
		}),
	}
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	// Apply output format from flags (order matters: specific modes first)
	if a.Flags.IDsOnly {
		a.Output = output.New(output.Options{
			Format: output.FormatIDs,
			Writer: a.Output.Raw(),
		})
	} else if a.Flags.Quiet {
		a.Output = output.New(output.Options{
			Format: output.FormatQuiet,
			Writer: a.Output.Raw(),
		})
	} else if a.Flags.JSON {
		a.Output = output.New(output.Options{
			Format: output.FormatJSON,
			Writer: a.Output.Raw(),
		})
	} else if a.Flags.Styled {
		a.Output = output.New(output.Options{
			Format: output.FormatStyled,
			Writer: a.Output.Raw(),
		})
	}

	// Determine verbosity level from flags and COACHSYNC_DEBUG env var
	verboseLevel := a.Flags.Verbose
	if debugEnv := os.Getenv("COACHSYNC_DEBUG"); debugEnv != "" {
		if level, err := strconv.Atoi(debugEnv); err == nil {
			if level > verboseLevel {
				verboseLevel = level
			}
		} else if debugEnv == "true" {
			verboseLevel = 2
		}
	}

	a.Logger = newLogger(a.Stderr, verboseLevel)
}

// newLogger returns a text logger on w. Level 0 shows warnings and errors,
// 1 adds info, 2 adds debug.
func newLogger(w io.Writer, verbose int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbose >= 2:
		level = slog.LevelDebug
	case verbose == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Auth returns the credential lifecycle manager, building it on first use.
// A missing client ID or secret is reported as an output config error.
func (a *App) Auth() (*auth.Manager, error) {
	if a.auth != nil {
		return a.auth, nil
	}

	opts := []auth.ManagerOption{
		auth.WithLogger(a.Logger),
		auth.WithPrompt(a.Stderr),
		auth.WithStore(a.newStore()),
		auth.WithHTTPClient(a.HTTPClient()),
		auth.WithRefreshBuffer(a.Config.RefreshBuffer),
		auth.WithAuthTimeout(a.Config.AuthTimeout),
	}
	opts = append(opts, a.ManagerOptions...)

	mgr, err := auth.NewManager(a.Config.OAuth(), opts...)
	if err != nil {
		return nil, output.ErrConfig(err)
	}
	a.auth = mgr
	return mgr, nil
}

// newStore picks the keyring backend when it is enabled and usable,
// migrating an existing plaintext file into it, and the file backend otherwise.
func (a *App) newStore() *auth.Store {
	path := a.Config.TokenFile
	if !a.Config.Keyring {
		return auth.NewStore(path, a.Logger)
	}
	if !auth.KeyringAvailable() {
		a.Logger.Warn("system keyring unavailable, storing credentials in file", "path", path)
		return auth.NewStore(path, a.Logger)
	}
	if err := auth.MigrateFileToKeyring(path); err != nil {
		a.Logger.Warn("could not migrate credential file to keyring", "path", path, "error", err.Error())
		return auth.NewStore(path, a.Logger)
	}
	return auth.NewStoreWithBackend(auth.NewKeyringBackend(path), a.Logger)
}

// HTTPClient returns the client used for token endpoint calls.
func (a *App) HTTPClient() *http.Client {
	return &http.Client{
		Timeout:   a.Config.TokenTimeout,
		Transport: &userAgentTransport{base: http.DefaultTransport, ua: version.UserAgent()},
	}
}

// userAgentTransport stamps outgoing requests with the CLI user agent.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(req)
}

// OK outputs a success response.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	return a.Output.OK(data, opts...)
}

// Err outputs an error response.
func (a *App) Err(err error) error {
	return a.Output.Err(err)
}

// IsInteractive returns true if the terminal supports interactive prompts.
func (a *App) IsInteractive() bool {
	// Not interactive if any non-interactive output mode is set
	if a.Flags.JSON || a.Flags.Quiet || a.Flags.IDsOnly {
		return false
	}
	return output.IsTTY(os.Stdin) && output.IsTTY(os.Stdout)
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
