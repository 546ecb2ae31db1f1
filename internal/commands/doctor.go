package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/coachsync/coachsync/internal/appctx"
	"github.com/coachsync/coachsync/internal/auth"
	"github.com/coachsync/coachsync/internal/config"
	"github.com/coachsync/coachsync/internal/output"
	"github.com/coachsync/coachsync/internal/version"
)

// Check represents a single diagnostic check result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "fail", "skip", "warn"
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// DoctorResult holds the complete diagnostic results.
type DoctorResult struct {
	Checks  []Check `json:"checks"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
	Warned  int     `json:"warned"`
	Skipped int     `json:"skipped"`
}

// Summary returns a human-readable summary of the results.
func (r *DoctorResult) Summary() string {
	if r.Failed == 0 && r.Warned == 0 && r.Passed > 0 {
		if r.Skipped > 0 {
			return fmt.Sprintf("All %d checks passed, %d skipped", r.Passed, r.Skipped)
		}
		return fmt.Sprintf("All %d checks passed", r.Passed)
	}
	parts := []string{}
	if r.Passed > 0 {
		parts = append(parts, fmt.Sprintf("%d passed", r.Passed))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.Warned > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", r.Warned, pluralize(r.Warned, "warning", "warnings")))
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", r.Skipped))
	}
	return strings.Join(parts, ", ")
}

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and stored credentials",
		Long: `Run diagnostic checks on configuration, credential storage, and the
Strava token endpoint.

Examples:
  coachsync doctor              # Run all diagnostic checks
  coachsync doctor --json       # Output results as JSON
  coachsync doctor --offline    # Skip the token endpoint check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			checks := runDoctorChecks(cmd.Context(), app, offline)
			result := summarizeChecks(checks)

			if app.Output.EffectiveFormat() == output.FormatStyled {
				renderDoctorStyled(app.Output.Raw(), result)
				return nil
			}

			opts := []output.ResponseOption{
				output.WithSummary(result.Summary()),
			}
			if breadcrumbs := buildDoctorBreadcrumbs(checks); len(breadcrumbs) > 0 {
				opts = append(opts, output.WithBreadcrumbs(breadcrumbs...))
			}

			return app.OK(result, opts...)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip network checks")

	return cmd
}

// runDoctorChecks executes all diagnostic checks.
func runDoctorChecks(ctx context.Context, app *appctx.App, offline bool) []Check {
	checks := []Check{
		checkVersion(),
		checkRuntime(),
	}

	checks = append(checks, checkConfigFiles()...)

	clientCheck := checkClient(app)
	checks = append(checks, clientCheck, checkRedirectURI(app))

	if clientCheck.Status != "pass" {
		return append(checks,
			Check{Name: "Credential Store", Status: "skip", Message: "Skipped (no OAuth client)"},
			Check{Name: "Token Endpoint", Status: "skip", Message: "Skipped (no OAuth client)"},
		)
	}

	mgr, err := app.Auth()
	if err != nil {
		return append(checks, Check{
			Name:    "Credential Store",
			Status:  "fail",
			Message: "Cannot open credential store",
			Hint:    err.Error(),
		})
	}

	checks = append(checks, checkStore(app, mgr))
	checks = append(checks, checkAthletes(mgr)...)

	if offline {
		checks = append(checks, Check{Name: "Token Endpoint", Status: "skip", Message: "Skipped (--offline)"})
	} else {
		checks = append(checks, checkTokenEndpoint(ctx, app))
	}

	return checks
}

func checkVersion() Check {
	check := Check{Name: "CLI Version", Status: "pass", Message: version.Version}
	if version.IsDev() {
		check.Message = "dev (built from source)"
	}
	return check
}

func checkRuntime() Check {
	return Check{
		Name:    "Runtime",
		Status:  "pass",
		Message: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

// checkConfigFiles validates whichever config files exist.
func checkConfigFiles() []Check {
	var checks []Check
	for _, f := range []struct{ name, path string }{
		{"Global Config", config.GlobalConfigPath()},
		{"Local Config", config.LocalConfigPath()},
	} {
		if _, err := os.Stat(f.path); err != nil {
			continue
		}
		checks = append(checks, validateConfigFile(f.path, f.name))
	}
	if len(checks) == 0 {
		checks = append(checks, Check{
			Name:    "Config Files",
			Status:  "pass",
			Message: "None (using environment and defaults)",
		})
	}
	return checks
}

func validateConfigFile(path, name string) Check {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return Check{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Cannot read: %s", path),
			Hint:    fmt.Sprintf("Check file permissions: %v", err),
		}
	}

	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Check{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Invalid JSON: %s", path),
			Hint:    fmt.Sprintf("JSON error: %v", err),
		}
	}

	return Check{Name: name, Status: "pass", Message: path}
}

// checkClient checks that the OAuth client ID and secret are configured.
func checkClient(app *appctx.App) Check {
	check := Check{Name: "OAuth Client"}

	var missing []string
	if app.Config.ClientID == "" {
		missing = append(missing, "STRAVA_CLIENT_ID")
	}
	if app.Config.ClientSecret == "" {
		missing = append(missing, "STRAVA_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		check.Status = "fail"
		check.Message = "Missing " + strings.Join(missing, " and ")
		check.Hint = "Create an API application at https://www.strava.com/settings/api"
		return check
	}

	check.Status = "pass"
	check.Message = fmt.Sprintf("Client %s (secret from %s)", app.Config.ClientID, app.Config.Source("client_secret"))
	return check
}

// checkRedirectURI warns when the callback would not be served locally.
func checkRedirectURI(app *appctx.App) Check {
	check := Check{Name: "Redirect URI", Message: app.Config.RedirectURI}

	u, err := url.Parse(app.Config.RedirectURI)
	if err != nil || u.Host == "" {
		check.Status = "fail"
		check.Hint = "Set STRAVA_REDIRECT_URI to an http://localhost:<port>/<path> address"
		return check
	}

	host := u.Hostname()
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		check.Status = "warn"
		check.Hint = "The callback listener binds this host; Strava only redirects to the Authorization Callback Domain"
		return check
	}

	check.Status = "pass"
	return check
}

func checkStore(app *appctx.App, mgr *auth.Manager) Check {
	check := Check{Name: "Credential Store", Status: "pass"}

	n := len(mgr.Store().IDs())
	check.Message = fmt.Sprintf("%s (%d %s)", mgr.Store().Location(), n, pluralize(n, "athlete", "athletes"))

	if app.Config.Keyring && !strings.HasPrefix(mgr.Store().Location(), "keyring:") {
		check.Status = "warn"
		check.Hint = "Keyring is enabled but unavailable; credentials are stored in plaintext"
	}
	return check
}

// checkAthletes reports each athlete's token state without refreshing.
func checkAthletes(mgr *auth.Manager) []Check {
	rows := athleteRows(mgr)
	if len(rows) == 0 {
		return []Check{{
			Name:    "Athletes",
			Status:  "warn",
			Message: "No athletes authorized",
			Hint:    "Run: coachsync athletes add",
		}}
	}

	checks := make([]Check, 0, len(rows))
	for _, r := range rows {
		check := Check{Name: fmt.Sprintf("Athlete %d", r.ID), Status: "pass"}
		cred, _ := mgr.Store().Get(r.ID)
		if r.Status == auth.StateExpiring.String() {
			check.Status = "warn"
			check.Message = fmt.Sprintf("%s (%s)", r.Name, expiresIn(cred))
			check.Hint = "The token will refresh on next use"
		} else {
			check.Message = fmt.Sprintf("%s (%s)", r.Name, expiresIn(cred))
		}
		checks = append(checks, check)
	}
	return checks
}

// checkTokenEndpoint confirms the token endpoint answers. Any HTTP response
// counts; only transport failures fail the check.
func checkTokenEndpoint(ctx context.Context, app *appctx.App) Check {
	check := Check{Name: "Token Endpoint"}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, app.Config.TokenURL, nil)
	if err != nil {
		check.Status = "fail"
		check.Message = "Invalid token URL"
		check.Hint = err.Error()
		return check
	}

	start := time.Now()
	resp, err := app.HTTPClient().Do(req)
	if err != nil {
		check.Status = "fail"
		check.Message = "Cannot reach " + app.Config.TokenURL
		check.Hint = fmt.Sprintf("Error: %v", err)
		return check
	}
	resp.Body.Close()

	check.Status = "pass"
	check.Message = fmt.Sprintf("Reachable (%dms)", time.Since(start).Milliseconds())
	return check
}

// summarizeChecks counts results by status.
func summarizeChecks(checks []Check) *DoctorResult {
	result := &DoctorResult{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case "pass":
			result.Passed++
		case "fail":
			result.Failed++
		case "warn":
			result.Warned++
		case "skip":
			result.Skipped++
		}
	}
	return result
}

// buildDoctorBreadcrumbs suggests next steps for failed checks.
func buildDoctorBreadcrumbs(checks []Check) []output.Breadcrumb {
	var breadcrumbs []output.Breadcrumb
	seen := make(map[string]bool)

	add := func(b output.Breadcrumb) {
		if !seen[b.Cmd] {
			seen[b.Cmd] = true
			breadcrumbs = append(breadcrumbs, b)
		}
	}

	for _, c := range checks {
		if c.Status != "fail" && c.Status != "warn" {
			continue
		}
		switch {
		case c.Name == "OAuth Client", c.Name == "Redirect URI":
			add(output.Breadcrumb{Action: "config", Cmd: "coachsync config show", Description: "Review configuration"})
		case c.Name == "Athletes":
			add(output.Breadcrumb{Action: "add", Cmd: "coachsync athletes add", Description: "Authorize an athlete"})
		case strings.HasPrefix(c.Name, "Athlete "):
			id := strings.TrimPrefix(c.Name, "Athlete ")
			add(output.Breadcrumb{Action: "refresh", Cmd: "coachsync athletes refresh " + id, Description: "Refresh now"})
		}
	}
	return breadcrumbs
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// renderDoctorStyled outputs a human-friendly styled format for TTY.
func renderDoctorStyled(w io.Writer, result *DoctorResult) {
	r := output.NewRenderer(w, false)

	nameStyle := lipgloss.NewStyle().Bold(true)

	statusIcon := map[string]string{
		"pass": r.Success.Render("✓"),
		"fail": r.Error.Render("✗"),
		"warn": r.Warning.Render("!"),
		"skip": r.Muted.Render("○"),
	}
	statusMsg := map[string]lipgloss.Style{
		"pass": r.Success,
		"fail": r.Error,
		"warn": r.Warning,
		"skip": r.Muted,
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, r.Summary.Render("coachsync doctor"))
	fmt.Fprintln(w)

	for _, check := range result.Checks {
		fmt.Fprintf(w, "  %s %s %s\n",
			statusIcon[check.Status],
			nameStyle.Render(check.Name),
			statusMsg[check.Status].Render(check.Message),
		)
		if check.Hint != "" && (check.Status == "fail" || check.Status == "warn") {
			fmt.Fprintf(w, "      %s\n", r.Hint.Render("↳ "+check.Hint))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n\n", result.Summary())
}
