package commands

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/coachsync/coachsync/internal/appctx"
	"github.com/coachsync/coachsync/internal/auth"
	"github.com/coachsync/coachsync/internal/output"
	"github.com/coachsync/coachsync/internal/tui"
)

// NewAthletesCmd creates the athletes command group.
func NewAthletesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "athletes",
		Aliases: []string{"athlete"},
		Short:   "Manage authorized athletes",
		Long: `Manage the athletes who have granted this coach access to their Strava data.

Each athlete authorizes once in the browser. Tokens are stored locally and
refreshed automatically before they expire.`,
	}

	cmd.AddCommand(
		newAthletesAddCmd(),
		newAthletesListCmd(),
		newAthletesShowCmd(),
		newAthletesRemoveCmd(),
		newAthletesTokenCmd(),
		newAthletesRefreshCmd(),
	)

	return cmd
}

func newAthletesAddCmd() *cobra.Command {
	var timeout time.Duration
	var noBrowser bool
	var code string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Authorize a new athlete",
		Long: `Authorize a new athlete via the browser.

Opens the Strava authorization page and waits for the redirect on the
configured callback address. The athlete must approve access before the
timeout elapses.

When the athlete authorizes on another device, get the link with
"coachsync auth url" and pass the code it redirects with (or the whole
redirect URL) via --code. No callback listener is started then.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			mgr, err := app.Auth()
			if err != nil {
				return err
			}

			var cred *auth.Credential
			if cmd.Flags().Changed("code") {
				cred, err = mgr.AddPrincipalWithCode(cmd.Context(), code)
			} else {
				if !cmd.Flags().Changed("timeout") {
					timeout = app.Config.AuthTimeout
				}
				if timeout <= 0 {
					return output.ErrUsage("--timeout must be positive")
				}
				cred, err = mgr.Authorize(cmd.Context(), auth.AuthorizeOptions{
					Timeout:   timeout,
					NoBrowser: noBrowser,
				})
			}
			if err != nil {
				return err
			}

			id := strconv.FormatInt(cred.PrincipalID, 10)
			return app.OK(rowFor(mgr, cred),
				output.WithSummary(fmt.Sprintf("Authorized %s (%s)", cred.PrincipalName, expiresIn(cred))),
				output.WithBreadcrumbs(
					output.Breadcrumb{Action: "token", Cmd: "coachsync athletes token " + id, Description: "Get an access token"},
					output.Breadcrumb{Action: "list", Cmd: "coachsync athletes list", Description: "List authorized athletes"},
				),
			)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for the athlete to authorize (default from config, 3m)")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	cmd.Flags().StringVar(&code, "code", "", "Exchange an authorization code obtained elsewhere")
	cmd.MarkFlagsMutuallyExclusive("code", "timeout")
	cmd.MarkFlagsMutuallyExclusive("code", "no-browser")

	return cmd
}

func newAthletesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List authorized athletes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			mgr, err := app.Auth()
			if err != nil {
				return err
			}

			rows := athleteRows(mgr)
			if len(rows) == 0 {
				return app.OK(rows,
					output.WithSummary("No athletes authorized"),
					output.WithBreadcrumbs(output.Breadcrumb{
						Action: "add", Cmd: "coachsync athletes add", Description: "Authorize an athlete",
					}),
				)
			}
			return app.OK(rows, output.WithSummary(fmt.Sprintf("%d athlete(s)", len(rows))))
		},
	}
}

func newAthletesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an athlete's credential status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			id, err := parseAthleteID(args[0])
			if err != nil {
				return err
			}

			mgr, err := app.Auth()
			if err != nil {
				return err
			}

			cred, ok := mgr.Store().Get(id)
			if !ok {
				return athleteNotFound(id)
			}
			return app.OK(rowFor(mgr, cred), output.WithSummary(fmt.Sprintf("%s (%s)", cred.PrincipalName, expiresIn(cred))))
		},
		ValidArgsFunction: completeAthleteIDs,
	}
}

func newAthletesRemoveCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "remove [id]",
		Aliases: []string{"rm"},
		Short:   "Remove an athlete's stored credential",
		Long: `Remove an athlete's stored credential.

This only forgets the tokens locally. The athlete can revoke access entirely
from their Strava settings. Without an ID, an interactive picker is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			mgr, err := app.Auth()
			if err != nil {
				return err
			}

			var id int64
			if len(args) == 1 {
				if id, err = parseAthleteID(args[0]); err != nil {
					return err
				}
			} else {
				if !app.IsInteractive() {
					return output.ErrUsageHint("Athlete ID required", "Usage: coachsync athletes remove <id>")
				}
				if id, err = pickAthlete(mgr, "Remove which athlete?"); err != nil {
					return err
				}
			}

			name, ok := mgr.ListPrincipals()[id]
			if !ok {
				return athleteNotFound(id)
			}

			if !force && app.IsInteractive() {
				confirmed, err := tui.ConfirmDangerous(
					fmt.Sprintf("Remove %s (%d)?", name, id),
					"They will need to authorize again before their data can be synced.",
				)
				if err != nil {
					return err
				}
				if !confirmed {
					return output.ErrUsage("Removal cancelled")
				}
			}

			if !mgr.RemovePrincipal(id) {
				return athleteNotFound(id)
			}

			return app.OK(map[string]any{
				"id":      id,
				"name":    name,
				"removed": true,
			}, output.WithSummary(fmt.Sprintf("Removed %s", name)))
		},
		ValidArgsFunction: completeAthleteIDs,
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")

	return cmd
}

func newAthletesTokenCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "token <id>",
		Short: "Print a valid access token",
		Long: `Print a valid access token for an athlete, refreshing it first if it
expires within the refresh buffer.

Use --raw to print only the token, for scripting:

  curl -H "Authorization: Bearer $(coachsync athletes token 42 --raw)" ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			id, err := parseAthleteID(args[0])
			if err != nil {
				return err
			}

			mgr, err := app.Auth()
			if err != nil {
				return err
			}

			if _, ok := mgr.Store().Get(id); !ok {
				return athleteNotFound(id)
			}

			cred := mgr.ValidCredential(cmd.Context(), id)
			if cred == nil {
				return output.ErrAuth(fmt.Sprintf("Could not refresh the token for athlete %d", id))
			}

			if raw {
				_, err := fmt.Fprintln(app.Output.Raw(), cred.AccessToken)
				return err
			}

			return app.OK(map[string]any{
				"id":           cred.PrincipalID,
				"access_token": cred.AccessToken,
				"token_type":   cred.TokenType,
				"expires_at":   cred.ExpiresAt,
			}, output.WithSummary(fmt.Sprintf("Token for %s (%s)", cred.PrincipalName, expiresIn(cred))))
		},
		ValidArgsFunction: completeAthleteIDs,
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print only the access token")

	return cmd
}

func newAthletesRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <id>",
		Short: "Force a token refresh",
		Long:  "Exchange the stored refresh token for a new access token, regardless of expiry.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			id, err := parseAthleteID(args[0])
			if err != nil {
				return err
			}

			mgr, err := app.Auth()
			if err != nil {
				return err
			}

			cred, err := mgr.RefreshPrincipal(cmd.Context(), id)
			if err != nil {
				if errors.Is(err, auth.ErrPrincipalNotFound) {
					return athleteNotFound(id)
				}
				return err
			}

			return app.OK(rowFor(mgr, cred), output.WithSummary(fmt.Sprintf("Refreshed %s (%s)", cred.PrincipalName, expiresIn(cred))))
		},
		ValidArgsFunction: completeAthleteIDs,
	}
}

// pickAthlete prompts for one of the stored athletes.
func pickAthlete(mgr *auth.Manager, title string) (int64, error) {
	rows := athleteRows(mgr)
	if len(rows) == 0 {
		return 0, output.ErrNotFoundHint("athletes", "none authorized", "Run: coachsync athletes add")
	}

	options := make([]tui.SelectOption, len(rows))
	for i, r := range rows {
		options[i] = tui.SelectOption{
			Value: strconv.FormatInt(r.ID, 10),
			Label: fmt.Sprintf("%s (%d)", r.Name, r.ID),
		}
	}

	selected, err := tui.Select(title, options)
	if err != nil {
		return 0, err
	}
	return parseAthleteID(selected)
}
