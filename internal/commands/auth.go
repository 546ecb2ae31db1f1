// Package commands implements the CLI commands.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachsync/coachsync/internal/appctx"
	"github.com/coachsync/coachsync/internal/auth"
	"github.com/coachsync/coachsync/internal/output"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect the OAuth client setup",
		Long:  "Inspect the Strava OAuth client configuration and credential storage.",
	}

	cmd.AddCommand(
		newAuthURLCmd(),
		newAuthStatusCmd(),
	)

	return cmd
}

func newAuthURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the authorization URL",
		Long: `Print the URL an athlete must visit to grant access.

Useful when the athlete authorizes on another device. After approving, the
browser is redirected to the callback address; copy the code from that URL
(or the URL itself) and run: coachsync athletes add --code CODE`,
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

			url, err := mgr.AuthorizationURL()
			if err != nil {
				return err
			}

			cfg := mgr.Config()
			return app.OK(map[string]any{
				"url":          url,
				"redirect_uri": cfg.RedirectURI,
				"scope":        cfg.Scope,
			},
				output.WithSummary("Authorization URL"),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action: "exchange", Cmd: "coachsync athletes add --code <code>", Description: "Finish with the code from the redirect",
				}),
			)
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credential storage status",
		Long:  "Show where credentials are stored and how many athletes are in each state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			mgr, err := app.Auth()
			if err != nil {
				return err
			}

			counts := map[string]int{
				auth.StateValid.String():    0,
				auth.StateExpiring.String(): 0,
			}
			ids := mgr.Store().IDs()
			for _, id := range ids {
				counts[mgr.PrincipalStatus(id).String()]++
			}

			summary := fmt.Sprintf("%d athlete(s) authorized", len(ids))
			return app.OK(map[string]any{
				"store":     mgr.Store().Location(),
				"client_id": mgr.Config().ClientID,
				"athletes":  len(ids),
				"valid":     counts[auth.StateValid.String()],
				"expiring":  counts[auth.StateExpiring.String()],
			}, output.WithSummary(summary))
		},
	}
}
