// Package cli wires the root command and process exit handling.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coachsync/coachsync/internal/appctx"
	"github.com/coachsync/coachsync/internal/commands"
	"github.com/coachsync/coachsync/internal/config"
	"github.com/coachsync/coachsync/internal/output"
	"github.com/coachsync/coachsync/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:   "coachsync",
		Short: "Manage Strava authorizations for the athletes you coach",
		Long: `coachsync authorizes athletes with Strava over OAuth2 and keeps their
tokens fresh so their training data can be synced.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help
			if cmd.Name() == "help" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				ConfigFile: flags.ConfigFile,
				TokenFile:  flags.TokenFile,
			})
			if err != nil {
				return output.ErrConfig(err)
			}

			app := appctx.NewApp(cfg)
			app.Output = output.New(output.Options{
				Format: app.Output.Format(),
				Writer: cmd.OutOrStdout(),
			})
			app.Stderr = cmd.ErrOrStderr()
			app.Flags = flags
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	cmd.SetVersionTemplate(version.Full() + "\n")

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")
	cmd.PersistentFlags().BoolVar(&flags.IDsOnly, "ids-only", false, "Output only IDs")

	// Context flags
	cmd.PersistentFlags().StringVar(&flags.ConfigFile, "config", "", "Config file (JSON)")
	cmd.PersistentFlags().StringVar(&flags.TokenFile, "token-file", "", "Credential store path")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for info, -vv for debug)")

	return cmd
}

// newCLI returns the root command with every subcommand attached.
func newCLI() *cobra.Command {
	cmd := NewRootCmd()

	cmd.AddCommand(commands.NewAthletesCmd())
	cmd.AddCommand(commands.NewAuthCmd())
	cmd.AddCommand(commands.NewConfigCmd())
	cmd.AddCommand(commands.NewDoctorCmd())
	cmd.AddCommand(commands.NewCompletionCmd())

	return cmd
}

// Execute runs the root command and exits with the mapped exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newCLI()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteContextC(ctx)
	if err == nil {
		return output.ExitOK
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	if executedCmd != nil {
		if app := appctx.FromContext(executedCmd.Context()); app != nil {
			_ = app.Err(err)
			return apiErr.ExitCode()
		}
	}

	// App not available (setup failed): pick the format from raw flags.
	writer := output.New(output.Options{
		Format: fallbackFormat(cmd.PersistentFlags()),
		Writer: stdout,
	})
	_ = writer.Err(err)

	return apiErr.ExitCode()
}

func fallbackFormat(pf *pflag.FlagSet) output.Format {
	idsOnly, _ := pf.GetBool("ids-only")
	quiet, _ := pf.GetBool("quiet")
	jsonFlag, _ := pf.GetBool("json")
	styled, _ := pf.GetBool("styled")

	switch {
	case idsOnly:
		return output.FormatIDs
	case quiet:
		return output.FormatQuiet
	case jsonFlag:
		return output.FormatJSON
	case styled:
		return output.FormatStyled
	}
	return output.FormatAuto
}

var shorthandFlagRe = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// transformCobraError rewrites cobra's parse errors as usage errors.
func transformCobraError(err error) error {
	msg := err.Error()

	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}

	if strings.HasPrefix(msg, "unknown flag: ") {
		flag := strings.TrimPrefix(msg, "unknown flag: ")
		return output.ErrUsage("Unknown option: " + flag)
	}

	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		if matches := shorthandFlagRe.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run: coachsync --help")
	}

	// "invalid argument" from flag parsing, "accepts 1 arg(s), received 0" from Args
	if strings.Contains(msg, "invalid argument") || strings.Contains(msg, "arg(s), received") {
		return output.ErrUsage(msg)
	}

	return err
}
