package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coachsync/coachsync/internal/appctx"
)

// NewCompletionCmd creates the completion command.
func NewCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <shell>",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for coachsync.

Bash:
  $ source <(coachsync completion bash)

Zsh:
  $ coachsync completion zsh > "${fpath[1]}/_coachsync"

Fish:
  $ coachsync completion fish > ~/.config/fish/completions/coachsync.fish

PowerShell:
  PS> coachsync completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompletion(cmd, args[0])
		},
	}
}

func runCompletion(cmd *cobra.Command, shell string) error {
	root, w := cmd.Root(), cmd.OutOrStdout()
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(w)
	default:
		return fmt.Errorf("unknown shell: %s", shell)
	}
}

// completeAthleteIDs completes the first positional argument with stored
// athlete IDs, described by name.
func completeAthleteIDs(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	mgr, err := app.Auth()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var out []cobra.Completion
	for _, r := range athleteRows(mgr) {
		out = append(out, cobra.CompletionWithDesc(strconv.FormatInt(r.ID, 10), r.Name))
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
