package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newWatchCmd creates the watch command
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print session changes until interrupted",
		Long: `Print a line whenever the access token of the configured server changes,
whether this process, another opsctl process or a token refresh changed it.
Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	changes := make(chan string, 16)
	unsubscribe := a.session.Subscribe(func(token string) {
		select {
		case changes <- token:
		default:
		}
	})
	defer unsubscribe()

	if !jsonOutput {
		fmt.Fprintf(out, "Watching session for %s\n", a.origin)
	}
	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case token := <-changes:
			printSessionChange(cmd, token, time.Now())
		}
	}
}

func printSessionChange(cmd *cobra.Command, token string, at time.Time) {
	out := cmd.OutOrStdout()
	if jsonOutput {
		printJSON(out, map[string]any{
			"time":      at.Format(time.RFC3339),
			"logged_in": token != "",
			"token":     tokenFingerprint(token),
		})
		return
	}
	ts := at.Format(time.Kitchen)
	if token == "" {
		warnLabel.Fprintf(out, "%s signed out\n", ts)
		return
	}
	okLabel.Fprintf(out, "%s signed in (token %s)\n", ts, tokenFingerprint(token))
}

// tokenFingerprint identifies a token without revealing it.
func tokenFingerprint(token string) string {
	if len(token) <= 8 {
		return ""
	}
	return "…" + token[len(token)-6:]
}
