package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/supplyops/opsconsole/internal/common/httpclient"
)

const (
	loginPath  = "/auth/login"
	logoutPath = "/auth/logout"
)

// loginRequest is the body sent to the login endpoint
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// newLoginCmd creates and returns a new login command
func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the server",
		Long: `Login to the server to obtain an access and a refresh token.
Both are kept in the session storage for the configured server, so every
other opsctl process using the same server is signed in as well.

Example:
  opsctl login --username ops --password secret`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().StringP("username", "u", "", "User name")
	cmd.Flags().StringP("password", "p", "", "Password for authentication")
	cmd.MarkFlagRequired("username")
	return cmd
}

// runLogin handles the login command execution
func runLogin(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		return fmt.Errorf("no password provided. Use --password flag")
	}

	resp, err := a.client.Post(cmd.Context(), loginPath, loginRequest{Username: username, Password: password},
		&httpclient.RequestOptions{SkipRefresh: true})
	if err != nil {
		if httpclient.IsStatus(err, http.StatusUnauthorized) {
			return fmt.Errorf("login failed: invalid username or password")
		}
		return fmt.Errorf("login request failed: %w", err)
	}

	access := gjson.GetBytes(resp.Raw, "access_token").String()
	refresh := gjson.GetBytes(resp.Raw, "refresh_token").String()
	if access == "" {
		return fmt.Errorf("login response carries no access token")
	}
	a.session.SetRefresh(refresh)
	a.session.Set(access)

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"status":     "success",
			"message":    "Login successful",
			"server_url": a.cfg.ServerURL,
			"expires_in": gjson.GetBytes(resp.Raw, "expires_in").Int(),
		})
	}
	okLabel.Fprintln(cmd.OutOrStdout(), "✓ Login successful")
	if exp := gjson.GetBytes(resp.Raw, "expires_in"); exp.Exists() {
		fmt.Fprintf(cmd.OutOrStdout(), "Access token expires in %ds\n", exp.Int())
	}
	return nil
}

// newLogoutCmd creates and returns a new logout command
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session with the server",
		Long: `Tell the server the session ends and remove the stored tokens. The tokens
are removed even when the server cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: runLogout,
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	if a.session.Get() != "" {
		logoutServer(cmd.Context(), a.client)
	}
	a.session.Clear()

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"status":  "success",
			"message": "Logged out",
		})
	}
	okLabel.Fprintln(cmd.OutOrStdout(), "✓ Logged out")
	return nil
}

func logoutServer(ctx context.Context, client httpclient.Requester) {
	_, err := client.Post(ctx, logoutPath, nil, &httpclient.RequestOptions{SkipRefresh: true})
	if err != nil {
		log.Debug().Err(err).Msg("server logout failed")
	}
}
