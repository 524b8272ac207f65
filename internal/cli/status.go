package cli

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/supplyops/opsconsole/internal/common/httpclient"
)

const (
	versionPath = "/version"
	// supportedAPIVersions is the range of server API versions this client understands
	supportedAPIVersions = "^1.0.0"
)

// VersionResponse represents the response from the /version endpoint
type VersionResponse struct {
	ServerVersion string `json:"server_version"`
	APIVersion    string `json:"api_version"`
}

// TokenInfo describes the stored access token. The signature is not verified.
type TokenInfo struct {
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Expired   bool      `json:"expired"`
	Opaque    bool      `json:"opaque"`
}

// StatusResponse is what the status command reports
type StatusResponse struct {
	ServerURL     string     `json:"server_url"`
	Storage       string     `json:"storage"`
	LoggedIn      bool       `json:"logged_in"`
	Token         *TokenInfo `json:"token,omitempty"`
	ServerVersion string     `json:"server_version,omitempty"`
	APIVersion    string     `json:"api_version,omitempty"`
	Compatible    bool       `json:"compatible"`
	Error         string     `json:"error,omitempty"`
}

// newStatusCmd creates and returns a new status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server and session status",
		Long: `Show the configured server, whether you are logged in and as whom, and
whether the server's API version is supported by this client.

Examples:
  # Get status
  opsctl status

  # Get status in JSON format
  opsctl status -j`,
		Args: cobra.NoArgs,
		RunE: getStatus,
	}
}

// inspectToken reads the claims of an access token without verifying it.
// Tokens that are not JWTs are reported as opaque.
func inspectToken(token string, now time.Time) *TokenInfo {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return &TokenInfo{Opaque: true}
	}
	info := &TokenInfo{}
	info.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time.UTC()
		info.Expired = !now.Before(exp.Time)
	}
	return info
}

// checkAPIVersion reports whether apiVersion falls in supportedAPIVersions.
func checkAPIVersion(apiVersion string) (bool, error) {
	constraint, err := semver.NewConstraint(supportedAPIVersions)
	if err != nil {
		return false, err
	}
	v, err := semver.NewVersion(apiVersion)
	if err != nil {
		return false, fmt.Errorf("invalid api version %q: %w", apiVersion, err)
	}
	return constraint.Check(v), nil
}

// getStatus handles retrieving server status information
func getStatus(cmd *cobra.Command, args []string) error {
	a, err := requireApp()
	if err != nil {
		return err
	}
	status := StatusResponse{
		ServerURL: a.cfg.ServerURL,
		Storage:   a.cfg.Storage.Backend,
	}
	if token := a.session.Get(); token != "" {
		status.LoggedIn = true
		status.Token = inspectToken(token, time.Now())
	}

	version, err := httpclient.Decode[VersionResponse](a.client.Get(cmd.Context(), versionPath,
		&httpclient.RequestOptions{SkipRefresh: true}))
	if err != nil {
		status.Error = err.Error()
	} else {
		status.ServerVersion = version.ServerVersion
		status.APIVersion = version.APIVersion
		status.Compatible, err = checkAPIVersion(version.APIVersion)
		if err != nil {
			status.Error = err.Error()
		}
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), status)
	}
	printStatus(cmd, &status)
	return nil
}

func printStatus(cmd *cobra.Command, status *StatusResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "opsctl %s\n", getCLIVersion())
	fmt.Fprintf(out, "Server: %s\n", status.ServerURL)
	fmt.Fprintf(out, "Storage: %s\n", status.Storage)

	switch {
	case !status.LoggedIn:
		warnLabel.Fprintln(out, "Not logged in")
	case status.Token.Opaque:
		okLabel.Fprintln(out, "✓ Logged in (opaque token)")
	default:
		okLabel.Fprintf(out, "✓ Logged in as %s\n", status.Token.Subject)
		if !status.Token.ExpiresAt.IsZero() {
			state := "expires"
			if status.Token.Expired {
				state = "expired"
			}
			fmt.Fprintf(out, "Access token %s at %s\n", state, status.Token.ExpiresAt.Format(time.RFC3339))
		}
	}

	if status.ServerVersion != "" {
		fmt.Fprintf(out, "Server version: %s\n", status.ServerVersion)
		fmt.Fprintf(out, "API version: %s\n", status.APIVersion)
		if !status.Compatible {
			warnLabel.Fprintf(out, "API version is outside the supported range %s\n", supportedAPIVersions)
		}
	}
	if status.Error != "" {
		errorLabel.Fprintf(out, "Error: %s\n", status.Error)
	}
}
