package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/supplyops/opsconsole/internal/config"
)

// newConfigCmd creates and returns a new config command
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configure the server opsctl talks to",
		Long: `Write the opsctl configuration file. Settings that are not given keep
their current value.

Examples:
  opsctl config --server https://api.example.com
  opsctl config --server http://localhost:8080 --storage memory --timeout 30s`,
		Args: cobra.NoArgs,
		RunE: runConfig,
	}
	cmd.Flags().String("server", "", "Server URL")
	cmd.Flags().String("storage", "", "Session storage backend (file, redis, memory)")
	cmd.Flags().Duration("timeout", 0, "Per-request timeout")
	cmd.Flags().String("level", "", "Default log level")
	return cmd
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Read(configFile)
	if err != nil {
		return err
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.ServerURL = server
	}
	if backend, _ := cmd.Flags().GetString("storage"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		cfg.Timeout = timeout
	}
	if level, _ := cmd.Flags().GetString("level"); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.WriteConfig(configFile); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"status":      "success",
			"config_file": configFile,
			"server_url":  cfg.ServerURL,
			"storage":     cfg.Storage.Backend,
			"timeout":     cfg.RequestTimeout().String(),
		})
	}
	out := cmd.OutOrStdout()
	okLabel.Fprintf(out, "✓ Configuration saved to %s\n", configFile)
	fmt.Fprintf(out, "Server: %s\n", cfg.ServerURL)
	fmt.Fprintf(out, "Storage: %s\n", cfg.Storage.Backend)
	fmt.Fprintf(out, "Timeout: %s\n", cfg.RequestTimeout().Round(time.Millisecond))
	return nil
}
