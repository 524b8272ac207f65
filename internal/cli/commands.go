package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
	logLevel   string
)

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)
var warnLabel = color.New(color.FgYellow)

// NewRootCmd builds the opsctl command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "opsctl [command] [flags]",
		Short: "opsctl - A command line client for the operations console API",
		Long: `opsctl is a command line client for the operations console API.
It keeps you signed in across invocations, refreshing your session when the
server rejects an expired access token, and lets you call any API path.

Examples:
  # Point opsctl at a server and sign in
  opsctl config --server https://api.example.com
  opsctl login --username ops --password secret

  # Query inventory with filters
  opsctl get /inventory -p warehouse=berlin -p sku=W-1 -p sku=W-2

  # Create an order from a file, overriding one field
  opsctl post /orders -d @order.yaml --set quantity=4

  # Show who you are signed in as
  opsctl status`,
		SilenceErrors:      true, // Prevent Cobra from printing the error
		SilenceUsage:       true, // Prevent Cobra from printing usage on error
		PersistentPreRunE:  preRunHandlePersistents,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return closeApp() },
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	// Set up persistent flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "", "", "Log level (trace, debug, info, warn, error)")

	// Add commands
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newPostCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newPatchCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newWatchCmd())
	return rootCmd
}

// Execute builds the root command and runs it.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	closeApp()
	if err != nil {
		if jsonOutput {
			kv := map[string]string{
				"error": err.Error(),
			}
			printJSON(os.Stdout, kv)
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// preRunHandlePersistents handles persistent flags and configuration loading before command execution
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		var err error
		configFile, err = defaultConfigPath()
		if err != nil {
			return err
		}
	}

	needsSession := true
	c := cmd
	for c != nil {
		if c.Name() == "config" || c.Name() == "version" || c.Name() == "help" {
			needsSession = false
			break
		}
		c = c.Parent()
	}

	if !needsSession {
		return initLogging("")
	}
	return openApp(cmd)
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of opsctl",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				kv := map[string]string{
					"version":     getCLIVersion(),
					"config_file": configFile,
				}
				printJSON(cmd.OutOrStdout(), kv)
			} else {
				cmd.Printf("opsctl %s\n", getCLIVersion())
				cmd.Printf("Config file: %s\n", configFile)
			}
		},
	}
}

// printJSON prints the given value as indented JSON to w
func printJSON(w io.Writer, data any) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format JSON output: %w", err)
	}
	fmt.Fprintln(w, string(jsonData))
	return nil
}

// getCLIVersion returns the current CLI version
func getCLIVersion() string {
	return "v0.3.0"
}
