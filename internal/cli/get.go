package cli

import (
	"net/http"

	"github.com/spf13/cobra"
)

// newGetCmd creates the get command
func newGetCmd() *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "get PATH [flags]",
		Short: "Send a GET request to an API path",
		Long: `Send a GET request to an API path and print the response. JSON responses
are printed as YAML unless -j is given.

Examples:
  # List inventory of one warehouse
  opsctl get /inventory -p warehouse=berlin

  # Several values for one parameter
  opsctl get /products -p tag=outdoor -p tag=sale

  # Print only the order state
  opsctl get /orders/o-1 --query state`,
		Args: cobra.ExactArgs(1),
	}
	flags.register(cmd, false)
	cmd.RunE = runRequest(http.MethodGet, flags)
	return cmd
}

// newDeleteCmd creates the delete command
func newDeleteCmd() *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "delete PATH [flags]",
		Short: "Send a DELETE request to an API path",
		Long: `Send a DELETE request to an API path.

Examples:
  opsctl delete /orders/o-1`,
		Args: cobra.ExactArgs(1),
	}
	flags.register(cmd, false)
	cmd.RunE = runRequest(http.MethodDelete, flags)
	return cmd
}
