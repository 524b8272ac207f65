package cli

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newBodyCmd(method, use, short, long string) *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
	}
	flags.register(cmd, true)
	cmd.RunE = runRequest(method, flags)
	return cmd
}

// newPostCmd creates the post command
func newPostCmd() *cobra.Command {
	return newBodyCmd(http.MethodPost, "post PATH [flags]", "Send a POST request with a JSON body",
		`Send a POST request with a JSON body built from -d and --set.

Examples:
  # Create an order
  opsctl post /orders -d '{"sku":"W-1","quantity":2}'

  # Create an order from a YAML file and override the quantity
  opsctl post /orders -d @order.yaml --set quantity=4`)
}

// newPutCmd creates the put command
func newPutCmd() *cobra.Command {
	return newBodyCmd(http.MethodPut, "put PATH [flags]", "Send a PUT request with a JSON body",
		`Send a PUT request with a JSON body built from -d and --set.

Examples:
  opsctl put /pricing/W-1 --set amount=12.5 --set currency=EUR`)
}

// newPatchCmd creates the patch command
func newPatchCmd() *cobra.Command {
	return newBodyCmd(http.MethodPatch, "patch PATH [flags]", "Send a PATCH request with a JSON body",
		`Send a PATCH request with a JSON body built from -d and --set.

Examples:
  opsctl patch /orders/o-1 --set state=shipped --set tracking.carrier=dhl`)
}
