package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/h2non/filetype"
	"github.com/spf13/cobra"
)

const defaultContentType = "application/octet-stream"

// newUploadCmd creates the upload command
func newUploadCmd() *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "upload PATH -f FILE [flags]",
		Short: "Upload a file to an API path",
		Long: `Upload the raw bytes of a file. The Content-Type is detected from the file
contents and can be overridden with -H.

Examples:
  opsctl upload /products/W-1/image -f widget.png
  opsctl upload /imports/stock -f stock.csv -H "Content-Type: text/csv" --method PUT`,
		Args: cobra.ExactArgs(1),
	}
	flags.register(cmd, false)
	cmd.Flags().StringP("file", "f", "", "File to upload")
	cmd.Flags().String("method", http.MethodPost, "HTTP method, POST or PUT")
	cmd.MarkFlagRequired("file")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		method, _ := cmd.Flags().GetString("method")
		method = strings.ToUpper(method)
		if method != http.MethodPost && method != http.MethodPut {
			return fmt.Errorf("unsupported upload method %s", method)
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("unable to read file: %w", err)
		}
		opts, err := flags.options()
		if err != nil {
			return err
		}
		if opts.Headers == nil {
			opts.Headers = make(map[string]string)
		}
		if !hasHeader(opts.Headers, "Content-Type") {
			opts.Headers["Content-Type"] = detectContentType(content)
		}

		resp, err := a.client.Request(cmd.Context(), method, args[0], content, opts)
		if err != nil {
			return err
		}
		return printResponse(cmd.OutOrStdout(), resp, flags.query)
	}
	return cmd
}

// detectContentType sniffs the MIME type from the file header.
func detectContentType(content []byte) string {
	kind, err := filetype.Match(content)
	if err != nil || kind == filetype.Unknown {
		return defaultContentType
	}
	return kind.MIME.Value
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
