package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"sigs.k8s.io/yaml"

	"github.com/supplyops/opsconsole/internal/common/httpclient"
)

// requestFlags are shared by every command that calls an API path.
type requestFlags struct {
	params  []string
	headers []string
	data    string
	set     []string
	query   string
}

func (f *requestFlags) register(cmd *cobra.Command, withBody bool) {
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "Query parameter key=value, repeat a key to send a list")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, `Request header "Name: value"`)
	cmd.Flags().StringVar(&f.query, "query", "", "Print only the value at this gjson path of the response")
	if withBody {
		cmd.Flags().StringVarP(&f.data, "data", "d", "", "JSON body, or @file with a JSON or YAML body")
		cmd.Flags().StringArrayVar(&f.set, "set", nil, "Set path=value in the body, value is parsed as JSON when possible")
	}
}

// options converts the flags into per-call request options.
func (f *requestFlags) options() (*httpclient.RequestOptions, error) {
	params, err := parseParams(f.params)
	if err != nil {
		return nil, err
	}
	headers, err := parseHeaders(f.headers)
	if err != nil {
		return nil, err
	}
	return &httpclient.RequestOptions{Params: params, Headers: headers}, nil
}

// parseParams turns key=value pairs into query parameters. A key given more
// than once becomes a list in the order given.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		switch prev := params[key].(type) {
		case nil:
			params[key] = value
		case string:
			params[key] = []string{prev, value}
		case []string:
			params[key] = append(prev, value)
		}
	}
	return params, nil
}

// parseHeaders turns "Name: value" strings into headers.
func parseHeaders(lines []string) (map[string]string, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	headers := make(map[string]string)
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", line)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// buildBody assembles the JSON request body from --data and --set. It returns
// nil when neither is given.
func buildBody(data string, sets []string) (json.RawMessage, error) {
	if data == "" && len(sets) == 0 {
		return nil, nil
	}
	body := []byte("{}")
	if data != "" {
		var err error
		if body, err = readBodyArg(data); err != nil {
			return nil, err
		}
	}
	for _, s := range sets {
		path, value, ok := strings.Cut(s, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid --set %q, expected path=value", s)
		}
		var err error
		if gjson.Valid(value) {
			body, err = sjson.SetRawBytes(body, path, []byte(value))
		} else {
			body, err = sjson.SetBytes(body, path, value)
		}
		if err != nil {
			return nil, fmt.Errorf("unable to set %s: %w", path, err)
		}
	}
	return json.RawMessage(body), nil
}

// readBodyArg reads an inline JSON body or an @file. Files may hold YAML and
// may reference environment variables as {{ .ENV.NAME }}.
func readBodyArg(data string) ([]byte, error) {
	if !strings.HasPrefix(data, "@") {
		if !gjson.Valid(data) {
			return nil, errors.New("request body is not valid JSON")
		}
		return []byte(data), nil
	}

	file := strings.TrimPrefix(data, "@")
	var raw []byte
	var err error
	if file == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read body file: %w", err)
	}
	if raw, err = ExpandBodyTemplate(raw); err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		if raw, err = yaml.YAMLToJSON(raw); err != nil {
			return nil, fmt.Errorf("unable to convert body file to JSON: %w", err)
		}
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("body file %s is not valid JSON", file)
	}
	return raw, nil
}

// printResponse writes a response body: JSON as YAML, or as indented JSON with
// --json, and text verbatim.
func printResponse(w io.Writer, resp *httpclient.Response, query string) error {
	raw := resp.Raw
	if query != "" {
		if !resp.JSON {
			return fmt.Errorf("--query needs a JSON response, got %q", resp.Header.Get("Content-Type"))
		}
		r := gjson.GetBytes(raw, query)
		if !r.Exists() {
			return fmt.Errorf("no value at %s", query)
		}
		if r.Type == gjson.String && !jsonOutput {
			fmt.Fprintln(w, r.Str)
			return nil
		}
		raw = []byte(r.Raw)
	}

	if !resp.JSON {
		text := string(raw)
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		fmt.Fprint(w, text)
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		raw = []byte("{}")
	}

	if jsonOutput {
		var out bytes.Buffer
		if err := json.Indent(&out, raw, "", "  "); err != nil {
			return fmt.Errorf("failed to format JSON output: %w", err)
		}
		fmt.Fprintln(w, out.String())
		return nil
	}
	yamlBytes, err := yaml.JSONToYAML(raw)
	if err != nil {
		return fmt.Errorf("failed to convert to YAML: %w", err)
	}
	fmt.Fprint(w, string(yamlBytes))
	return nil
}

// runRequest returns the RunE of a command that sends method to the path in args[0].
func runRequest(method string, flags *requestFlags) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		opts, err := flags.options()
		if err != nil {
			return err
		}
		body, err := buildBody(flags.data, flags.set)
		if err != nil {
			return err
		}

		var reqBody any
		if body != nil {
			reqBody = body
		}
		resp, err := a.client.Request(cmd.Context(), method, args[0], reqBody, opts)
		if err != nil {
			return err
		}
		return printResponse(cmd.OutOrStdout(), resp, flags.query)
	}
}
