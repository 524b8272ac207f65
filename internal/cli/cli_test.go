package cli

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/supplyops/opsconsole/internal/common/httpclient"
	"github.com/supplyops/opsconsole/internal/config"
	"github.com/supplyops/opsconsole/internal/mockapi"
)

type cliEnv struct {
	srv        *mockapi.Server
	configPath string
	dir        string
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	for _, k := range []string{config.EnvServerURL, config.EnvTimeout, config.EnvStorageBackend, config.EnvLogLevel} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	t.Chdir(dir)

	srv := mockapi.New(mockapi.WithUser("ops", "secret"))
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.ServerURL = ts.URL
	cfg.Storage.Options = map[string]any{"dir": filepath.Join(dir, "sessions")}
	configPath := filepath.Join(dir, config.DefaultConfigFile)
	require.NoError(t, cfg.WriteConfig(configPath))
	return &cliEnv{srv: srv, configPath: configPath, dir: dir}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.Execute()
	closeApp()
	return stdout.String(), stderr.String(), err
}

func (e *cliEnv) login(t *testing.T) {
	t.Helper()
	out, _, err := e.run(t, "login", "-u", "ops", "-p", "secret")
	require.NoError(t, err)
	require.Contains(t, out, "Login successful")
}

func TestLoginAndRequest(t *testing.T) {
	e := setupCLI(t)
	e.login(t)

	out, _, err := e.run(t, "get", "/inventory", "-p", "warehouse=berlin", "-p", "sku=W-1", "-p", "sku=W-2", "-j")
	require.NoError(t, err)
	assert.Equal(t, "ops", gjson.Get(out, "user").String())
	assert.Equal(t, "GET", gjson.Get(out, "method").String())
	assert.Equal(t, "sku=W-1&sku=W-2&warehouse=berlin", gjson.Get(out, "raw_query").String())

	out, _, err = e.run(t, "get", "/inventory", "-p", "note=two words")
	require.NoError(t, err)
	assert.Contains(t, out, "user: ops")
	assert.Contains(t, out, "note=two%20words")
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	e := setupCLI(t)
	e.login(t)
	e.srv.ExpireAccessTokens()

	out, stderr, err := e.run(t, "get", "/orders", "--query", "user")
	require.NoError(t, err)
	assert.Equal(t, "ops\n", out)
	assert.Empty(t, stderr)
	assert.EqualValues(t, 1, e.srv.RefreshCalls())

	// the rotated tokens were persisted for the next invocation
	_, _, err = e.run(t, "get", "/orders")
	require.NoError(t, err)
	assert.EqualValues(t, 1, e.srv.RefreshCalls())
}

func TestRefreshFailureEndsSession(t *testing.T) {
	e := setupCLI(t)
	e.login(t)
	e.srv.ExpireAccessTokens()
	e.srv.SetFailRefresh(true)

	_, stderr, err := e.run(t, "get", "/orders")
	assert.True(t, httpclient.IsStatus(err, 401), "got %v", err)
	assert.Contains(t, stderr, "session expired, run `opsctl login`")

	out, _, err := e.run(t, "status", "-j")
	require.NoError(t, err)
	assert.False(t, gjson.Get(out, "logged_in").Bool())
}

func TestBodyCommands(t *testing.T) {
	e := setupCLI(t)
	e.login(t)

	bodyFile := filepath.Join(e.dir, "order.yaml")
	require.NoError(t, os.WriteFile(bodyFile, []byte("sku: W-1\nwarehouse: '{{ .ENV.OPS_WAREHOUSE }}'\n"), 0600))
	t.Setenv("OPS_WAREHOUSE", "berlin")

	out, _, err := e.run(t, "post", "/orders", "-d", "@"+bodyFile, "--set", "quantity=4", "--set", "note=rush", "-j")
	require.NoError(t, err)
	assert.Equal(t, "POST", gjson.Get(out, "method").String())
	assert.JSONEq(t, `{"sku":"W-1","warehouse":"berlin","quantity":4,"note":"rush"}`, gjson.Get(out, "body").String())

	out, _, err = e.run(t, "patch", "/orders/o-1", "--set", "tracking.carrier=dhl", "-H", "X-Trace: abc", "--query", "body")
	require.NoError(t, err)
	assert.JSONEq(t, `{"tracking":{"carrier":"dhl"}}`, out)

	_, _, err = e.run(t, "put", "/pricing/W-1", "-d", "{not json")
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	e := setupCLI(t)
	e.login(t)

	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 32)...)
	file := filepath.Join(e.dir, "widget.png")
	require.NoError(t, os.WriteFile(file, png, 0600))

	out, _, err := e.run(t, "upload", "/products/W-1/image", "-f", file, "--method", "put", "-j")
	require.NoError(t, err)
	assert.Equal(t, "PUT", gjson.Get(out, "method").String())
	assert.Equal(t, "image/png", gjson.Get(out, "content_type").String())

	_, _, err = e.run(t, "upload", "/products/W-1/image", "-f", file, "--method", "DELETE")
	assert.Error(t, err)
}

func TestStatusAndLogout(t *testing.T) {
	e := setupCLI(t)

	out, _, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
	assert.Contains(t, out, "API version: "+mockapi.APIVersion)

	e.login(t)
	out, _, err = e.run(t, "status", "-j")
	require.NoError(t, err)
	assert.True(t, gjson.Get(out, "logged_in").Bool())
	assert.Equal(t, "ops", gjson.Get(out, "token.subject").String())
	assert.False(t, gjson.Get(out, "token.expired").Bool())
	assert.Equal(t, mockapi.APIVersion, gjson.Get(out, "api_version").String())
	assert.True(t, gjson.Get(out, "compatible").Bool())

	out, _, err = e.run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	out, _, err = e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
}

func TestLoginRejected(t *testing.T) {
	e := setupCLI(t)
	_, _, err := e.run(t, "login", "-u", "ops", "-p", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid username or password")
	assert.EqualValues(t, 0, e.srv.RefreshCalls())
}

func TestConfigCommand(t *testing.T) {
	e := setupCLI(t)
	out, _, err := e.run(t, "config", "--server", "staging.example.com/", "--timeout", "30s")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration saved")

	cfg, err := config.Read(e.configPath)
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com", cfg.ServerURL)
	assert.Equal(t, "30s", cfg.Timeout.String())
	assert.NotEmpty(t, cfg.Storage.Options["dir"])

	_, _, err = e.run(t, "config", "--storage", "postgres")
	assert.Error(t, err)
}
