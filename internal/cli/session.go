package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/supplyops/opsconsole/internal/common/httpclient"
	"github.com/supplyops/opsconsole/internal/common/logtrace"
	"github.com/supplyops/opsconsole/internal/config"
	"github.com/supplyops/opsconsole/internal/session"
	"github.com/supplyops/opsconsole/internal/storage"
)

// appContext is what a command needs to talk to the server.
type appContext struct {
	cfg     *config.Config
	origin  string
	storage storage.Storage
	session *session.Store
	client  *httpclient.Client
}

var app *appContext

// transportDeadline bounds every network call, including the token refresh,
// which is not subject to the per-request timeout.
const transportDeadline = 2 * time.Minute

func newHTTPClient(requestTimeout time.Duration) *http.Client {
	return &http.Client{Timeout: max(transportDeadline, 2*requestTimeout)}
}

func defaultConfigPath() (string, error) {
	return config.DefaultPath()
}

// initLogging configures the global logger. The --log-level flag wins over the
// configured level.
func initLogging(configured string) error {
	level := logLevel
	if level == "" {
		level = configured
	}
	return logtrace.InitLogger(level, !jsonOutput)
}

// openApp loads the configuration and opens the session for the configured
// server.
func openApp(cmd *cobra.Command) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := initLogging(cfg.LogLevel); err != nil {
		return err
	}
	origin, err := cfg.Origin()
	if err != nil {
		return err
	}
	st, err := storage.Open(cfg.Storage.Backend, origin, cfg.Storage.Options)
	if err != nil {
		return fmt.Errorf("unable to open session storage: %w", err)
	}
	sess := session.New(st, session.WithLogger(log.With().Str("component", "session").Str("origin", origin).Logger()))

	errOut := cmd.ErrOrStderr()
	client, err := httpclient.New(httpclient.Config{
		BaseURL:    cfg.ServerURL,
		Session:    sess,
		Timeout:    cfg.RequestTimeout(),
		HTTPClient: newHTTPClient(cfg.RequestTimeout()),
		Headers:    map[string]string{"User-Agent": "opsctl/" + getCLIVersion()},
		OnRefreshFailed: func() {
			warnLabel.Fprintln(errOut, "session expired, run `opsctl login`")
		},
	})
	if err != nil {
		sess.Close()
		st.Close()
		return err
	}

	app = &appContext{
		cfg:     cfg,
		origin:  origin,
		storage: st,
		session: sess,
		client:  client,
	}
	log.Debug().Str("origin", origin).Str("backend", cfg.Storage.Backend).Msg("session opened")
	return nil
}

// closeApp releases the session opened by openApp. It is safe to call more than once.
func closeApp() error {
	if app == nil {
		return nil
	}
	a := app
	app = nil
	a.session.Close()
	return a.storage.Close()
}

func requireApp() (*appContext, error) {
	if app == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}
	return app, nil
}
