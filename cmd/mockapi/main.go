package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/supplyops/opsconsole/internal/common/logtrace"
	"github.com/supplyops/opsconsole/internal/mockapi"
)

type cmdoptions struct {
	port         string
	users        []string
	tokenTTL     time.Duration
	refreshDelay time.Duration
	logLevel     string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	opt, err := parseFlags()
	if err != nil {
		return err
	}
	if err := logtrace.InitLogger(opt.logLevel, true); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	slog := log.With().Str("state", "init").Logger()

	serverOpts := []mockapi.Option{mockapi.WithTokenTTL(opt.tokenTTL)}
	for _, u := range opt.users {
		name, password, ok := strings.Cut(u, ":")
		if !ok || name == "" {
			return fmt.Errorf("invalid user %q, expected name:password", u)
		}
		serverOpts = append(serverOpts, mockapi.WithUser(name, password))
	}
	s := mockapi.New(serverOpts...)
	s.SetRefreshDelay(opt.refreshDelay)

	srv := &http.Server{
		Addr:              ":" + opt.port,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	// Start the service listening for requests.
	go func() {
		slog.Info().Str("port", opt.port).Int("users", len(opt.users)).Msg("mock api started")
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		// Give outstanding requests 5 seconds to complete and initiate the shutdown.
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error().Err(err).Msg("could not stop server gracefully")
			if err := srv.Close(); err != nil {
				slog.Error().Err(err).Msg("could not stop server")
			}
		}
	}

	slog.Info().Msg("server stopped")
	return nil
}

type userFlags []string

func (u *userFlags) String() string { return strings.Join(*u, ",") }

func (u *userFlags) Set(v string) error {
	*u = append(*u, v)
	return nil
}

func parseFlags() (*cmdoptions, error) {
	var users userFlags
	port := flag.String("port", "8080", "Port to listen on")
	flag.Var(&users, "user", "User allowed to log in as name:password, may be repeated")
	tokenTTL := flag.Duration("token-ttl", mockapi.DefaultTokenTTL, "Lifetime of issued access tokens")
	refreshDelay := flag.Duration("refresh-delay", 0, "Delay every refresh response")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if len(users) == 0 {
		users = append(users, "ops:ops")
	}
	return &cmdoptions{
		port:         *port,
		users:        users,
		tokenTTL:     *tokenTTL,
		refreshDelay: *refreshDelay,
		logLevel:     *logLevel,
	}, nil
}
