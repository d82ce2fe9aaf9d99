package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-idp-server/auth"
	"github.com/jrsteele09/go-idp-server/captcha"
	"github.com/jrsteele09/go-idp-server/consent"
	"github.com/jrsteele09/go-idp-server/entityid"
	"github.com/jrsteele09/go-idp-server/internal/config"
	"github.com/jrsteele09/go-idp-server/internal/metrics"
	"github.com/jrsteele09/go-idp-server/ratelimit"
	"github.com/jrsteele09/go-idp-server/server"
	"github.com/jrsteele09/go-idp-server/storage/sqlite"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Server)
	displayAppname(cfg.Server.AppName)

	store, err := openStore(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := server.SeedClientsFile(context.Background(), store.Clients(), cfg.Storage.ClientsFile); err != nil {
		return err
	}

	handler, err := wire(*cfg, store)
	if err != nil {
		return err
	}
	defer handler.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(httpServer) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// wire builds the component graph over the SQLite repositories.
func wire(cfg config.Config, store *sqlite.Store) (*server.Server, error) {
	m := metrics.New()

	ledger, err := token.NewLedger(cfg.OAuth, store.Tokens(), store.Authorizations(), store.Users())
	if err != nil {
		return nil, err
	}
	obfuscator, err := entityid.NewObfuscator(store.EntityIDs())
	if err != nil {
		return nil, err
	}
	reconciler, err := consent.NewReconciler(store.Users())
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.New(store.Events(), captcha.NewReCaptcha(cfg.Captcha), cfg.RateLimits, ratelimit.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	repos := auth.Repos{
		Users:          store.Users(),
		Clients:        store.Clients(),
		Authorizations: store.Authorizations(),
		Consents:       store.Consents(),
		Events:         store.Events(),
	}
	components := auth.Components{
		Ledger:     ledger,
		Obfuscator: obfuscator,
		Reconciler: reconciler,
		Limiter:    limiter,
	}
	authService, err := auth.NewAuthorizationService(cfg.App, repos, components, auth.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	return server.New(cfg, authService, ledger, server.WithMetrics(m), server.WithPinger(store))
}

func openStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}
	return sqlite.Open(path)
}

func setupLogging(cfg config.Server) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Env == config.EnvDev {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
