package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"colorcal/internal/adapter"
	"colorcal/internal/bridge"
	"colorcal/internal/config"
	"colorcal/internal/google"
	"colorcal/internal/ics"
	appLog "colorcal/internal/log"
	"colorcal/internal/prefs"
	"colorcal/internal/provider"
	"colorcal/internal/web"
	"colorcal/internal/wire"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	provider   string
	logLevel   string
}

// refresher is implemented by providers that cache remote data.
type refresher interface {
	Refresh(ctx context.Context) error
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("colorcal", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var flags flagConfig
	fs.StringVar(&flags.configPath, "config", defaultConfigPath(), "Path to config file")
	fs.StringVar(&flags.provider, "provider", "", "Calendar provider: ics, bridge or google (overrides config if set)")
	fs.StringVar(&flags.logLevel, "log-level", "", "Log level (overrides config if set)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: colorcal [flags] serve [--listen addr]\n")
		fmt.Fprintf(stderr, "       colorcal [flags] <%s> [--start-ms n --end-ms n --day-ms n --cal-ids a,b]\n", joinCommands())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return wire.ExitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return wire.ExitUsage
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return failWire(stdout, rest[0], provider.InvalidArgument("load config: %v", err))
	}
	if flags.provider != "" {
		cfg.Provider = flags.provider
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	cfg.Normalize()
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		return failWire(stdout, rest[0], provider.InvalidArgument("invalid config: %v", err))
	}
	if cfg.PrefsPath == "" {
		cfg.PrefsPath = filepath.Join(filepath.Dir(flags.configPath), "prefs.yaml")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(filepath.Dir(flags.configPath), "ics-cache")
	}

	loc, _ := cfg.Location()
	p, err := newRegistry(ctx, cfg, loc).Open(cfg.Provider)
	if err != nil {
		appLog.Error("failed to open calendar provider", err, "provider", cfg.Provider)
		return failWire(stdout, rest[0], provider.Unavailable(err, "open provider"))
	}
	svc := adapter.NewService(p, loc)

	if rest[0] == "serve" {
		return serve(ctx, cfg, flags.configPath, svc, p, rest[1:], stderr)
	}
	return wire.Run(ctx, svc, rest, stdout)
}

func newRegistry(ctx context.Context, cfg *config.Config, loc *time.Location) *provider.Registry {
	r := provider.NewRegistry()
	r.Register(config.ProviderICS, func() (provider.Provider, error) {
		sources := make([]ics.Source, 0, len(cfg.ICS))
		for _, s := range cfg.ICS {
			sources = append(sources, ics.Source{ID: s.ID, Name: s.Name, URL: s.URL, Path: s.Path, Color: s.Color})
		}
		return ics.New(sources, ics.Options{CacheDir: cfg.CacheDir, Location: loc})
	})
	r.Register(config.ProviderBridge, func() (provider.Provider, error) {
		return bridge.New(cfg.Bridge.Path, cfg.BridgeTimeout())
	})
	r.Register(config.ProviderGoogle, func() (provider.Provider, error) {
		return google.New(ctx, cfg.Google.CredentialsFile, cfg.Google.TokenFile, loc)
	})
	return r
}

// serve runs the HTTP API until ctx is cancelled. A cron job refreshes
// cached feeds and drops memoized responses.
func serve(ctx context.Context, cfg *config.Config, configPath string, svc *adapter.Service, p provider.Provider, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "", "HTTP listen address (overrides config if set)")
	if err := fs.Parse(args); err != nil {
		return wire.ExitUsage
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	appLog.Info("colorcal starting", "version", version)
	appLog.Info("effective config",
		"config_path", configPath,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"week_start", cfg.WeekStart,
		"refresh", cfg.RefreshCron,
		"provider", cfg.Provider,
		"ics_count", len(cfg.ICS),
	)

	store, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		appLog.Error("failed to open preferences", err, "path", cfg.PrefsPath)
		return wire.ExitFailure
	}
	server := web.NewServer(cfg, svc, store)
	svc.WarmUp()

	scheduler := cron.New(cron.WithLocation(svc.Location()))
	_, err = scheduler.AddFunc(cfg.RefreshCron, func() {
		if r, ok := p.(refresher); ok {
			if err := r.Refresh(ctx); err != nil {
				appLog.Error("scheduled refresh failed", err)
			}
		}
		server.Invalidate()
	})
	if err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", cfg.RefreshCron)
		return wire.ExitFailure
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	httpSrv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			return wire.ExitFailure
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP shutdown failed", err)
		}
	}

	appLog.Info("colorcal exiting")
	return wire.ExitOK
}

// failWire reports a startup failure. Wire commands get the JSON error
// payload their caller expects.
func failWire(stdout io.Writer, cmd string, err error) int {
	if cmd == "serve" {
		return wire.ExitFailure
	}
	if werr := wire.WriteJSON(stdout, wire.ErrorToDTO(err)); werr != nil {
		appLog.Error("failed to write error", werr)
	}
	return wire.ExitFailure
}

func defaultConfigPath() string {
	if p := os.Getenv("COLORCAL_CONFIG_PATH"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "colorcal", "config.yaml")
}

func joinCommands() string {
	return strings.Join(wire.Commands(), "|")
}
