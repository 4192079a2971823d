package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/ripdb/pkg/api"
	"github.com/hazyhaar/ripdb/pkg/dataset"
	"github.com/hazyhaar/ripdb/pkg/images"
	"github.com/hazyhaar/ripdb/pkg/source"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmdServe(os.Args[2:])
	case "fetch":
		err = cmdFetch(os.Args[2:])
	case "check":
		err = cmdCheck(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ripdb: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: ripdb <command> [flags]\n\nCommands:\n"+
		"  serve   Load the dataset and start the HTTP server\n"+
		"  fetch   Fetch and normalize sources, print a summary\n"+
		"  check   Probe every configured source once\n")
}

// setup parses fs, loads the configuration and builds the logger shared
// by every subcommand.
func setup(fs *flag.FlagSet, args []string) (config, *slog.Logger, error) {
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	boot := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg, err := loadConfig(*cfgPath, boot)
	if err != nil {
		return cfg, nil, err
	}
	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

// openRegistry opens the source registry and seeds it from cfg.
func openRegistry(cfg config) (*source.Registry, error) {
	reg, err := source.OpenRegistry(cfg.SourceDB)
	if err != nil {
		return nil, err
	}
	if err := reg.Seed(cfg.Sources, cfg.Fetch.SheetsAPIBase); err != nil {
		reg.Close()
		return nil, err
	}
	return reg, nil
}

// newService wires fetcher, registry and enricher into a dataset service.
// checker doubles as the fetch pre-flight prober.
func newService(cfg config, reg *source.Registry, checker *source.Checker, logger *slog.Logger) *dataset.Service {
	fetcher := source.NewFetcher(cfg.fetchOptions(), &http.Client{}, checker, logger)

	var enricher dataset.Enricher
	if cfg.Images.Enabled {
		enricher = images.New(cfg.imageOptions(), &http.Client{}, logger)
	}
	return dataset.New(dataset.Config{
		Sources:        cfg.Sources,
		RejectLogLimit: cfg.RejectLogLimit,
		EnrichImages:   cfg.Images.Enabled,
	}, fetcher, reg, enricher, logger)
}

func cmdServe(args []string) error {
	cfg, logger, err := setup(flag.NewFlagSet("serve", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		return fmt.Errorf("source registry: %w", err)
	}
	defer reg.Close()

	checker := source.NewChecker(reg, logger, cfg.CheckInterval)
	svc := newService(cfg, reg, checker, logger)
	defer svc.Dispose()

	// SIGINT/SIGTERM: graceful shutdown.
	// SIGHUP: reload the dataset.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Load(ctx); err != nil {
		logger.Warn("initial load degraded", "error", err)
	}
	st := svc.Status()
	logger.Info("dataset loaded", "state", st.State, "data_source", st.DataSource, "actors", st.Actors, "records", st.Records)

	if cfg.CheckInterval > 0 {
		go checker.Start(ctx)
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				logger.Info("SIGHUP received, reloading dataset")
				if err := svc.Reload(ctx); err != nil {
					logger.Error("reload degraded", "error", err)
					continue
				}
				st := svc.Status()
				logger.Info("dataset reloaded", "data_source", st.DataSource, "actors", st.Actors)
			}
		}
	}()

	router := api.NewRouter(svc, reg, version, logger)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("ripdb listening", "addr", cfg.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
