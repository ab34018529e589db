package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/filerag/internal/composer"
	"github.com/kalambet/filerag/internal/config"
	"github.com/kalambet/filerag/internal/gemini"
	"github.com/kalambet/filerag/internal/pipeline"
	"github.com/kalambet/filerag/internal/querylog"
	"github.com/kalambet/filerag/internal/registry"
	"github.com/kalambet/filerag/internal/remote"
	"github.com/kalambet/filerag/internal/storage"
	"github.com/kalambet/filerag/internal/store"
)

var version = "dev"

var (
	noColor bool
	verbose bool
)

// loadConfig is replaced in tests.
var loadConfig = config.Load

var rootCmd = &cobra.Command{
	Use:           "filerag",
	Short:         "Ask questions about your documents using Gemini",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(storeCmd, docsCmd, askCmd, rateCmd, historyCmd, interactionsCmd)
	rootCmd.AddCommand(serveCmd, watchCmd, statusCmd, configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch {
	case verbose, strings.EqualFold(level, "debug"):
		logLevel = slog.LevelDebug
	case strings.EqualFold(level, "warn"):
		logLevel = slog.LevelWarn
	case strings.EqualFold(level, "error"):
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel})))
}

// app holds the components shared by every command.
type app struct {
	cfg      config.Config
	remote   *remote.Adapter
	registry *registry.Registry
	store    *store.Manager
	log      *querylog.Log
	history  *storage.Store
	pipeline *pipeline.Pipeline
}

// openApp loads config and wires the components. Commands that talk to
// Gemini pass needRemote; commands that operate on documents pass needStore.
func openApp(needRemote, needStore bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)

	if needRemote {
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
	}

	client := gemini.NewClientWithBaseURL(cfg.Gemini.APIKey, cfg.Gemini.BaseURL)
	adapter := remote.New(client, remote.Options{
		Model:        cfg.Gemini.Model,
		PollInterval: cfg.Upload.PollInterval,
		MaxPolls:     cfg.Upload.MaxPolls,
	})

	a := &app{
		cfg:      cfg,
		remote:   adapter,
		registry: registry.New(adapter),
		store:    store.Open(cfg.Storage.DataDir, adapter),
		log:      querylog.New(cfg.QueryLog.Path),
	}

	if needStore {
		if err := a.store.Require(); err != nil {
			return nil, fmt.Errorf("%w: run `filerag store create` first", err)
		}
	}

	history, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.history = history

	if err := a.log.Ensure(); err != nil {
		slog.Warn("could not create query log", "path", a.log.Path(), "error", err)
	}

	a.pipeline = pipeline.New(a.registry, adapter, composer.New(true), a.log, history, cfg.Gemini.Model)
	return a, nil
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}
}
