package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/phpinline/internal/config"
	"github.com/sakif/phpinline/internal/executor"
	"github.com/sakif/phpinline/internal/executor/docker"
	"github.com/sakif/phpinline/internal/executor/local"
	"github.com/sakif/phpinline/internal/logging"
	"github.com/sakif/phpinline/internal/metrics"
	sqliteRepo "github.com/sakif/phpinline/internal/repository/sqlite"
	"github.com/sakif/phpinline/internal/service"
)

// app is the composition root shared by every subcommand: settings, logger,
// executor, history store and the evaluation service built on them.
type app struct {
	settings *config.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	svc      *service.EvaluationService

	closers []func() error
}

// loadSettings reads the config file and applies the --log-level flag.
func loadSettings(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// newApp wires the evaluation stack. History is opened only when withHistory
// is set and a history path is configured.
func newApp(cmd *cobra.Command, withHistory bool) (*app, error) {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{
		settings: config.NewStore(cfg),
		logger:   logging.New(cfg.LogLevel, os.Stderr),
		metrics:  metrics.New(),
	}

	exec, err := a.newExecutor(cfg)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{service.WithMetrics(a.metrics)}
	if withHistory && cfg.HistoryPath != "" {
		db, err := sqliteRepo.New(cfg.HistoryPath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		opts = append(opts, service.WithHistory(db))
	}

	scratch := executor.NewScratch(cfg.ScratchDir, a.logger)
	a.svc = service.NewEvaluationService(exec, scratch, a.settings, a.logger, opts...)
	return a, nil
}

func (a *app) newExecutor(cfg config.Config) (executor.Executor, error) {
	switch cfg.Runtime {
	case config.RuntimeDocker:
		exec, err := docker.New(docker.FromSettings(cfg.Docker), a.logger)
		if err != nil {
			return nil, fmt.Errorf("starting docker runtime: %w", err)
		}
		a.closers = append(a.closers, exec.Close)
		return exec, nil
	default:
		return local.New(func() string { return a.settings.Snapshot().PHPPath }, a.logger), nil
	}
}

// close releases everything newApp opened, newest first.
func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
}
