package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zhouzirui/interview-sim/backend/internal/config"
	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	"github.com/zhouzirui/interview-sim/backend/internal/metrics"
	"github.com/zhouzirui/interview-sim/backend/internal/model/persona"
	"github.com/zhouzirui/interview-sim/backend/internal/service/ai"
	"github.com/zhouzirui/interview-sim/backend/internal/service/readiness"
	"github.com/zhouzirui/interview-sim/backend/internal/service/speech"
)

// app holds the services shared by serve and check.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	client  *ai.Client
	speech  *speech.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.New(cfg.Log.Level)
	slog.SetDefault(logger)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	client, err := ai.NewClient(ctx, cfg.Provider, ai.WithLogger(logger), ai.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("init chat provider: %w", err)
	}

	speechSvc, err := speech.NewFromConfig(cfg.Speech, logger, m)
	if err != nil {
		return nil, fmt.Errorf("init speech: %w", err)
	}

	return &app{cfg: cfg, logger: logger, metrics: m, client: client, speech: speechSvc}, nil
}

// checkDependencies runs the readiness gate. A fatal report returns a
// *readiness.StartupDependencyError; a failed speech check disables audio.
func (a *app) checkDependencies(ctx context.Context) (readiness.Report, error) {
	a.logger.Info("checking dependencies",
		"provider", a.client.Backend(),
		"model", a.client.ModelName(),
		"speech_engine", a.speech.EngineName(),
	)

	report := readiness.ForClient(a.client, a.speech, readiness.WithLogger(a.logger)).Run(ctx)
	if err := report.Err(); err != nil {
		return report, err
	}
	if report.Degraded() {
		a.logger.Warn("speech engine unavailable, serving text only", "engine", a.speech.EngineName())
		a.speech.Disable()
	}
	return report, nil
}

func (a *app) openPersonas(ctx context.Context) (persona.Store, func() error, error) {
	if a.cfg.Database.Path == "" || a.cfg.Database.Path == ":memory:" {
		a.logger.Info("using in-memory persona store")
		return persona.NewMemoryStore(persona.Seed()), func() error { return nil }, nil
	}
	store, err := persona.OpenSQLite(ctx, a.cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("persona store opened", "path", a.cfg.Database.Path)
	return store, store.Close, nil
}

func (a *app) close() {
	a.speech.Close()
}
