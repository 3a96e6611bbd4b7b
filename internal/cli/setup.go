package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/ppiankov/nbgrade/internal/metrics"
	"github.com/ppiankov/nbgrade/internal/model"
	"github.com/ppiankov/nbgrade/internal/pipeline"
	"github.com/ppiankov/nbgrade/internal/semantic"
)

// app bundles what every command needs
type app struct {
	cfg      *model.Config
	logger   *slog.Logger
	metrics  *metrics.Recorder
	service  semantic.Service
	pipeline *pipeline.Pipeline
}

func newApp() (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg.Output.Verbose)
	rec := metrics.NewRecorder()

	svc, err := semantic.NewService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("collaborator: %w", err)
	}

	p, err := pipeline.NewPipeline(cfg, svc, pipeline.WithLogger(logger), pipeline.WithMetrics(rec))
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, metrics: rec, service: svc, pipeline: p}, nil
}
