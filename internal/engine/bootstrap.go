package engine

import (
	"context"
	"fmt"
	"net/http"

	"subflow/internal/logging"
	"subflow/internal/pipeline"
	"subflow/internal/telemetry"
	"subflow/internal/transport"
)

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	m := telemetry.NewMetrics()

	// 1. pipeline runner
	var runner *pipeline.Runner
	if cfg.PipelineYml != "" {
		var err error
		runner, err = pipeline.Compile(cfg.PipelineYml, m)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	// 2. transport server
	var stats transport.StatsSource
	if runner != nil {
		stats = m
	}
	srv, err := transport.StartServer(cfg.GRPCPort, stats)
	if err != nil {
		discard(runner)
		return nil, fmt.Errorf("transport: %w", err)
	}
	if runner != nil {
		runner.SubscribeState(srv.SetConsumerState)
	}

	// 3. metrics
	var metricsSrv *http.Server
	if cfg.MetricsPort > 0 {
		reg, err := telemetry.NewRegistry(m)
		if err != nil {
			srv.Stop()
			discard(runner)
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		metricsSrv = telemetry.Expose(cfg.MetricsPort, reg)
	}

	return &Engine{
		transport: srv,
		runner:    runner,
		metrics:   m,
		http:      metricsSrv,
	}, nil
}

func discard(r *pipeline.Runner) {
	if r == nil {
		return
	}
	if err := r.Discard(); err != nil {
		logging.Component("engine").Warn("closing sinks", "err", err)
	}
}
