package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"subflow/internal/logging"
	"subflow/internal/pipeline"
	"subflow/internal/telemetry"
	"subflow/internal/transport"
)

const shutdownTimeout = 5 * time.Second

type Engine struct {
	transport *transport.Server
	runner    *pipeline.Runner
	metrics   *telemetry.Metrics
	http      *http.Server
}

// Run serves until ctx is done or the consumer fails permanently.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.transport.Serve() })

	if e.runner != nil {
		g.Go(func() error {
			if err := e.runner.Run(gctx); err != nil {
				return fmt.Errorf("consumer: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		t := time.NewTicker(telemetry.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				e.metrics.Tick()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.L().Info("engine shutting down")
		e.transport.Stop()
		if e.runner != nil {
			_ = e.runner.Close()
		}
		if e.http != nil {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = e.http.Shutdown(sctx)
		}
		return nil
	})

	return g.Wait()
}
