package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-multierror"

	"subflow/internal/logging"
	"subflow/internal/telemetry"
	"subflow/sink"
	"subflow/source/nakadi"
)

// Runner owns one subscription consumer: the stream connection, the worker
// pool and the cursor committer.
type Runner struct {
	cfg     nakadi.Config
	source  nakadi.Driver
	tokens  nakadi.TokenProvider
	sinks   fanout
	metrics *telemetry.Metrics

	mu       sync.Mutex
	subs     []func(nakadi.State)
	conn     *nakadi.Connection
	closed   bool
	released bool
}

func NewRunner(m *telemetry.Metrics) *Runner {
	if m == nil {
		m = telemetry.NewMetrics()
	}
	return &Runner{metrics: m}
}

func (r *Runner) AddSink(s sink.Adapter) { r.sinks = append(r.sinks, s) }

func (r *Runner) SetSource(cfg nakadi.Config, d nakadi.Driver, tp nakadi.TokenProvider) {
	r.cfg, r.source, r.tokens = cfg, d, tp
}

func (r *Runner) Metrics() *telemetry.Metrics { return r.metrics }

// SubscribeState registers fn for connection state changes. Must be called
// before Run.
func (r *Runner) SubscribeState(fn func(nakadi.State)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

func (r *Runner) notify(s nakadi.State) {
	r.mu.Lock()
	handlers := append([]func(nakadi.State){}, r.subs...)
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}

// State is the current connection state, Disconnected before Run.
func (r *Runner) State() nakadi.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		if r.closed {
			return nakadi.Closed
		}
		return nakadi.Disconnected
	}
	return r.conn.State()
}

// Run consumes until Close, ctx cancellation or a fatal failure, which is
// returned. Sinks are closed before Run returns.
func (r *Runner) Run(ctx context.Context) (err error) {
	if r.source == nil {
		return errors.New("runner: no source configured")
	}
	if len(r.sinks) == 0 {
		return errors.New("runner: no sinks configured")
	}
	log := logging.Component("pipeline.runner").With("subscription", string(r.cfg.SubscriptionID))

	conn := nakadi.NewConnection(nakadi.ConnectionConfig{
		Subscription: r.cfg.SubscriptionID,
		Reconnect:    r.cfg.Reconnect,
		MaxLineBytes: r.cfg.Stream.MaxLineBytes,
	}, r.source, r.tokens, r.metrics.Stream)
	conn.Observe(r.notify)

	committer := nakadi.NewCommitter(nakadi.CommitterConfig{
		Attempts: r.cfg.Checkpoint.Attempts,
		Backoff:  r.cfg.Checkpoint.Backoff,
		Timeout:  r.cfg.Checkpoint.Timeout,
	}, r.source, r.tokens, r.metrics.Checkpointing)

	disp := NewDispatcher(DispatcherConfig{
		Subscription:  r.cfg.SubscriptionID,
		Workers:       r.cfg.Dispatch.Workers,
		QueueCapacity: r.cfg.Dispatch.QueueCapacity,
	}, r.sinks, committer, conn, r.metrics)

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	if r.closed {
		r.mu.Unlock()
		return r.sinks.Close()
	}
	if r.conn != nil {
		r.mu.Unlock()
		return errors.New("runner: already running")
	}
	r.conn = conn
	r.mu.Unlock()

	defer func() {
		if cerr := r.sinks.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	disp.Start(ctx)

	connDone := make(chan error, 1)
	go func() {
		connDone <- conn.Open(ctx, func(b *nakadi.Batch) { disp.Submit(b) })
	}()

	log.Info("consumer started", "workers", r.cfg.Dispatch.Workers)
	select {
	case err = <-connDone:
	case err = <-disp.Fatal():
		log.Error("commit failed permanently; stopping", "err", err)
		conn.Close()
		<-connDone
	}
	disp.Close()
	log.Info("consumer stopped", "err", err)
	return err
}

// Discard closes the sinks of a runner that will not be run. A later Run
// returns immediately.
func (r *Runner) Discard() error {
	r.mu.Lock()
	if r.conn != nil {
		r.mu.Unlock()
		return errors.New("runner: already running")
	}
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.closed, r.released = true, true
	r.mu.Unlock()
	return r.sinks.Close()
}

// Close stops a running consumer. Run returns once in-flight handlers
// finish.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return nil
}
