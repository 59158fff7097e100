package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"subflow/internal/logging"
	"subflow/internal/telemetry"
	"subflow/source/nakadi"
)

// Handler processes one batch. A nil return lets the batch's cursor be
// committed.
type Handler interface {
	Handle(ctx context.Context, b *nakadi.Batch) error
}

// Checkpointer commits a cursor (see nakadi.Committer).
type Checkpointer interface {
	Checkpoint(ctx context.Context, req nakadi.CommitRequest) error
}

// StateObserver exposes the connection state the dispatcher needs to
// recognise stale batches.
type StateObserver interface {
	State() nakadi.State
	StreamID() nakadi.StreamID
}

type Outcome int

const (
	Accepted Outcome = iota
	Dropped
)

func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "dropped"
}

type DispatcherConfig struct {
	Subscription  nakadi.SubscriptionID
	Workers       int
	QueueCapacity int // per worker
}

// Dispatcher hands batches to a fixed pool of workers. Each partition is
// pinned to one worker so its batches are handled and committed in the
// order they were received.
type Dispatcher struct {
	cfg      DispatcherConfig
	handler  Handler
	cp       Checkpointer
	conn     StateObserver
	handlerM *telemetry.HandlerMetrics
	streamM  *telemetry.StreamMetrics
	log      *slog.Logger

	lanes []chan *nakadi.Batch

	mu      sync.Mutex
	started bool
	closed  bool
	// gaps maps a partition key to the stream on which one of its batches
	// was lost. Later batches of that partition on that stream must not be
	// committed.
	gaps map[string]nakadi.StreamID

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	fatal     chan error
	fatalOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, h Handler, cp Checkpointer, conn StateObserver, m *telemetry.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity < 0 {
		cfg.QueueCapacity = 0
	}
	d := &Dispatcher{
		cfg:      cfg,
		handler:  h,
		cp:       cp,
		conn:     conn,
		handlerM: m.Handler,
		streamM:  m.Stream,
		log:      logging.Component("pipeline.dispatcher").With("subscription", string(cfg.Subscription)),
		lanes:    make([]chan *nakadi.Batch, cfg.Workers),
		gaps:     map[string]nakadi.StreamID{},
		fatal:    make(chan error, 1),
	}
	for i := range d.lanes {
		d.lanes[i] = make(chan *nakadi.Batch, cfg.QueueCapacity)
	}
	return d
}

// Start launches the workers. Handlers and commits run under ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	for _, lane := range d.lanes {
		d.wg.Add(1)
		go d.work(ctx, lane)
	}
}

// Fatal delivers the first commit failure that must stop the consumer.
func (d *Dispatcher) Fatal() <-chan error { return d.fatal }

// Submit queues b without blocking. A batch that cannot be queued is
// dropped and counted once.
func (d *Dispatcher) Submit(b *nakadi.Batch) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || (d.conn != nil && d.conn.State() == nakadi.Closed) {
		d.skip(b, "dispatcher closed")
		return Dropped
	}
	if d.gappedLocked(b) {
		d.skip(b, "partition has a gap on this stream")
		return Dropped
	}
	select {
	case d.lanes[d.laneFor(b)] <- b:
		return Accepted
	default:
		d.gaps[b.Cursor.PartitionKey()] = b.StreamID
		d.skip(b, "worker queue full")
		return Dropped
	}
}

// Close stops accepting batches, discards queued ones without committing
// them and waits for in-flight handlers to return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, lane := range d.lanes {
		close(lane)
	}
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
		d.cancel()
	}
}

func (d *Dispatcher) laneFor(b *nakadi.Batch) int {
	if len(d.lanes) == 1 {
		return 0
	}
	return int(xxhash.Sum64String(b.Cursor.PartitionKey()) % uint64(len(d.lanes)))
}

// gappedLocked reports whether b's partition lost a batch on b's stream. A
// batch from another stream clears the gap. Caller holds d.mu.
func (d *Dispatcher) gappedLocked(b *nakadi.Batch) bool {
	key := b.Cursor.PartitionKey()
	sid, ok := d.gaps[key]
	if !ok {
		return false
	}
	if sid != b.StreamID {
		delete(d.gaps, key)
		return false
	}
	return true
}

func (d *Dispatcher) skip(b *nakadi.Batch, reason string) {
	d.streamM.BatchSkipped()
	d.log.Warn("batch skipped", "reason", reason, "stream", string(b.StreamID),
		"partition", b.Cursor.PartitionKey(), "offset", b.Cursor.Offset)
}

func (d *Dispatcher) work(ctx context.Context, lane <-chan *nakadi.Batch) {
	defer d.wg.Done()
	for b := range lane {
		if ok, reason := d.admit(b); !ok {
			if reason != "" {
				d.skip(b, reason)
			}
			continue
		}
		d.process(ctx, b)
	}
}

// admit decides whether a dequeued batch is still worth handling. An empty
// reason means the batch is discarded silently on shutdown.
func (d *Dispatcher) admit(b *nakadi.Batch) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ""
	}
	if d.conn != nil && d.conn.StreamID() != b.StreamID {
		return false, "stale stream"
	}
	if d.gappedLocked(b) {
		return false, "partition has a gap on this stream"
	}
	return true, ""
}

func (d *Dispatcher) process(ctx context.Context, b *nakadi.Batch) {
	d.handlerM.BatchReceived(b.Bytes)
	start := time.Now()
	err := d.handler.Handle(ctx, b)
	d.handlerM.BatchProcessed(start)
	if err != nil {
		d.mu.Lock()
		d.gaps[b.Cursor.PartitionKey()] = b.StreamID
		d.mu.Unlock()
		d.handlerM.BatchFailed()
		d.log.Error("handler failed; batch left uncommitted", "err", err,
			"stream", string(b.StreamID), "partition", b.Cursor.PartitionKey(), "offset", b.Cursor.Offset)
		return
	}

	err = d.cp.Checkpoint(ctx, nakadi.CommitRequest{
		Subscription: d.cfg.Subscription,
		Stream:       b.StreamID,
		Cursor:       b.Cursor,
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	var ce *nakadi.CommitError
	if errors.As(err, &ce) && !ce.Fatal() {
		return
	}
	d.fatalOnce.Do(func() { d.fatal <- err })
}
