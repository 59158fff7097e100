package nakadi

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"subflow/internal/logging"
	"subflow/internal/telemetry"
)

type CommitterConfig struct {
	Attempts int           // total attempts per cursor, including the first
	Backoff  time.Duration // delay before the first retry, doubled afterwards
	Timeout  time.Duration // per attempt, 0 = none
}

type partitionCommits struct {
	mu   sync.Mutex // held for the whole commit, one in flight per partition
	last *Cursor
}

// Committer commits cursors to the broker, keeping the last committed
// cursor of each partition monotonic.
type Committer struct {
	cfg       CommitterConfig
	transport Transport
	tokens    TokenProvider
	metrics   *telemetry.CheckpointingMetrics
	schedule  []time.Duration
	log       *slog.Logger

	mu         sync.Mutex
	partitions map[string]*partitionCommits
}

func NewCommitter(cfg CommitterConfig, t Transport, tp TokenProvider, m *telemetry.CheckpointingMetrics) *Committer {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Committer{
		cfg:        cfg,
		transport:  t,
		tokens:     tp,
		metrics:    m,
		schedule:   retrier.ExponentialBackoff(cfg.Attempts-1, cfg.Backoff),
		log:        logging.Component("nakadi.committer"),
		partitions: make(map[string]*partitionCommits),
	}
}

func (c *Committer) partition(key string) *partitionCommits {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.partitions[key]
	if !ok {
		p = &partitionCommits{}
		c.partitions[key] = p
	}
	return p
}

// Committed returns the last cursor committed for a partition key.
func (c *Committer) Committed(partitionKey string) (Cursor, bool) {
	p := c.partition(partitionKey)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Cursor{}, false
	}
	return *p.last, true
}

// Checkpoint commits req.Cursor unless a cursor at or beyond it was
// already committed for the partition. Failures are *CommitError, except
// for cancellation of ctx which is returned as is.
func (c *Committer) Checkpoint(ctx context.Context, req CommitRequest) error {
	p := c.partition(req.Cursor.PartitionKey())
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last != nil && CompareOffsets(req.Cursor.Offset, p.last.Offset) <= 0 {
		c.log.Debug("cursor already committed", "partition", req.Cursor.PartitionKey(),
			"offset", req.Cursor.Offset, "committed", p.last.Offset)
		return nil
	}

	var (
		attempts int
		last     *Error
	)
	r := retrier.New(c.schedule, commitClassifier{})
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		start := time.Now()
		if err := c.commitOnce(ctx, req); err != nil {
			c.metrics.CheckpointingFailed(start)
			last = Classify(err)
			return last
		}
		c.metrics.Checkpointed(start)
		return nil
	})
	if err == nil {
		cur := req.Cursor
		p.last = &cur
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.metrics.CheckpointingError()
	if last == nil {
		last = Classify(err)
	}
	ce := &CommitError{Cursor: req.Cursor, Attempts: attempts, Err: last, Exhausted: last.Kind.Retryable()}
	if ce.Fatal() {
		c.log.Error("cursor commit failed", "stream", string(req.Stream), "cursor", req.Cursor.String(),
			"kind", last.Kind.String(), "attempts", attempts, "err", last)
	} else {
		c.log.Warn("cursor rejected; waiting for a newer one", "stream", string(req.Stream),
			"cursor", req.Cursor.String(), "kind", last.Kind.String(), "err", last)
	}
	return ce
}

func (c *Committer) commitOnce(ctx context.Context, req CommitRequest) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	token, err := acquireToken(ctx, c.tokens)
	if err != nil {
		return err
	}
	return c.transport.Commit(ctx, req, token)
}

type commitClassifier struct{}

func (commitClassifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Kind.Retryable() {
		return retrier.Retry
	}
	return retrier.Fail
}
