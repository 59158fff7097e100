package nakadi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subflow/internal/telemetry"
)

func newTestCommitter(ft *fakeTransport, attempts int) (*Committer, *telemetry.CheckpointingMetrics) {
	m := telemetry.NewCheckpointingMetrics()
	c := NewCommitter(CommitterConfig{Attempts: attempts, Backoff: time.Millisecond}, ft, StaticToken("t"), m)
	return c, m
}

func req(partition, offset string) CommitRequest {
	return CommitRequest{Subscription: "sub", Stream: "s1", Cursor: Cursor{Partition: partition, Offset: offset}}
}

func TestCommitter_SkipsCursorsAtOrBehindLastCommitted(t *testing.T) {
	ft := &fakeTransport{}
	c, _ := newTestCommitter(ft, 3)
	ctx := context.Background()

	for _, off := range []string{"2", "1", "2", "3"} {
		if err := c.Checkpoint(ctx, req("0", off)); err != nil {
			t.Fatalf("Checkpoint(%s): %v", off, err)
		}
	}
	got := ft.committed()
	if len(got) != 2 || got[0].Cursor.Offset != "2" || got[1].Cursor.Offset != "3" {
		t.Fatalf("want commits [2 3], got %+v", got)
	}
	if cur, ok := c.Committed("0"); !ok || cur.Offset != "3" {
		t.Fatalf("want last committed 3, got %+v %v", cur, ok)
	}
}

func TestCommitter_PartitionsAreIndependent(t *testing.T) {
	ft := &fakeTransport{}
	c, _ := newTestCommitter(ft, 1)
	ctx := context.Background()
	_ = c.Checkpoint(ctx, req("0", "5"))
	_ = c.Checkpoint(ctx, req("1", "1"))
	if got := len(ft.committed()); got != 2 {
		t.Fatalf("want 2 commits across partitions, got %d", got)
	}
}

func TestCommitter_ConflictIsNotRetried(t *testing.T) {
	ft := &fakeTransport{commit: func(int, CommitRequest) error {
		return FromStatus(OpCommit, 409, []byte("slot reassigned"))
	}}
	c, m := newTestCommitter(ft, 5)

	err := c.Checkpoint(context.Background(), req("0", "5"))
	var ce *CommitError
	if !errors.As(err, &ce) {
		t.Fatalf("want CommitError, got %v", err)
	}
	if ce.Fatal() || ce.Err.Kind != KindConflict || ce.Attempts != 1 {
		t.Fatalf("unexpected commit error %+v", ce)
	}
	if got := len(ft.committed()); got != 1 {
		t.Fatalf("conflict must not be retried, got %d calls", got)
	}
	s := m.Stats()
	if s.CheckpointingErrorsPerSecond.Count != 1 || s.CheckpointingFailuresPerSecond.Count != 1 {
		t.Fatalf("unexpected metrics: %+v", s)
	}
	if _, ok := c.Committed("0"); ok {
		t.Fatal("rejected cursor must not become the committed one")
	}
}

func TestCommitter_RetriesTransientThenSucceeds(t *testing.T) {
	ft := &fakeTransport{commit: func(n int, _ CommitRequest) error {
		if n < 3 {
			return FromStatus(OpCommit, 503, nil)
		}
		return nil
	}}
	c, m := newTestCommitter(ft, 5)
	if err := c.Checkpoint(context.Background(), req("0", "1")); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	s := m.Stats()
	if s.CheckpointsPerSecond.Count != 1 || s.CheckpointingFailuresPerSecond.Count != 2 {
		t.Fatalf("want 1 success and 2 failed attempts, got %+v", s)
	}
	if s.CheckpointingDurations.Count != 1 || s.CheckpointingFailuresDurations.Count != 2 {
		t.Fatalf("attempt latencies not recorded: %+v", s)
	}
}

func TestCommitter_TransientExhaustedIsFatal(t *testing.T) {
	ft := &fakeTransport{commit: func(int, CommitRequest) error {
		return &Error{Kind: KindConnection, Context: "reset"}
	}}
	c, _ := newTestCommitter(ft, 3)
	err := c.Checkpoint(context.Background(), req("0", "1"))
	var ce *CommitError
	if !errors.As(err, &ce) || !ce.Exhausted || !ce.Fatal() {
		t.Fatalf("want exhausted fatal commit error, got %v", err)
	}
	if got := len(ft.committed()); got != 3 {
		t.Fatalf("want 3 attempts, got %d", got)
	}
}

func TestCommitter_ForbiddenIsFatal(t *testing.T) {
	ft := &fakeTransport{commit: func(int, CommitRequest) error {
		return FromStatus(OpCommit, 403, nil)
	}}
	c, _ := newTestCommitter(ft, 3)
	err := c.Checkpoint(context.Background(), req("0", "1"))
	var ce *CommitError
	if !errors.As(err, &ce) || !ce.Fatal() || ce.Exhausted {
		t.Fatalf("want fatal forbidden, got %v", err)
	}
	if got := len(ft.committed()); got != 1 {
		t.Fatalf("forbidden must not be retried, got %d calls", got)
	}
}

func TestCommitter_TokenFailureRetried(t *testing.T) {
	var calls atomic.Int32
	tp := tokenFunc(func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("no token yet")
		}
		return "tok", nil
	})
	ft := &fakeTransport{}
	c := NewCommitter(CommitterConfig{Attempts: 3, Backoff: time.Millisecond}, ft, tp, telemetry.NewCheckpointingMetrics())
	if err := c.Checkpoint(context.Background(), req("0", "1")); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if got := len(ft.committed()); got != 1 {
		t.Fatalf("want one broker call after token recovered, got %d", got)
	}
}

func TestCommitter_NeverConcurrentPerPartition(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	ft := &fakeTransport{commit: func(int, CommitRequest) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil
	}}
	c, _ := newTestCommitter(ft, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Checkpoint(context.Background(), req("0", string(rune('a'+i))))
		}(i)
	}
	wg.Wait()
	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("want at most one commit in flight per partition, saw %d", got)
	}

	// Whatever order the goroutines won the lock in, commits sent to the
	// broker never go backwards.
	sent := ft.committed()
	for i := 1; i < len(sent); i++ {
		if CompareOffsets(sent[i].Cursor.Offset, sent[i-1].Cursor.Offset) <= 0 {
			t.Fatalf("commit %d went backwards: %s after %s", i, sent[i].Cursor.Offset, sent[i-1].Cursor.Offset)
		}
	}
}

func TestCommitter_CancelledContext(t *testing.T) {
	ft := &fakeTransport{}
	c, m := newTestCommitter(ft, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Checkpoint(ctx, req("0", "1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if m.Stats().CheckpointingErrorsPerSecond.Count != 0 {
		t.Fatal("cancellation must not count as a checkpointing error")
	}
}

type tokenFunc func(context.Context) (string, error)

func (f tokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }
