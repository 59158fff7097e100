package nakadi

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"subflow/internal/telemetry"
)

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func (l *stateLog) contains(s State) bool {
	for _, got := range l.snapshot() {
		if got == s {
			return true
		}
	}
	return false
}

type batchLog struct {
	mu      sync.Mutex
	batches []*Batch
}

func (b *batchLog) emit(batch *Batch) {
	b.mu.Lock()
	b.batches = append(b.batches, batch)
	b.mu.Unlock()
}

func (b *batchLog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testConnection(ft *fakeTransport, tp TokenProvider, m *telemetry.StreamMetrics) (*Connection, *stateLog) {
	c := NewConnection(ConnectionConfig{
		Subscription: "sub",
		Reconnect: ReconnectCfg{
			Initial:          time.Millisecond,
			Max:              4 * time.Millisecond,
			ResetAfter:       time.Hour,
			MaxTokenAttempts: 3,
		},
	}, ft, tp, m)
	log := &stateLog{}
	c.Observe(log.record)
	return c, log
}

func TestConnection_ForbiddenOnOpenClosesWithoutReconnect(t *testing.T) {
	ft := &fakeTransport{open: func(int) (*Stream, error) {
		return nil, FromStatus(OpStream, 403, []byte("not allowed"))
	}}
	m := telemetry.NewStreamMetrics()
	c, log := testConnection(ft, StaticToken(""), m)

	err := c.Open(context.Background(), func(*Batch) {})
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindForbidden {
		t.Fatalf("want forbidden error, got %v", err)
	}
	if got := m.Stats().ConnectionFailuresPerSecond.Count; got != 1 {
		t.Fatalf("want 1 connection failure, got %d", got)
	}
	if ft.openCount() != 1 {
		t.Fatalf("want a single open attempt, got %d", ft.openCount())
	}
	if c.State() != Closed {
		t.Fatalf("want closed, got %s", c.State())
	}
	if log.contains(Reconnecting) {
		t.Fatalf("must not reconnect after forbidden, states %v", log.snapshot())
	}
}

func TestConnection_ReconnectsAfterTransientFailure(t *testing.T) {
	m := telemetry.NewStreamMetrics()
	ft := &fakeTransport{open: func(n int) (*Stream, error) {
		switch n {
		case 1:
			return nil, FromStatus(OpStream, 503, nil)
		case 2:
			return stringStream("s2",
				`{"cursor":{"partition":"0","offset":"1"},"events":[{}]}`+"\n\n"+
					`{"cursor":{"partition":"0","offset":"2"},"events":[{}]}`+"\n"), nil
		default:
			return nil, FromStatus(OpStream, 409, []byte("no free slots"))
		}
	}}
	c, log := testConnection(ft, StaticToken(""), m)
	got := &batchLog{}

	done := make(chan error, 1)
	go func() { done <- c.Open(context.Background(), got.emit) }()

	waitFor(t, "two batches", func() bool { return got.len() == 2 })
	waitFor(t, "a reconnect after end of stream", func() bool { return ft.openCount() >= 3 })
	c.Close()
	if err := <-done; err != nil {
		t.Fatalf("Open after Close: %v", err)
	}

	if !log.contains(Reconnecting) || !log.contains(Streaming) {
		t.Fatalf("unexpected states %v", log.snapshot())
	}
	if got.batches[0].StreamID != "s2" || got.batches[1].Cursor.Offset != "2" {
		t.Fatalf("unexpected batches %+v %+v", got.batches[0], got.batches[1])
	}
	if c.StreamID() != "s2" {
		t.Fatalf("want stream id s2, got %q", c.StreamID())
	}
	s := m.Stats()
	if s.KeepAlivesPerSecond.Count != 1 {
		t.Fatalf("want 1 keep-alive, got %d", s.KeepAlivesPerSecond.Count)
	}
	if s.NoConnectionDuration.Count != 1 || s.ConnectionDuration.Count != 1 {
		t.Fatalf("want one session recorded, got %+v / %+v", s.NoConnectionDuration, s.ConnectionDuration)
	}
	if s.LinesPerConnection.Max != 3 {
		t.Fatalf("want 3 lines in the session, got %d", s.LinesPerConnection.Max)
	}
	// The 503 and the end of stream; later 409s race with Close.
	if s.ConnectionFailuresPerSecond.Count < 2 {
		t.Fatalf("want every failed session counted, got %d", s.ConnectionFailuresPerSecond.Count)
	}
}

func TestConnection_CloseUnblocksRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ft := &fakeTransport{open: func(n int) (*Stream, error) {
		if n == 1 {
			return &Stream{ID: "s1", Body: pr}, nil
		}
		return nil, errors.New("unexpected reopen")
	}}
	c, _ := testConnection(ft, StaticToken(""), telemetry.NewStreamMetrics())

	done := make(chan error, 1)
	go func() { done <- c.Open(context.Background(), func(*Batch) {}) }()
	waitFor(t, "streaming", func() bool { return c.State() == Streaming })

	c.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("want nil after Close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock the reader")
	}
	if c.State() != Closed {
		t.Fatalf("want closed, got %s", c.State())
	}
}

func TestConnection_DecodeErrorReconnects(t *testing.T) {
	ft := &fakeTransport{open: func(n int) (*Stream, error) {
		if n == 1 {
			return stringStream("s1", "{not json\n"), nil
		}
		return nil, FromStatus(OpStream, 404, nil)
	}}
	m := telemetry.NewStreamMetrics()
	c, log := testConnection(ft, StaticToken(""), m)

	err := c.Open(context.Background(), func(*Batch) {})
	if got := m.Stats().ConnectionFailuresPerSecond.Count; got != 2 {
		t.Fatalf("want the decode failure and the 404 counted, got %d", got)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindNoSubscription {
		t.Fatalf("want no_subscription after reconnect, got %v", err)
	}
	if ft.openCount() != 2 || !log.contains(Reconnecting) {
		t.Fatalf("decode failure must reconnect: opens=%d states=%v", ft.openCount(), log.snapshot())
	}
}

func TestConnection_TokenFailuresBecomeFatal(t *testing.T) {
	tp := tokenFunc(func(context.Context) (string, error) { return "", errors.New("idp down") })
	ft := &fakeTransport{}
	m := telemetry.NewStreamMetrics()
	c, _ := testConnection(ft, tp, m)

	err := c.Open(context.Background(), func(*Batch) {})
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindToken {
		t.Fatalf("want token error, got %v", err)
	}
	if got := m.Stats().ConnectionFailuresPerSecond.Count; got != 3 {
		t.Fatalf("want 3 token failures counted, got %d", got)
	}
	if ft.openCount() != 0 {
		t.Fatalf("stream must not be opened without a token, got %d opens", ft.openCount())
	}
}

func TestConnection_ContextCancelStops(t *testing.T) {
	ft := &fakeTransport{}
	c, _ := testConnection(ft, StaticToken(""), telemetry.NewStreamMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Open(ctx, func(*Batch) {}) }()
	waitFor(t, "connecting", func() bool { return ft.openCount() == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("want nil on cancel, got %v", err)
	}
	if c.State() != Closed {
		t.Fatalf("want closed, got %s", c.State())
	}
}

func TestConnection_ClosedBeforeOpen(t *testing.T) {
	ft := &fakeTransport{}
	c, _ := testConnection(ft, StaticToken(""), telemetry.NewStreamMetrics())
	c.Close()
	if err := c.Open(context.Background(), func(*Batch) {}); err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	if ft.openCount() != 0 {
		t.Fatal("closed connection must not open a stream")
	}
}

// backoffStep is the index of the delay the next Next call will return.
func backoffStep(b *Backoff) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// reconnectDelayAfterSession fails three opens, streams once for sessionLen,
// and returns the delay taken after that session ended.
func reconnectDelayAfterSession(t *testing.T, resetAfter, sessionLen time.Duration) time.Duration {
	t.Helper()
	var c *Connection
	step := -1
	ft := &fakeTransport{open: func(n int) (*Stream, error) {
		switch {
		case n <= 3:
			return nil, FromStatus(OpStream, 503, nil)
		case n == 4:
			pr, pw := io.Pipe()
			go func() {
				time.Sleep(sessionLen)
				_ = pw.Close()
			}()
			return &Stream{ID: "s4", Body: pr}, nil
		default:
			step = backoffStep(c.backoff)
			return nil, FromStatus(OpStream, 404, nil)
		}
	}}
	c = NewConnection(ConnectionConfig{
		Subscription: "sub",
		Reconnect: ReconnectCfg{
			Initial:          time.Millisecond,
			Max:              64 * time.Millisecond,
			ResetAfter:       resetAfter,
			MaxTokenAttempts: 3,
		},
	}, ft, StaticToken(""), telemetry.NewStreamMetrics())

	if err := c.Open(context.Background(), func(*Batch) {}); err == nil {
		t.Fatal("want the final 404 reported")
	}
	if ft.openCount() != 5 || step < 1 {
		t.Fatalf("unexpected opens=%d step=%d", ft.openCount(), step)
	}
	return c.backoff.steps[step-1]
}

func TestConnection_SustainedSessionResetsBackoff(t *testing.T) {
	if got := reconnectDelayAfterSession(t, 20*time.Millisecond, 40*time.Millisecond); got != time.Millisecond {
		t.Fatalf("want the initial delay after a long session, got %s", got)
	}
}

func TestConnection_ShortSessionKeepsBackoff(t *testing.T) {
	// Three failures took 1ms, 2ms and 4ms; the fourth delay is 8ms.
	if got := reconnectDelayAfterSession(t, time.Hour, time.Millisecond); got != 8*time.Millisecond {
		t.Fatalf("want backoff to keep growing after a short session, got %s", got)
	}
}

func TestReadLine_LimitExcludesTerminator(t *testing.T) {
	frame := `{"cursor":{"partition":"0","offset":"1"},"events":[{}]}`
	max := len(frame)

	for _, term := range []string{"\n", "\r\n"} {
		line, err := readLine(bufio.NewReaderSize(strings.NewReader(frame+term), 16), max)
		if err != nil {
			t.Fatalf("frame of exactly %d bytes rejected: %v", max, err)
		}
		if string(line) != frame {
			t.Fatalf("unexpected line %q", line)
		}
	}

	_, err := readLine(bufio.NewReaderSize(strings.NewReader(frame+"\n"), 16), max-1)
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindInvalidResponse {
		t.Fatalf("want invalid response for an oversized line, got %v", err)
	}
}

func TestConnection_AcceptsFrameAtLineLimit(t *testing.T) {
	frame := `{"cursor":{"partition":"0","offset":"1"},"events":[{}]}`
	ft := &fakeTransport{open: func(n int) (*Stream, error) {
		if n == 1 {
			return stringStream("s1", frame+"\n"), nil
		}
		return nil, FromStatus(OpStream, 404, nil)
	}}
	c := NewConnection(ConnectionConfig{
		Subscription: "sub",
		Reconnect:    ReconnectCfg{Initial: time.Millisecond, Max: time.Millisecond, ResetAfter: time.Hour, MaxTokenAttempts: 3},
		MaxLineBytes: len(frame),
	}, ft, StaticToken(""), telemetry.NewStreamMetrics())
	got := &batchLog{}

	_ = c.Open(context.Background(), got.emit)
	if got.len() != 1 {
		t.Fatalf("want the frame delivered, got %d batches", got.len())
	}
}
