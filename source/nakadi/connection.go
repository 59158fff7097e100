package nakadi

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"subflow/internal/logging"
	"subflow/internal/telemetry"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type ConnectionConfig struct {
	Subscription SubscriptionID
	Reconnect    ReconnectCfg
	MaxLineBytes int
}

// Connection owns one subscription stream: it connects, reads frames,
// reconnects on transient failures and stops on fatal ones.
type Connection struct {
	cfg       ConnectionConfig
	transport Transport
	tokens    TokenProvider
	reader    *BatchReader
	backoff   *Backoff
	metrics   *telemetry.StreamMetrics
	log       *slog.Logger
	observer  func(State)

	state    atomic.Int32
	streamID atomic.Value

	mu     sync.Mutex
	cancel context.CancelFunc
	body   io.Closer
	closed bool
}

func NewConnection(cfg ConnectionConfig, t Transport, tp TokenProvider, m *telemetry.StreamMetrics) *Connection {
	return &Connection{
		cfg:       cfg,
		transport: t,
		tokens:    tp,
		reader:    NewBatchReader(m),
		backoff:   NewBackoff(cfg.Reconnect.Initial, cfg.Reconnect.Max),
		metrics:   m,
		log:       logging.Component("nakadi.connection").With("subscription", string(cfg.Subscription)),
	}
}

// Observe registers fn to be called on every state change. Must be called
// before Open.
func (c *Connection) Observe(fn func(State)) { c.observer = fn }

func (c *Connection) State() State { return State(c.state.Load()) }

// StreamID is the id of the current or most recent stream.
func (c *Connection) StreamID() StreamID {
	id, _ := c.streamID.Load().(StreamID)
	return id
}

// setState moves the machine to s. Closed is terminal.
func (c *Connection) setState(s State) {
	for {
		cur := c.state.Load()
		if State(cur) == Closed || State(cur) == s {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			break
		}
	}
	c.log.Debug("connection state", "state", s.String())
	if c.observer != nil {
		c.observer(s)
	}
}

// Open streams until Close is called or ctx is cancelled (both return nil),
// or until a failure is classified as fatal, which is returned.
func (c *Connection) Open(ctx context.Context, emit EmitFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("nakadi: connection already open")
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer c.setState(Closed)

	noConnectionSince := time.Now()
	tokenFailures := 0
	for {
		if c.done(ctx) {
			return nil
		}
		c.setState(Connecting)
		streamed, err := c.session(ctx, emit, &noConnectionSince)
		if c.done(ctx) {
			return nil
		}
		if streamed {
			tokenFailures = 0
		}
		if err != nil {
			c.metrics.ConnectionFailed()
		}

		ce := Classify(err)
		if ce.Kind == KindToken {
			tokenFailures++
		}
		if ce.Kind.Fatal() || (ce.Kind == KindToken && tokenFailures >= c.cfg.Reconnect.MaxTokenAttempts) {
			c.log.Error("stream failed permanently", "kind", ce.Kind.String(), "err", ce)
			return ce
		}

		c.setState(Reconnecting)
		delay := c.backoff.Next()
		c.log.Warn("stream interrupted; reconnecting", "kind", ce.Kind.String(), "err", ce, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// Close stops the connection for good and unblocks a pending read.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel, body := c.cancel, c.body
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		_ = body.Close()
	}
	c.setState(Closed)
}

func (c *Connection) done(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// session runs one connect+stream cycle. streamed reports whether the
// stream was opened.
func (c *Connection) session(ctx context.Context, emit EmitFunc, noConnectionSince *time.Time) (streamed bool, err error) {
	token, err := acquireToken(ctx, c.tokens)
	if err != nil {
		return false, err
	}
	stream, err := c.transport.OpenStream(ctx, c.cfg.Subscription, token)
	if err != nil {
		return false, err
	}
	defer stream.Body.Close()
	if !c.attach(stream.Body) {
		return true, nil
	}
	defer c.detach()

	c.streamID.Store(stream.ID)
	c.setState(Streaming)
	c.metrics.Connected(*noConnectionSince)
	c.log.Info("stream opened", "stream", string(stream.ID))

	start := time.Now()
	var lines int64
	err = c.consume(stream, emit, &lines)

	c.metrics.ConnectionEnded(start, lines)
	*noConnectionSince = time.Now()
	if time.Since(start) >= c.cfg.Reconnect.ResetAfter {
		c.backoff.Reset()
	}
	return true, err
}

func (c *Connection) attach(body io.Closer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.body = body
	return true
}

func (c *Connection) detach() {
	c.mu.Lock()
	c.body = nil
	c.mu.Unlock()
}

var errStreamEnded = newError(KindConnection, "stream closed by broker", io.EOF)

func (c *Connection) consume(stream *Stream, emit EmitFunc, lines *int64) error {
	br := bufio.NewReaderSize(stream.Body, 64<<10)
	for {
		line, err := readLine(br, c.cfg.MaxLineBytes)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil
		if eof && len(line) == 0 {
			return errStreamEnded
		}

		*lines++
		frame, derr := c.reader.DecodeLine(line)
		if derr != nil {
			return derr
		}
		if !frame.KeepAlive {
			frame.Batch.StreamID = stream.ID
			emit(frame.Batch)
		}
		if eof {
			return errStreamEnded
		}
	}
}

// readLine returns the next line without its terminator. The returned slice
// is owned by the caller.
func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if max > 0 && len(bytes.TrimRight(line, "\r\n")) > max {
			return nil, newError(KindInvalidResponse, fmt.Sprintf("line exceeds %d bytes", max), ErrInvalidFrame)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(line, "\r\n"), err
	}
}
