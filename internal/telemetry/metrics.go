package telemetry

import "time"

// Histogram ceilings, in the unit each recorder takes.
const (
	maxBytesPerBatch          = 1_000_000
	maxProcessingMicros       = 10 * 60 * 1_000_000
	maxBytesPerLine           = 1_000_000
	maxConnectionSeconds      = 2 * 24 * 60 * 60
	maxNoConnectionMillis     = 10 * 60 * 60 * 1_000
	maxLinesPerConnection     = 10_000_000
	maxCheckpointingMillis    = 61 * 60 * 1_000
	maxCheckpointFailedMillis = 61 * 60 * 1_000
)

// Metrics groups the live accumulators of one consumer. A single instance is
// shared by the connection, the workers and the committer.
type Metrics struct {
	Handler       *HandlerMetrics
	Stream        *StreamMetrics
	Checkpointing *CheckpointingMetrics
}

func NewMetrics() *Metrics {
	return &Metrics{
		Handler:       NewHandlerMetrics(),
		Stream:        NewStreamMetrics(),
		Checkpointing: NewCheckpointingMetrics(),
	}
}

func (m *Metrics) Tick() {
	m.Handler.Tick()
	m.Stream.Tick()
	m.Checkpointing.Tick()
}

func (m *Metrics) Stats() Stats {
	return Stats{
		Handler:       m.Handler.Stats(),
		Stream:        m.Stream.Stats(),
		Checkpointing: m.Checkpointing.Stats(),
	}
}

/* ───────────────────────── handler ───────────────────────── */

type HandlerMetrics struct {
	batchesPerSecond    *Meter
	bytesPerSecond      *Meter
	failuresPerSecond   *Meter
	bytesPerBatch       *Histogram
	processingDurations *Histogram
}

func NewHandlerMetrics() *HandlerMetrics {
	return &HandlerMetrics{
		batchesPerSecond:    NewMeter(),
		bytesPerSecond:      NewMeter(),
		failuresPerSecond:   NewMeter(),
		bytesPerBatch:       NewHistogram("handler.bytes_per_batch", maxBytesPerBatch),
		processingDurations: NewHistogram("handler.processing_durations", maxProcessingMicros),
	}
}

func (h *HandlerMetrics) BatchReceived(bytes int) {
	h.batchesPerSecond.Mark(1)
	h.bytesPerSecond.Mark(int64(bytes))
	h.bytesPerBatch.Record(int64(bytes))
}

func (h *HandlerMetrics) BatchProcessed(start time.Time) {
	h.processingDurations.Record(time.Since(start).Microseconds())
}

// BatchFailed counts a batch the handler returned an error for.
func (h *HandlerMetrics) BatchFailed() {
	h.failuresPerSecond.Mark(1)
}

func (h *HandlerMetrics) Tick() {
	h.batchesPerSecond.Tick()
	h.bytesPerSecond.Tick()
	h.failuresPerSecond.Tick()
}

func (h *HandlerMetrics) Stats() HandlerStats {
	return HandlerStats{
		BatchesPerSecond:    h.batchesPerSecond.Snapshot(),
		BytesPerSecond:      h.bytesPerSecond.Snapshot(),
		FailuresPerSecond:   h.failuresPerSecond.Snapshot(),
		BytesPerBatch:       h.bytesPerBatch.Snapshot(),
		ProcessingDurations: h.processingDurations.Snapshot(),
	}
}

/* ───────────────────────── stream ───────────────────────── */

type StreamMetrics struct {
	linesPerSecond          *Meter
	bytesPerLine            *Histogram
	bytesPerSecond          *Meter
	keepAlivesPerSecond     *Meter
	connectionDuration      *Histogram
	noConnectionDuration    *Histogram
	linesPerConnection      *Histogram
	batchesDroppedPerSecond *Meter
	connectionFailures      *Meter
}

func NewStreamMetrics() *StreamMetrics {
	return &StreamMetrics{
		linesPerSecond:          NewMeter(),
		bytesPerLine:            NewHistogram("stream.bytes_per_line", maxBytesPerLine),
		bytesPerSecond:          NewMeter(),
		keepAlivesPerSecond:     NewMeter(),
		connectionDuration:      NewHistogram("stream.connection_duration", maxConnectionSeconds),
		noConnectionDuration:    NewHistogram("stream.no_connection_duration", maxNoConnectionMillis),
		linesPerConnection:      NewHistogram("stream.lines_per_connection", maxLinesPerConnection),
		batchesDroppedPerSecond: NewMeter(),
		connectionFailures:      NewMeter(),
	}
}

// BatchSkipped counts a batch that was received but will not be handled.
func (s *StreamMetrics) BatchSkipped() {
	s.batchesDroppedPerSecond.Mark(1)
}

// ConnectionEnded records a finished streaming session.
func (s *StreamMetrics) ConnectionEnded(start time.Time, lines int64) {
	s.linesPerConnection.Record(lines)
	s.connectionDuration.Record(int64(time.Since(start) / time.Second))
}

// Connected records how long the consumer went without a stream.
func (s *StreamMetrics) Connected(noConnectionSince time.Time) {
	s.noConnectionDuration.Record(time.Since(noConnectionSince).Milliseconds())
}

// ConnectionFailed counts a session that ended with an error, whether or not
// the connection retries it.
func (s *StreamMetrics) ConnectionFailed() {
	s.connectionFailures.Mark(1)
}

func (s *StreamMetrics) KeepAliveReceived() {
	s.keepAlivesPerSecond.Mark(1)
}

func (s *StreamMetrics) LineReceived(bytes int) {
	s.linesPerSecond.Mark(1)
	s.bytesPerSecond.Mark(int64(bytes))
	s.bytesPerLine.Record(int64(bytes))
}

func (s *StreamMetrics) Tick() {
	s.linesPerSecond.Tick()
	s.bytesPerSecond.Tick()
	s.keepAlivesPerSecond.Tick()
	s.batchesDroppedPerSecond.Tick()
	s.connectionFailures.Tick()
}

func (s *StreamMetrics) Stats() StreamStats {
	return StreamStats{
		LinesPerSecond:              s.linesPerSecond.Snapshot(),
		BytesPerLine:                s.bytesPerLine.Snapshot(),
		BytesPerSecond:              s.bytesPerSecond.Snapshot(),
		KeepAlivesPerSecond:         s.keepAlivesPerSecond.Snapshot(),
		LinesPerConnection:          s.linesPerConnection.Snapshot(),
		ConnectionDuration:          s.connectionDuration.Snapshot(),
		NoConnectionDuration:        s.noConnectionDuration.Snapshot(),
		BatchesDroppedPerSecond:     s.batchesDroppedPerSecond.Snapshot(),
		ConnectionFailuresPerSecond: s.connectionFailures.Snapshot(),
	}
}

/* ───────────────────────── checkpointing ───────────────────────── */

type CheckpointingMetrics struct {
	checkpointsPerSecond           *Meter
	checkpointingDurations         *Histogram
	checkpointingErrorsPerSecond   *Meter
	checkpointingFailuresPerSecond *Meter
	checkpointingFailuresDurations *Histogram
}

func NewCheckpointingMetrics() *CheckpointingMetrics {
	return &CheckpointingMetrics{
		checkpointsPerSecond:           NewMeter(),
		checkpointingDurations:         NewHistogram("checkpointing.durations", maxCheckpointingMillis),
		checkpointingErrorsPerSecond:   NewMeter(),
		checkpointingFailuresPerSecond: NewMeter(),
		checkpointingFailuresDurations: NewHistogram("checkpointing.failures_durations", maxCheckpointFailedMillis),
	}
}

// Checkpointed records a successful commit attempt.
func (c *CheckpointingMetrics) Checkpointed(start time.Time) {
	c.checkpointsPerSecond.Mark(1)
	c.checkpointingDurations.Record(time.Since(start).Milliseconds())
}

// CheckpointingFailed records a single failed commit attempt.
func (c *CheckpointingMetrics) CheckpointingFailed(start time.Time) {
	c.checkpointingFailuresPerSecond.Mark(1)
	c.checkpointingFailuresDurations.Record(time.Since(start).Milliseconds())
}

// CheckpointingError records a cursor that ended up not committed.
func (c *CheckpointingMetrics) CheckpointingError() {
	c.checkpointingErrorsPerSecond.Mark(1)
}

func (c *CheckpointingMetrics) Tick() {
	c.checkpointsPerSecond.Tick()
	c.checkpointingErrorsPerSecond.Tick()
	c.checkpointingFailuresPerSecond.Tick()
}

func (c *CheckpointingMetrics) Stats() CheckpointingStats {
	return CheckpointingStats{
		CheckpointsPerSecond:           c.checkpointsPerSecond.Snapshot(),
		CheckpointingDurations:         c.checkpointingDurations.Snapshot(),
		CheckpointingErrorsPerSecond:   c.checkpointingErrorsPerSecond.Snapshot(),
		CheckpointingFailuresPerSecond: c.checkpointingFailuresPerSecond.Snapshot(),
		CheckpointingFailuresDurations: c.checkpointingFailuresDurations.Snapshot(),
	}
}
