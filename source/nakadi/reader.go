package nakadi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"subflow/internal/telemetry"
)

// Frame is one decoded stream line: either a batch or a keep-alive.
type Frame struct {
	Batch     *Batch
	KeepAlive bool
}

type wireFrame struct {
	Cursor *Cursor            `json:"cursor"`
	Events *[]json.RawMessage `json:"events"`
	Info   json.RawMessage    `json:"info"`
}

// BatchReader decodes newline-delimited batch frames.
type BatchReader struct {
	metrics *telemetry.StreamMetrics
}

func NewBatchReader(m *telemetry.StreamMetrics) *BatchReader {
	return &BatchReader{metrics: m}
}

// DecodeLine decodes a single line without its trailing newline. Blank lines
// and frames without events are keep-alives.
func (r *BatchReader) DecodeLine(line []byte) (Frame, error) {
	r.metrics.LineReceived(len(line))

	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		r.metrics.KeepAliveReceived()
		return Frame{KeepAlive: true}, nil
	}

	var wf wireFrame
	if err := json.Unmarshal(trimmed, &wf); err != nil {
		return Frame{}, newError(KindInvalidResponse, "malformed batch frame", err)
	}
	if wf.Cursor == nil {
		return Frame{}, newError(KindInvalidResponse, "batch frame without cursor", ErrInvalidFrame)
	}
	if wf.Cursor.Partition == "" || wf.Cursor.Offset == "" {
		return Frame{}, newError(KindInvalidResponse,
			fmt.Sprintf("incomplete cursor %q/%q", wf.Cursor.Partition, wf.Cursor.Offset), ErrInvalidFrame)
	}
	if wf.Events == nil || len(*wf.Events) == 0 {
		r.metrics.KeepAliveReceived()
		return Frame{KeepAlive: true}, nil
	}

	return Frame{Batch: &Batch{
		Cursor:     *wf.Cursor,
		Events:     *wf.Events,
		Info:       wf.Info,
		Bytes:      len(line),
		ReceivedAt: time.Now(),
	}}, nil
}
