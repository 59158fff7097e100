package nakadi

import (
	"encoding/json"
	"strings"
	"time"
)

type SubscriptionID string

// StreamID is assigned by the broker when a stream is opened. Commits must
// name the stream that delivered the cursor.
type StreamID string

// Cursor is a broker-assigned position within one partition of an event
// type. Offsets are opaque; see CompareOffsets for their ordering.
type Cursor struct {
	Partition   string `json:"partition"`
	Offset      string `json:"offset"`
	EventType   string `json:"event_type,omitempty"`
	CursorToken string `json:"cursor_token,omitempty"`
}

// PartitionKey identifies the partition the cursor belongs to.
func (c Cursor) PartitionKey() string {
	if c.EventType == "" {
		return c.Partition
	}
	return c.EventType + "/" + c.Partition
}

func (c Cursor) String() string {
	return c.PartitionKey() + "@" + c.Offset
}

const offsetBegin = "BEGIN"

// CompareOffsets orders two offsets of the same partition. BEGIN sorts
// first; otherwise the broker hands out fixed-width offsets, so a shorter
// offset is older and equal lengths compare bytewise.
func CompareOffsets(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == offsetBegin:
		return -1
	case b == offsetBegin:
		return 1
	case len(a) != len(b):
		if len(a) < len(b) {
			return -1
		}
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// Batch is one delivery unit read from a stream.
type Batch struct {
	StreamID   StreamID
	Cursor     Cursor
	Events     []json.RawMessage
	Info       json.RawMessage
	Bytes      int
	ReceivedAt time.Time
}

// CommitRequest asks the broker to acknowledge everything up to Cursor.
type CommitRequest struct {
	Subscription SubscriptionID
	Stream       StreamID
	Cursor       Cursor
}
