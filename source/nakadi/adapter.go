package nakadi

import (
	"context"
	"io"
)

// Stream is an open event stream. Body yields newline-delimited frames.
type Stream struct {
	ID   StreamID
	Body io.ReadCloser
}

// Transport is the broker capability the consumer needs. Implementations
// report non-2xx responses as *Error (see FromStatus); any other error is
// classified as a connection failure.
type Transport interface {
	OpenStream(ctx context.Context, sub SubscriptionID, token string) (*Stream, error)
	Commit(ctx context.Context, req CommitRequest, token string) error
}

// Driver is a Transport that is built from Config by name through the
// registry.
type Driver interface {
	Transport
	Configure(Config) error
	Close() error
}

// EmitFunc receives every batch read from the stream. It must not block.
type EmitFunc func(*Batch)
