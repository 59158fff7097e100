package nakadi

import (
	"context"
	"io"
	"strings"
	"sync"
)

// fakeTransport scripts broker responses for tests.
type fakeTransport struct {
	mu      sync.Mutex
	opens   int
	commits []CommitRequest
	open    func(n int) (*Stream, error)
	commit  func(n int, req CommitRequest) error
}

func (f *fakeTransport) OpenStream(ctx context.Context, _ SubscriptionID, _ string) (*Stream, error) {
	f.mu.Lock()
	f.opens++
	n := f.opens
	f.mu.Unlock()
	if f.open == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.open(n)
}

func (f *fakeTransport) Commit(_ context.Context, req CommitRequest, _ string) error {
	f.mu.Lock()
	f.commits = append(f.commits, req)
	n := len(f.commits)
	f.mu.Unlock()
	if f.commit == nil {
		return nil
	}
	return f.commit(n, req)
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeTransport) committed() []CommitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CommitRequest(nil), f.commits...)
}

func stringStream(id, body string) *Stream {
	return &Stream{ID: StreamID(id), Body: io.NopCloser(strings.NewReader(body))}
}
