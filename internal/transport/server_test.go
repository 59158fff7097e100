package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"subflow/internal/telemetry"
	"subflow/source/nakadi"
)

const bufSize = 1 << 20

func dialer(s *grpc.Server) func(context.Context, string) (net.Conn, error) {
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.Serve(lis) }()
	return func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
}

func connect(t *testing.T, stats StatsSource) (*Server, *Client, context.Context) {
	t.Helper()
	srv := NewServer(stats)
	t.Cleanup(srv.Stop)
	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(dialer(srv.grpc)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return srv, c, ctx
}

func TestStatsOverGRPC(t *testing.T) {
	m := telemetry.NewMetrics()
	m.Stream.KeepAliveReceived()
	m.Stream.KeepAliveReceived()
	m.Handler.BatchReceived(512)
	m.Checkpointing.CheckpointingError()

	_, c, ctx := connect(t, m)
	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Stream.KeepAlivesPerSecond.Count != 2 {
		t.Fatalf("want 2 keep-alives, got %d", st.Stream.KeepAlivesPerSecond.Count)
	}
	if st.Handler.BytesPerBatch.Max != 512 || st.Handler.BytesPerBatch.SigFig != 3 {
		t.Fatalf("unexpected histogram %+v", st.Handler.BytesPerBatch)
	}
	if st.Checkpointing.CheckpointingErrorsPerSecond.Count != 1 {
		t.Fatalf("unexpected checkpointing stats %+v", st.Checkpointing)
	}
}

func TestStatsWithoutConsumer(t *testing.T) {
	_, c, ctx := connect(t, nil)
	_, err := c.Stats(ctx)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("want Unavailable, got %v", err)
	}
}

func TestConsumerHealthFollowsState(t *testing.T) {
	srv, c, ctx := connect(t, telemetry.NewMetrics())

	got, err := c.ConsumerHealth(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("want NOT_SERVING before streaming, got %s", got)
	}

	srv.SetConsumerState(nakadi.Streaming)
	if got, _ = c.ConsumerHealth(ctx); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("want SERVING while streaming, got %s", got)
	}

	srv.SetConsumerState(nakadi.Reconnecting)
	if got, _ = c.ConsumerHealth(ctx); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("want NOT_SERVING while reconnecting, got %s", got)
	}
}
