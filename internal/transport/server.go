package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"subflow/internal/logging"
	"subflow/internal/telemetry"
	"subflow/source/nakadi"
)

const (
	// ConsumerService is the health service name tracking the stream.
	ConsumerService = "subflow.v1.Consumer"

	controlService = "subflow.v1.Control"
	statsMethod    = "/" + controlService + "/Stats"
)

// StatsSource is anything that can snapshot the consumer metrics.
type StatsSource interface {
	Stats() telemetry.Stats
}

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// NewServer registers the health and control services. stats may be nil
// when no consumer is configured.
func NewServer(stats StatsSource, opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.grpc.RegisterService(&controlServiceDesc, &control{stats: stats})
	s.health.SetServingStatus(ConsumerService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func StartServer(port int, stats StatsSource) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	s := NewServer(stats)
	s.lis = lis
	return s, nil
}

// Serve blocks until Stop. Stopping before Serve starts is not an error.
func (s *Server) Serve() error {
	if err := s.grpc.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// SetConsumerState maps the connection state onto the consumer health
// service: serving only while a stream is open.
func (s *Server) SetConsumerState(st nakadi.State) {
	hs := healthpb.HealthCheckResponse_NOT_SERVING
	if st == nakadi.Streaming {
		hs = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ConsumerService, hs)
	logging.Component("transport").Debug("consumer health", "state", st.String(), "health", hs.String())
}

// ----- control service ----------------------------------------------------

type ControlServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type control struct {
	stats StatsSource
}

func (c *control) Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	if c.stats == nil {
		return nil, status.Error(codes.Unavailable, "no consumer configured")
	}
	raw, err := json.Marshal(c.stats.Stats())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	out, err := structpb.NewStruct(tree)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	return out, nil
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: controlService,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "subflow/v1/control.proto",
}
