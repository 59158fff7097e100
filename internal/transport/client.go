package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"subflow/internal/telemetry"
)

// Client talks to a running engine's control plane.
type Client struct {
	cc *grpc.ClientConn
}

func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc}, nil
}

func (c *Client) Close() error { return c.cc.Close() }

// Stats fetches the metrics tree.
func (c *Client) Stats(ctx context.Context) (telemetry.Stats, error) {
	var st telemetry.Stats
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statsMethod, &emptypb.Empty{}, out); err != nil {
		return st, err
	}
	raw, err := json.Marshal(out.AsMap())
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("decode stats: %w", err)
	}
	return st, nil
}

// ConsumerHealth reports whether the consumer is currently streaming.
func (c *Client) ConsumerHealth(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	res, err := healthpb.NewHealthClient(c.cc).Check(ctx, &healthpb.HealthCheckRequest{Service: ConsumerService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return res.GetStatus(), nil
}
