package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"subflow/internal/engine"
	"subflow/internal/logging"
	"subflow/internal/transport"
	"subflow/source/nakadi"
)

func main() {
	logging.InitFromEnv()
	nakadi.Register("http", func() nakadi.Driver { return &nakadi.HTTPDriver{} })

	rootCmd := &cobra.Command{
		Use:   "subflow",
		Short: "Subscription stream consumer",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Consume the subscription described by a consumer spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, _ := cmd.Flags().GetString("pipeline")
			grpcPort, _ := cmd.Flags().GetInt("grpc-port")
			metricsPort, _ := cmd.Flags().GetInt("metrics-port")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logJSON, _ := cmd.Flags().GetBool("log-json")
			if logLevel != "" || logJSON {
				logging.Configure(logging.Options{Level: logLevel, JSON: logJSON})
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := engine.Bootstrap(ctx, engine.Config{
				GRPCPort:    grpcPort,
				MetricsPort: metricsPort,
				PipelineYml: pipeline,
			})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			if err := e.Run(ctx); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			return nil
		},
	}
	runCmd.Flags().String("pipeline", "consumer.yml", "Consumer spec file")
	runCmd.Flags().Int("grpc-port", 7070, "Control plane gRPC port")
	runCmd.Flags().Int("metrics-port", 9100, "Prometheus /metrics port, 0 disables")
	runCmd.Flags().String("log-level", os.Getenv("SUBFLOW_LOG_LEVEL"), "Log level: debug|info|warn|error")
	runCmd.Flags().Bool("log-json", false, "Log as JSON")
	rootCmd.AddCommand(runCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the metrics of a running consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			c, err := transport.Dial(addr)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			health, err := c.ConsumerHealth(ctx)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			st, err := c.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "consumer:", health.String())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	statsCmd.Flags().String("addr", "127.0.0.1:7070", "Control plane address")
	statsCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
