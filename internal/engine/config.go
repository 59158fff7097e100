package engine

type Config struct {
	GRPCPort    int
	MetricsPort int    // 0 disables the /metrics endpoint
	PipelineYml string // consumer spec, optional
}
