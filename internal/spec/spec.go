package spec

// KafkaSink configures the Kafka forwarding sink.
type KafkaSink struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks int16    `yaml:"required_acks"` // 0,1,-1
	ClientID     string   `yaml:"client_id"`
	Version      string   `yaml:"version"`
}

type sinkConfigs struct {
	Kafka KafkaSink `yaml:"kafka"`
}

type debugSection struct {
	PerBatchDelayMS int  `yaml:"per_batch_delay_ms"`
	PrintCounter    bool `yaml:"print_counter"`
	PrintValue      bool `yaml:"print_value"`
	ValueMaxBytes   int  `yaml:"value_max_bytes"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`   // "nakadi"
		Driver string `yaml:"driver"` // "http"
		Config string `yaml:"config"` // path to the source config, relative to this file
	} `yaml:"source"`

	// Sinks receive every batch in order; the cursor is committed once all
	// of them succeed.
	Sinks       []string     `yaml:"sinks"`
	SinkConfigs sinkConfigs  `yaml:"sink_configs"`
	Debug       debugSection `yaml:"debug"`
}
