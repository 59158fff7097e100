package telemetry

// MeterSnapshot is a point-in-time copy of a Meter. Rates are per second.
type MeterSnapshot struct {
	Count             int64   `json:"count"`
	OneMinuteRate     float64 `json:"one_minute_rate"`
	FiveMinuteRate    float64 `json:"five_minute_rate"`
	FifteenMinuteRate float64 `json:"fifteen_minute_rate"`
	Mean              float64 `json:"mean"`
}

type Percentiles struct {
	P75   int64 `json:"p75"`
	P95   int64 `json:"p95"`
	P98   int64 `json:"p98"`
	P99   int64 `json:"p99"`
	P999  int64 `json:"p999"`
	P9999 int64 `json:"p9999"`
}

// HistogramSnapshot is a point-in-time copy of a Histogram.
type HistogramSnapshot struct {
	Count       int64       `json:"count"`
	Min         int64       `json:"min"`
	Max         int64       `json:"max"`
	Mean        float64     `json:"mean"`
	StdDev      float64     `json:"std_dev"`
	Low         int64       `json:"low"`
	High        int64       `json:"high"`
	SigFig      int64       `json:"sigfig"`
	Percentiles Percentiles `json:"percentiles"`
}

type HandlerStats struct {
	BatchesPerSecond    MeterSnapshot     `json:"batches_per_second"`
	BytesPerSecond      MeterSnapshot     `json:"bytes_per_second"`
	FailuresPerSecond   MeterSnapshot     `json:"failures_per_second"`
	BytesPerBatch       HistogramSnapshot `json:"bytes_per_batch"`
	ProcessingDurations HistogramSnapshot `json:"processing_durations"`
}

type StreamStats struct {
	LinesPerSecond              MeterSnapshot     `json:"lines_per_second"`
	BytesPerLine                HistogramSnapshot `json:"bytes_per_line"`
	BytesPerSecond              MeterSnapshot     `json:"bytes_per_second"`
	KeepAlivesPerSecond         MeterSnapshot     `json:"keep_alives_per_second"`
	LinesPerConnection          HistogramSnapshot `json:"lines_per_connection"`
	ConnectionDuration          HistogramSnapshot `json:"connection_duration"`
	NoConnectionDuration        HistogramSnapshot `json:"no_connection_duration"`
	BatchesDroppedPerSecond     MeterSnapshot     `json:"batches_dropped_per_second"`
	ConnectionFailuresPerSecond MeterSnapshot     `json:"connection_failures_per_second"`
}

type CheckpointingStats struct {
	CheckpointsPerSecond           MeterSnapshot     `json:"checkpoints_per_second"`
	CheckpointingDurations         HistogramSnapshot `json:"checkpointing_durations"`
	CheckpointingErrorsPerSecond   MeterSnapshot     `json:"checkpointing_errors_per_second"`
	CheckpointingFailuresPerSecond MeterSnapshot     `json:"checkpointing_failures_per_second"`
	CheckpointingFailuresDurations HistogramSnapshot `json:"checkpointing_failures_durations"`
}

// Stats is the full snapshot tree returned by Metrics.Stats.
type Stats struct {
	Handler       HandlerStats       `json:"handler"`
	Stream        StreamStats        `json:"stream"`
	Checkpointing CheckpointingStats `json:"checkpointing"`
}
