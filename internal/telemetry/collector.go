package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "subflow"

type meterDesc struct {
	total *prometheus.Desc
	rate  *prometheus.Desc
	get   func(Stats) MeterSnapshot
}

type histogramDesc struct {
	desc *prometheus.Desc
	get  func(Stats) HistogramSnapshot
}

// Collector exports a Metrics snapshot tree to Prometheus. Every scrape takes
// one Stats snapshot; nothing is ticked or reset.
type Collector struct {
	metrics    *Metrics
	meters     []meterDesc
	histograms []histogramDesc
}

func NewCollector(m *Metrics) *Collector {
	c := &Collector{metrics: m}

	c.meter("handler", "batches", "Batches handed to the handler.", func(s Stats) MeterSnapshot { return s.Handler.BatchesPerSecond })
	c.meter("handler", "bytes", "Bytes handed to the handler.", func(s Stats) MeterSnapshot { return s.Handler.BytesPerSecond })
	c.meter("handler", "failures", "Batches the handler failed.", func(s Stats) MeterSnapshot { return s.Handler.FailuresPerSecond })
	c.histogram("handler", "bytes_per_batch", "Batch size in bytes.", func(s Stats) HistogramSnapshot { return s.Handler.BytesPerBatch })
	c.histogram("handler", "processing_duration_microseconds", "Handler invocation latency.", func(s Stats) HistogramSnapshot { return s.Handler.ProcessingDurations })

	c.meter("stream", "lines", "Lines read from the stream.", func(s Stats) MeterSnapshot { return s.Stream.LinesPerSecond })
	c.meter("stream", "bytes", "Bytes read from the stream.", func(s Stats) MeterSnapshot { return s.Stream.BytesPerSecond })
	c.meter("stream", "keep_alives", "Keep-alive frames received.", func(s Stats) MeterSnapshot { return s.Stream.KeepAlivesPerSecond })
	c.meter("stream", "batches_dropped", "Batches received but not handled.", func(s Stats) MeterSnapshot { return s.Stream.BatchesDroppedPerSecond })
	c.meter("stream", "connection_failures", "Streaming sessions that ended with an error.", func(s Stats) MeterSnapshot { return s.Stream.ConnectionFailuresPerSecond })
	c.histogram("stream", "bytes_per_line", "Line size in bytes.", func(s Stats) HistogramSnapshot { return s.Stream.BytesPerLine })
	c.histogram("stream", "lines_per_connection", "Lines received per streaming session.", func(s Stats) HistogramSnapshot { return s.Stream.LinesPerConnection })
	c.histogram("stream", "connection_duration_seconds", "Streaming session length.", func(s Stats) HistogramSnapshot { return s.Stream.ConnectionDuration })
	c.histogram("stream", "no_connection_duration_milliseconds", "Time spent without a stream.", func(s Stats) HistogramSnapshot { return s.Stream.NoConnectionDuration })

	c.meter("checkpointing", "checkpoints", "Successful commit attempts.", func(s Stats) MeterSnapshot { return s.Checkpointing.CheckpointsPerSecond })
	c.meter("checkpointing", "errors", "Cursors that were not committed.", func(s Stats) MeterSnapshot { return s.Checkpointing.CheckpointingErrorsPerSecond })
	c.meter("checkpointing", "failures", "Failed commit attempts.", func(s Stats) MeterSnapshot { return s.Checkpointing.CheckpointingFailuresPerSecond })
	c.histogram("checkpointing", "duration_milliseconds", "Successful commit latency.", func(s Stats) HistogramSnapshot { return s.Checkpointing.CheckpointingDurations })
	c.histogram("checkpointing", "failure_duration_milliseconds", "Failed commit latency.", func(s Stats) HistogramSnapshot { return s.Checkpointing.CheckpointingFailuresDurations })

	return c
}

func (c *Collector) meter(group, name, help string, get func(Stats) MeterSnapshot) {
	c.meters = append(c.meters, meterDesc{
		total: prometheus.NewDesc(prometheus.BuildFQName(namespace, group, name+"_total"), help, nil, nil),
		rate:  prometheus.NewDesc(prometheus.BuildFQName(namespace, group, name+"_rate"), help+" Per second.", []string{"window"}, nil),
		get:   get,
	})
}

func (c *Collector) histogram(group, name, help string, get func(Stats) HistogramSnapshot) {
	c.histograms = append(c.histograms, histogramDesc{
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, group, name), help, nil, nil),
		get:  get,
	})
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.meters {
		ch <- m.total
		ch <- m.rate
	}
	for _, h := range c.histograms {
		ch <- h.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.metrics.Stats()
	for _, m := range c.meters {
		s := m.get(stats)
		ch <- prometheus.MustNewConstMetric(m.total, prometheus.CounterValue, float64(s.Count))
		ch <- prometheus.MustNewConstMetric(m.rate, prometheus.GaugeValue, s.OneMinuteRate, "1m")
		ch <- prometheus.MustNewConstMetric(m.rate, prometheus.GaugeValue, s.FiveMinuteRate, "5m")
		ch <- prometheus.MustNewConstMetric(m.rate, prometheus.GaugeValue, s.FifteenMinuteRate, "15m")
		ch <- prometheus.MustNewConstMetric(m.rate, prometheus.GaugeValue, s.Mean, "mean")
	}
	for _, h := range c.histograms {
		s := h.get(stats)
		p := s.Percentiles
		ch <- prometheus.MustNewConstSummary(h.desc, uint64(s.Count), s.Mean*float64(s.Count), map[float64]float64{
			0.75:   float64(p.P75),
			0.95:   float64(p.P95),
			0.98:   float64(p.P98),
			0.99:   float64(p.P99),
			0.999:  float64(p.P999),
			0.9999: float64(p.P9999),
		})
	}
}
