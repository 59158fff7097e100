package telemetry

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"

	"subflow/internal/logging"
)

const significantFigures = 3

// Histogram records a value distribution up to a fixed ceiling. Values above
// the ceiling are recorded as the ceiling; recording never fails.
type Histogram struct {
	name    string
	ceiling int64

	mu       sync.Mutex
	h        *hdrhistogram.Histogram
	min, max int64
}

func NewHistogram(name string, ceiling int64) *Histogram {
	return &Histogram{
		name:    name,
		ceiling: ceiling,
		h:       hdrhistogram.New(1, ceiling, significantFigures),
	}
}

func (h *Histogram) Ceiling() int64 { return h.ceiling }

func (h *Histogram) Record(v int64) {
	if v < 0 {
		v = 0
	}
	if v > h.ceiling {
		logging.L().Info("histogram value above ceiling; recording ceiling",
			"histogram", h.name, "value", v, "ceiling", h.ceiling)
		v = h.ceiling
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.h.RecordValue(v); err != nil {
		logging.L().Warn("histogram rejected value; skipping",
			"histogram", h.name, "value", v, "err", err)
		return
	}
	if h.h.TotalCount() == 1 || v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HistogramSnapshot{
		Count:  h.h.TotalCount(),
		Min:    h.min,
		Max:    h.max,
		Mean:   h.h.Mean(),
		StdDev: h.h.StdDev(),
		Low:    h.h.LowestTrackableValue(),
		High:   h.h.HighestTrackableValue(),
		SigFig: h.h.SignificantFigures(),
		Percentiles: Percentiles{
			P75:   h.h.ValueAtQuantile(75),
			P95:   h.h.ValueAtQuantile(95),
			P98:   h.h.ValueAtQuantile(98),
			P99:   h.h.ValueAtQuantile(99),
			P999:  h.h.ValueAtQuantile(99.9),
			P9999: h.h.ValueAtQuantile(99.99),
		},
	}
}
