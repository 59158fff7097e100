package telemetry

import (
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// TickInterval is the cadence Tick is expected to be called at. The EWMAs
// assume five second ticks when converting counts into per-second rates.
const TickInterval = 5 * time.Second

// Meter counts events and keeps exponentially weighted 1, 5 and 15 minute
// rates. Rates only move when Tick is called.
type Meter struct {
	count   atomic.Int64
	m1      gometrics.EWMA
	m5      gometrics.EWMA
	m15     gometrics.EWMA
	started time.Time
}

func NewMeter() *Meter {
	return &Meter{
		m1:      gometrics.NewEWMA1(),
		m5:      gometrics.NewEWMA5(),
		m15:     gometrics.NewEWMA15(),
		started: time.Now(),
	}
}

func (m *Meter) Mark(n int64) {
	m.count.Add(n)
	m.m1.Update(n)
	m.m5.Update(n)
	m.m15.Update(n)
}

func (m *Meter) Tick() {
	m.m1.Tick()
	m.m5.Tick()
	m.m15.Tick()
}

func (m *Meter) Snapshot() MeterSnapshot {
	count := m.count.Load()
	var mean float64
	if secs := time.Since(m.started).Seconds(); secs > 0 {
		mean = float64(count) / secs
	}
	return MeterSnapshot{
		Count:             count,
		OneMinuteRate:     m.m1.Rate(),
		FiveMinuteRate:    m.m5.Rate(),
		FifteenMinuteRate: m.m15.Rate(),
		Mean:              mean,
	}
}
