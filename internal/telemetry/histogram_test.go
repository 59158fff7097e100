package telemetry

import (
	"sync"
	"testing"
)

func TestHistogram_RecordWithinCeiling(t *testing.T) {
	h := NewHistogram("test", 1_000)
	for _, v := range []int64{3, 500, 1_000} {
		h.Record(v)
		if got := h.Snapshot().Max; got < v {
			t.Fatalf("after recording %d want max >= %d, got %d", v, v, got)
		}
	}
	s := h.Snapshot()
	if s.Count != 3 {
		t.Fatalf("want count 3, got %d", s.Count)
	}
	if s.Min != 3 {
		t.Fatalf("want min 3, got %d", s.Min)
	}
}

func TestHistogram_ClampsAboveCeiling(t *testing.T) {
	h := NewHistogram("test", 1_000)
	h.Record(10)
	h.Record(1_000_000)

	s := h.Snapshot()
	if s.Max != 1_000 {
		t.Fatalf("want clamped max 1000, got %d", s.Max)
	}
	if s.Count != 2 {
		t.Fatalf("clamped value must still be counted, got count %d", s.Count)
	}
	if s.High < 1_000 {
		t.Fatalf("want high >= ceiling, got %d", s.High)
	}
}

func TestHistogram_NegativeRecordedAsZero(t *testing.T) {
	h := NewHistogram("test", 100)
	h.Record(-5)
	s := h.Snapshot()
	if s.Count != 1 || s.Min != 0 || s.Max != 0 {
		t.Fatalf("unexpected snapshot for negative value: %+v", s)
	}
}

func TestHistogram_Percentiles(t *testing.T) {
	h := NewHistogram("test", 10_000)
	for v := int64(1); v <= 100; v++ {
		h.Record(v)
	}
	p := h.Snapshot().Percentiles
	if p.P75 < 74 || p.P75 > 76 {
		t.Fatalf("p75 out of range: %d", p.P75)
	}
	if p.P99 < 98 || p.P99 > 100 {
		t.Fatalf("p99 out of range: %d", p.P99)
	}
	if p.P9999 < p.P99 {
		t.Fatalf("percentiles must be ordered: p99=%d p9999=%d", p.P99, p.P9999)
	}
}

func TestHistogram_EmptySnapshot(t *testing.T) {
	s := NewHistogram("test", 100).Snapshot()
	if s.Count != 0 || s.Min != 0 || s.Max != 0 {
		t.Fatalf("want zero snapshot, got %+v", s)
	}
}

func TestHistogram_ConcurrentRecordAndSnapshot(t *testing.T) {
	h := NewHistogram("test", 1_000)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1_000; j++ {
				h.Record(int64(j))
				if j%100 == 0 {
					_ = h.Snapshot()
				}
			}
		}()
	}
	wg.Wait()
	if got := h.Snapshot().Count; got != 8_000 {
		t.Fatalf("want 8000 recordings, got %d", got)
	}
}
