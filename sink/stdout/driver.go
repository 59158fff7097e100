package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"subflow/sink"
	"subflow/source/nakadi"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS       int  `yaml:"delay_ms"`        // artificial per-batch delay
	PrintCounter  bool `yaml:"print_counter"`   // prepend seq#
	PrintValue    bool `yaml:"print_value"`     // print every event
	ValueMaxBytes int  `yaml:"value_max_bytes"` // 0 = unlimited

	Out io.Writer `yaml:"-"` // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu  sync.Mutex // serialises writes so lines from workers never interleave
	seq atomic.Uint64
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Handle(ctx context.Context, b *nakadi.Batch) error {
	if d.cfg.DelayMS > 0 {
		t := time.NewTimer(time.Duration(d.cfg.DelayMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prefix := "[sink]"
	if d.cfg.PrintCounter {
		prefix = fmt.Sprintf("[sink %06d]", d.seq.Add(1))
	}
	if _, err := fmt.Fprintf(d.cfg.Out, "%s %s stream=%s events=%d bytes=%d\n",
		prefix, b.Cursor, b.StreamID, len(b.Events), b.Bytes); err != nil {
		return err
	}
	if !d.cfg.PrintValue {
		return nil
	}
	for i, ev := range b.Events {
		v := []byte(ev)
		if n := d.cfg.ValueMaxBytes; n > 0 && len(v) > n {
			v = append(v[:n:n], "..."...)
		}
		if _, err := fmt.Fprintf(d.cfg.Out, "  #%d %s\n", i, v); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
