package pipeline

import (
	"fmt"

	"subflow/internal/config"
	"subflow/internal/telemetry"
	"subflow/sink"
	"subflow/sink/kafka"
	"subflow/sink/stdout"
	"subflow/source/nakadi"
)

func Compile(path string, m *telemetry.Metrics) (*Runner, error) {
	r := NewRunner(m)
	if err := LoadYAML(path, r); err != nil {
		_ = r.Discard()
		return nil, err
	}
	return r, nil
}

func LoadYAML(path string, r *Runner) error {
	cfg, confPath, err := config.LoadConsumerSpec(path)
	if err != nil {
		return err
	}

	if cfg.Source.Kind != "nakadi" {
		return fmt.Errorf("unsupported source %q", cfg.Source.Kind)
	}
	nc, err := config.LoadNakadiConfig(confPath)
	if err != nil {
		return err
	}

	src, err := nakadi.NewDriver(cfg.Source.Driver)
	if err != nil {
		return err
	}
	if err = src.Configure(nc); err != nil {
		return err
	}
	r.SetSource(nc, src, nakadi.TokenFromConfig(nc.Token))

	for _, name := range cfg.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return err
		}

		switch name {
		case "stdout":
			err = sDrv.Configure(stdout.Config{
				DelayMS:       cfg.Debug.PerBatchDelayMS,
				PrintCounter:  cfg.Debug.PrintCounter,
				PrintValue:    cfg.Debug.PrintValue,
				ValueMaxBytes: cfg.Debug.ValueMaxBytes,
			})

		case "kafka":
			k := cfg.SinkConfigs.Kafka
			err = sDrv.Configure(kafka.Config{
				Brokers:  k.Brokers,
				Topic:    k.Topic,
				Acks:     k.RequiredAcks,
				ClientID: k.ClientID,
				Version:  k.Version,
			})

		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			return fmt.Errorf("sink %s: %w", name, err)
		}
		r.AddSink(sDrv)
	}
	return nil
}
