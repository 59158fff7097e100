package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"subflow/sink"
	"subflow/source/nakadi"
)

type Config struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Acks     int16    `yaml:"required_acks"` // 0,1,-1
	ClientID string   `yaml:"client_id"`
	Version  string   `yaml:"version"`
}

type driver struct {
	cfg Config
	p   sarama.SyncProducer
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return errors.New("kafka-sink: brokers and topic are required")
	}
	d.cfg = cfg

	sc, err := saramaConfig(cfg)
	if err != nil {
		return err
	}
	d.p, err = sarama.NewSyncProducer(cfg.Brokers, sc)
	return err
}

func saramaConfig(cfg Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true // required by SyncProducer
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka-sink: version: %w", err)
		}
		sc.Version = v
	}
	return sc, nil
}

// Handle forwards every event of the batch, keyed by partition so events of
// one broker partition land in one Kafka partition in order.
func (d *driver) Handle(ctx context.Context, b *nakadi.Batch) error {
	if len(b.Events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(b.Events))
	key := sarama.StringEncoder(b.Cursor.PartitionKey())
	for _, ev := range b.Events {
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: d.cfg.Topic,
			Key:   key,
			Value: sarama.ByteEncoder(ev),
			Headers: []sarama.RecordHeader{
				{Key: []byte("nakadi-partition"), Value: []byte(b.Cursor.Partition)},
				{Key: []byte("nakadi-offset"), Value: []byte(b.Cursor.Offset)},
			},
		})
	}
	if err := d.p.SendMessages(msgs); err != nil {
		return fmt.Errorf("kafka-sink: send %d events for %s: %w", len(msgs), b.Cursor, err)
	}
	return nil
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	p := d.p
	d.p = nil
	return p.Close()
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
