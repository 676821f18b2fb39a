package recorder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DefaultLocationTopic = "gps-data"
	DefaultEventTopic    = "transit-events"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink exports samples and lifecycle events to Kafka. Messages are keyed
// by driver (samples) or route (events) so per-key order is kept within a
// partition.
type KafkaSink struct {
	w             messageWriter
	locationTopic string
	eventTopic    string
}

type KafkaConfig struct {
	Brokers       []string
	LocationTopic string
	EventTopic    string
	BatchTimeout  time.Duration
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	if cfg.LocationTopic == "" {
		cfg.LocationTopic = DefaultLocationTopic
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = DefaultEventTopic
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{w: w, locationTopic: cfg.LocationTopic, eventTopic: cfg.EventTopic}
}

func (*KafkaSink) Name() string { return "kafka" }

type kafkaEnvelope struct {
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"receivedAt"`
	Data       any       `json:"data"`
}

func (k *KafkaSink) Write(ctx context.Context, batch []Record) error {
	msgs, err := k.messages(batch)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	return k.w.WriteMessages(ctx, msgs...)
}

func (k *KafkaSink) messages(batch []Record) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, r := range batch {
		var (
			topic, key string
			data       any
		)
		switch {
		case r.Location != nil:
			topic, key, data = k.locationTopic, string(r.Location.DriverID), r.Location
		case r.Event != nil:
			topic, key, data = k.eventTopic, string(r.Event.Route()), r.Event
		default:
			continue
		}
		v, err := json.Marshal(kafkaEnvelope{Type: r.Kind(), ReceivedAt: r.ReceivedAt, Data: data})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{Topic: topic, Key: []byte(key), Value: v, Time: r.ReceivedAt})
	}
	return msgs, nil
}

func (k *KafkaSink) Close() error { return k.w.Close() }
