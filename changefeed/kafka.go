package changefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/verdant/ordernotify/cfg"
)

const sourceKafka = "kafka"

const (
	DefaultKafkaMinBytes = 1
	DefaultKafkaMaxBytes = 1 << 20 // 1MB
	kafkaRetryDelay      = time.Second
)

func init() {
	RegisterListener(sourceKafka, func(config cfg.ChangeFeedConfiguration, decoder Decoder) (Listener, error) {
		return NewKafkaListener(KafkaConfig{
			Brokers:     config.Brokers,
			GroupID:     config.GroupID,
			TopicPrefix: config.TopicPrefix,
		}, decoder)
	})
}

// KafkaConfig holds configuration for KafkaListener
type KafkaConfig struct {
	Brokers     []string // Kafka broker addresses
	GroupID     string   // Consumer group, offsets are committed per group
	TopicPrefix string   // Topics are <prefix>.<schema>.<table>
	MinBytes    int
	MaxBytes    int
}

// messageReader is the part of *kafka.Reader the listener uses
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaListener consumes change events from one topic per subscription
type KafkaListener struct {
	config    KafkaConfig
	decoder   Decoder
	newReader func(topic string) messageReader

	mu      sync.Mutex
	readers []messageReader
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewKafkaListener validates config; readers are created on Subscribe
func NewKafkaListener(config KafkaConfig, decoder Decoder) (*KafkaListener, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka change feed requires at least one broker address")
	}
	if config.GroupID == "" {
		return nil, fmt.Errorf("kafka change feed requires group_id")
	}
	if config.MinBytes == 0 {
		config.MinBytes = DefaultKafkaMinBytes
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = DefaultKafkaMaxBytes
	}

	l := &KafkaListener{config: config, decoder: decoder}
	l.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  l.config.Brokers,
			GroupID:  l.config.GroupID,
			Topic:    topic,
			MinBytes: l.config.MinBytes,
			MaxBytes: l.config.MaxBytes,
		})
	}
	return l, nil
}

// Subscribe implements Listener. Kafka topics cannot be globbed, so sub
// must name a concrete schema and table.
func (l *KafkaListener) Subscribe(ctx context.Context, sub Subscription, cb Callback) error {
	if strings.ContainsAny(sub.Schema+sub.Table, "*?[{") || sub.Schema == "" || sub.Table == "" {
		return fmt.Errorf("kafka change feed needs an exact schema and table, got %q.%q", sub.Schema, sub.Table)
	}

	m, err := newMatcher(sub)
	if err != nil {
		return err
	}

	topic := topicFor(l.config.TopicPrefix, sub)
	reader := l.newReader(topic)
	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.readers = append(l.readers, reader)
	l.cancels = append(l.cancels, cancel)
	l.mu.Unlock()

	l.wg.Add(1)
	go l.consume(ctx, topic, reader, m, cb)

	log.Info().
		Str("topic", topic).
		Str("group_id", l.config.GroupID).
		Msg("Subscribed to Kafka change feed")
	return nil
}

func (l *KafkaListener) consume(ctx context.Context, topic string, reader messageReader, m *matcher, cb Callback) {
	defer l.wg.Done()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to read from Kafka change feed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(kafkaRetryDelay):
			}
			continue
		}

		deliver(sourceKafka, l.decoder, m, msg.Value, cb)
	}
}

// Close stops every consumer and closes the readers
func (l *KafkaListener) Close() error {
	l.mu.Lock()
	readers, cancels := l.readers, l.cancels
	l.readers, l.cancels = nil, nil
	l.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	l.wg.Wait()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
