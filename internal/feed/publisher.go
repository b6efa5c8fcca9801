// Package feed streams committed transactions to Kafka so downstream
// consumers (zone generation, WHOIS, billing) can follow the commit log
// without polling the store. Records are keyed by entity group, which
// preserves per-group commit order within a partition.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"zonecore/internal/commitlog"
)

// Publisher emits committed transactions for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, tx commitlog.Transaction) error
	Close()
}

// KafkaPublisher publishes transactions to a single topic via franz-go.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher connects to the brokers and ensures the topic exists.
// Topic creation is idempotent; an already-exists response is not an
// error.
func NewKafkaPublisher(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 6, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}

	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// Publish produces the transaction synchronously, keyed by group id.
func (p *KafkaPublisher) Publish(ctx context.Context, tx commitlog.Transaction) error {
	value, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction %s: %w", tx.ID, err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(tx.GroupID),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// NopPublisher discards transactions. Used when no brokers are
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, commitlog.Transaction) error { return nil }
func (NopPublisher) Close()                                               {}
