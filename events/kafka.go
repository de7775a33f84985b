package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultCommitTopic is where commit events land unless overridden.
const DefaultCommitTopic = "keel.commits"

// KafkaPublisher ships commit events to Kafka so caches in other processes
// can invalidate too. Publishing is synchronous; a commit is not acknowledged
// to the caller until the event is on the wire.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// KafkaOption tweaks publisher construction.
type KafkaOption func(*KafkaPublisher)

// WithTopic overrides the commit topic.
func WithTopic(topic string) KafkaOption {
	return func(p *KafkaPublisher) {
		p.topic = topic
	}
}

// NewKafkaPublisher wraps an existing franz-go client. The caller owns the
// client lifecycle.
func NewKafkaPublisher(client *kgo.Client, opts ...KafkaOption) *KafkaPublisher {
	p := &KafkaPublisher{client: client, topic: DefaultCommitTopic}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *KafkaPublisher) PublishCommit(ctx context.Context, event CommitEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal commit event: %w", err)
	}

	record := &kgo.Record{Topic: p.topic, Value: payload}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce commit event: %w", err)
	}
	return nil
}
