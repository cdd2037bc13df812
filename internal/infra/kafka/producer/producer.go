package producer

import (
	"context"
	"encoding/json"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-gateway/internal/config"
	"github.com/aliskhannn/image-gateway/internal/model"
)

// Producer represents a Kafka producer.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	cfg      *config.Kafka
}

// New creates a new Producer.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(
	cfg *config.Kafka,
	s retry.Strategy,
) *Producer {
	producer := wbfkafka.NewProducer(cfg.Brokers, cfg.Topic)

	return &Producer{
		Client:   producer,
		cfg:      cfg,
		strategy: s,
	}
}

// Produce serializes the warm request to JSON and sends it to Kafka.
// The object path is used as the message key so warm requests for one object stay ordered.
func (p *Producer) Produce(ctx context.Context, req model.WarmRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal warm request: %w", err)
	}

	key := []byte(req.Bucket + "/" + req.Key)

	if err = p.Client.SendWithRetry(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send warm request: %w", err)
	}

	return nil
}
