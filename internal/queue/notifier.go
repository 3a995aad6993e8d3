package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// Publisher sends a message body to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// BrokerNotifier publishes wake-up messages through a message broker
type BrokerNotifier struct {
	publisher Publisher
}

// NewBrokerNotifier creates a new BrokerNotifier
func NewBrokerNotifier(publisher Publisher) *BrokerNotifier {
	return &BrokerNotifier{publisher: publisher}
}

// Notify publishes msg as JSON
func (n *BrokerNotifier) Notify(ctx context.Context, msg domain.WakeupMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal wake-up message: %w", err)
	}
	return n.publisher.PublishWithRetry(ctx, body, "application/json")
}
