package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// WakeupSource delivers wake-up messages published by the enqueuer
type WakeupSource interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// setupConsumer starts consuming wake-ups with the configured prefetch
func (r *Runner) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := r.wakeups.Consume(r.cfg.ConsumerTag, r.cfg.PrefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	r.logger.Info("Wake-up consumer started",
		slog.String("consumer_tag", r.cfg.ConsumerTag),
		slog.Int("prefetch_count", r.cfg.PrefetchCount),
	)
	return deliveries, nil
}

// startWakeupListener turns each valid wake-up into a dispatch trigger.
// Messages are acked right away: losing one only delays a job until the next
// scheduled run.
func (r *Runner) startWakeupListener(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("Wake-up delivery channel closed")
				return
			}
			r.handleDelivery(delivery)
		}
	}
}

func (r *Runner) handleDelivery(delivery amqp.Delivery) {
	var msg domain.WakeupMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		r.logger.Error("Failed to parse wake-up message",
			slog.Any("error", err),
			slog.String("body", string(delivery.Body)),
		)
		// Malformed messages go to the dead letter exchange, if any
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			r.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
		}
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		r.logger.Error("Invalid job_id in wake-up message",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			r.logger.Error("Failed to NACK message with invalid job_id", slog.Any("error", nackErr))
		}
		return
	}

	r.Trigger()

	if err := delivery.Ack(false); err != nil {
		r.logger.Error("Failed to ACK wake-up message",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
		return
	}

	r.logger.Debug("Wake-up received",
		slog.String("job_id", msg.JobID),
		slog.String("type", string(msg.Type)),
	)
}
