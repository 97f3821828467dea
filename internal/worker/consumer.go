package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/email-delivery/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer is the source of wake-up deliveries
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// StartWakeupConsumer subscribes to the wake-up queue and triggers an early
// tick for every "jobs enqueued" notification. Messages carry no job state,
// so they are acknowledged as soon as they are read.
func (w *Worker) StartWakeupConsumer(ctx context.Context, consumer Consumer) error {
	if !w.enter() {
		return fmt.Errorf("worker %s is stopped", w.workerID)
	}

	deliveries, err := consumer.Consume(w.workerID)
	if err != nil {
		w.wg.Done()
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Wake-up consumer started", slog.String("consumer_tag", w.workerID))

	go func() {
		defer w.wg.Done()
		w.dispatchWakeups(ctx, deliveries)
	}()

	return nil
}

// dispatchWakeups turns deliveries into Wake calls until the channel closes
func (w *Worker) dispatchWakeups(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Wake-up consumer stopped - context canceled")
			return
		case <-w.stopChan:
			return
		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				w.logger.Error("Failed to parse wake-up message",
					slog.Any("error", err),
					slog.Int("body_size", len(delivery.Body)),
				)
				// malformed messages go to the DLQ if one is bound
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
				}
				continue
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				w.logger.Error("Failed to ACK wake-up message", slog.Any("error", ackErr))
			}

			w.logger.Debug("Wake-up message received", slog.Int("job_count", len(msg.JobIDs)))
			w.Wake()
		}
	}
}
