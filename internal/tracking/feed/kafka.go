// Package feed adapts external event sources to the hub: business events from
// Kafka and telematics positions from MQTT.
package feed

import (
	"context"

	"go.uber.org/zap"

	"trackhub/internal/platform/kafka"
	"trackhub/internal/tracking/dispatch"
	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
	dErrors "trackhub/pkg/domain-errors"
)

const sourceKafka = "kafka"

// Publisher accepts business events.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) (dispatch.Delivery, error)
}

// EventHandler turns Kafka records of the form {"kind", "payload"} into
// published tracking events. Undecodable records are logged and skipped so
// a poison message cannot stall the partition.
type EventHandler struct {
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewEventHandler creates the Kafka record handler.
func NewEventHandler(publisher Publisher, logger *zap.Logger, m *metrics.Metrics) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{publisher: publisher, logger: logger, metrics: m}
}

// Handle implements kafka.Handler.
func (h *EventHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	event, err := models.UnmarshalEvent(msg.Value)
	if err != nil {
		h.skip(msg, err)
		return nil
	}
	if _, err := h.publisher.Publish(ctx, event); err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			return err
		}
		h.skip(msg, err)
		return nil
	}
	h.metrics.IncrementFeedEvents(sourceKafka, "published")
	return nil
}

func (h *EventHandler) skip(msg *kafka.Message, err error) {
	h.metrics.IncrementFeedEvents(sourceKafka, "skipped")
	h.logger.Warn("skipping kafka record",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("key", string(msg.Key)),
		zap.Error(err),
	)
}
