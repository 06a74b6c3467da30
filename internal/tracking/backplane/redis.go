// Package backplane relays published events between hub instances over Redis
// pub/sub so a watcher connected to one instance receives events published on
// another. Delivery is best effort, like local fan-out.
package backplane

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trackhub/internal/tracking/dispatch"
	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "trackhub:events"

// LocalPublisher delivers an event to this instance's connections without
// forwarding it again.
type LocalPublisher interface {
	PublishLocal(ctx context.Context, event models.Event) (dispatch.Delivery, error)
}

type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// Redis is a ports.Forwarder and the subscriber loop that feeds peer events
// back into the local dispatcher.
type Redis struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	local      LocalPublisher
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures the backplane.
type Option func(*Redis)

func WithChannel(channel string) Option {
	return func(r *Redis) {
		if channel != "" {
			r.channel = channel
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Redis) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Redis) { r.metrics = m }
}

// New creates a backplane. The local publisher may be attached later with
// Attach, since the dispatcher is built with the backplane as its forwarder.
func New(client redis.UniversalClient, opts ...Option) *Redis {
	r := &Redis{
		client:     client,
		channel:    DefaultChannel,
		instanceID: uuid.NewString(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach sets the dispatcher that receives peer events.
func (r *Redis) Attach(local LocalPublisher) {
	r.local = local
}

// InstanceID identifies this hub instance on the channel.
func (r *Redis) InstanceID() string { return r.instanceID }

// Forward publishes an event for peer instances.
func (r *Redis) Forward(ctx context.Context, event models.Event) error {
	payload, err := r.encode(event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to backplane: %w", err)
	}
	return nil
}

// Run subscribes to the channel and delivers peer events until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to backplane: %w", err)
	}
	r.logger.Info("backplane subscribed",
		zap.String("channel", r.channel),
		zap.String("instance_id", r.instanceID),
	)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (r *Redis) encode(event models.Event) ([]byte, error) {
	record, err := models.MarshalEvent(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Origin: r.instanceID, Event: record})
}

// handle delivers one peer message. Messages this instance published are
// ignored; malformed messages are logged and dropped.
func (r *Redis) handle(ctx context.Context, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("malformed backplane message", zap.Error(err))
		return
	}
	if env.Origin == r.instanceID || r.local == nil {
		return
	}
	event, err := models.UnmarshalEvent(env.Event)
	if err != nil {
		r.logger.Warn("undecodable backplane event", zap.String("origin", env.Origin), zap.Error(err))
		return
	}
	if _, err := r.local.PublishLocal(ctx, event); err != nil {
		r.logger.Warn("deliver backplane event failed", zap.Error(err))
		return
	}
	r.metrics.IncrementBackplaneReceived()
}
