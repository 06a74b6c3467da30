package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
	dErrors "trackhub/pkg/domain-errors"
)

const (
	sourceMQTT = "mqtt"

	// DefaultTelematicsTopic carries one position per message; the wildcard
	// level is the vehicle id.
	DefaultTelematicsTopic = "trackhub/vehicles/+/position"
)

// Ingester accepts position reports on behalf of an identity.
type Ingester interface {
	Ingest(ctx context.Context, identity models.Identity, report models.PositionReport) (*models.VehicleSnapshot, error)
}

type telematicsPayload struct {
	CompanyID int64   `json:"companyId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
}

// Telematics ingests positions published by vehicle trackers over MQTT. It
// acts with a service identity, so reports are trusted for every vehicle.
type Telematics struct {
	ingester Ingester
	identity models.Identity
	topic    string
	qos      byte
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewTelematics creates the MQTT position feed.
func NewTelematics(ingester Ingester, topic string, logger *zap.Logger, m *metrics.Metrics) *Telematics {
	if topic == "" {
		topic = DefaultTelematicsTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telematics{
		ingester: ingester,
		identity: models.Identity{Subject: "telematics-feed", Role: models.RoleService},
		topic:    topic,
		timeout:  5 * time.Second,
		logger:   logger,
		metrics:  m,
	}
}

// OnConnect subscribes to the telematics topic. Pass it to the MQTT client so
// the subscription survives reconnects.
func (t *Telematics) OnConnect(client paho.Client) {
	token := client.Subscribe(t.topic, t.qos, t.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		t.logger.Error("subscribe telematics topic failed", zap.String("topic", t.topic), zap.Error(err))
		return
	}
	t.logger.Info("subscribed to telematics topic", zap.String("topic", t.topic))
}

func (t *Telematics) onMessage(_ paho.Client, msg paho.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.Handle(ctx, msg.Topic(), msg.Payload()); err != nil {
		t.metrics.IncrementFeedEvents(sourceMQTT, string(dErrors.CodeOf(err)))
		t.logger.Debug("telematics report rejected",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
		return
	}
	t.metrics.IncrementFeedEvents(sourceMQTT, "accepted")
}

// Handle ingests one telematics message.
func (t *Telematics) Handle(ctx context.Context, topic string, payload []byte) error {
	vehicle, err := vehicleFromTopic(topic)
	if err != nil {
		return err
	}
	var p telematicsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed telematics payload")
	}
	_, err = t.ingester.Ingest(ctx, t.identity, models.PositionReport{
		VehicleID: vehicle,
		CompanyID: models.CompanyID(p.CompanyID),
		Lat:       p.Lat,
		Lng:       p.Lng,
		Speed:     p.Speed,
		Heading:   p.Heading,
	})
	return err
}

// vehicleFromTopic extracts the id from trackhub/vehicles/<id>/position.
func vehicleFromTopic(topic string) (models.VehicleID, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "unexpected telematics topic "+topic)
	}
	raw, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, "unexpected telematics topic "+topic)
	}
	return models.ParseVehicleID(raw)
}
