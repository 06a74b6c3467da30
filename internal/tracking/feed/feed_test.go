package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackhub/internal/platform/kafka"
	"trackhub/internal/tracking/dispatch"
	"trackhub/internal/tracking/models"
	dErrors "trackhub/pkg/domain-errors"
)

type capturePublisher struct {
	events []models.Event
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, e models.Event) (dispatch.Delivery, error) {
	if c.err != nil {
		return dispatch.Delivery{}, c.err
	}
	c.events = append(c.events, e)
	return dispatch.Delivery{}, nil
}

type captureIngester struct {
	identity models.Identity
	reports  []models.PositionReport
}

func (c *captureIngester) Ingest(_ context.Context, identity models.Identity, r models.PositionReport) (*models.VehicleSnapshot, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	c.identity = identity
	c.reports = append(c.reports, r)
	return &models.VehicleSnapshot{VehicleID: r.VehicleID}, nil
}

func TestEventHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes decoded events", func(t *testing.T) {
		pub := &capturePublisher{}
		h := NewEventHandler(pub, nil, nil)

		err := h.Handle(ctx, &kafka.Message{Topic: "shipments", Value: []byte(
			`{"kind":"OrderStatusChanged","payload":{"orderId":42,"oldStatus":"assigned","newStatus":"picked_up"}}`)})
		require.NoError(t, err)
		require.Len(t, pub.events, 1)
		assert.Equal(t, models.KindOrderStatusChanged, pub.events[0].Kind())
	})

	t.Run("skips poison records", func(t *testing.T) {
		pub := &capturePublisher{}
		h := NewEventHandler(pub, nil, nil)

		assert.NoError(t, h.Handle(ctx, &kafka.Message{Value: []byte(`garbage`)}))
		assert.NoError(t, h.Handle(ctx, &kafka.Message{Value: []byte(`{"kind":"Unknown","payload":{}}`)}))
		assert.Empty(t, pub.events)
	})

	t.Run("internal publish failure stops the consumer", func(t *testing.T) {
		pub := &capturePublisher{err: errors.New("encode failed")}
		h := NewEventHandler(pub, nil, nil)

		err := h.Handle(ctx, &kafka.Message{Value: []byte(
			`{"kind":"DeliveryCompleted","payload":{"orderId":42}}`)})
		assert.Error(t, err)
	})
}

func TestTelematicsHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("ingests as the service identity", func(t *testing.T) {
		ing := &captureIngester{}
		feed := NewTelematics(ing, "", nil, nil)

		err := feed.Handle(ctx, "trackhub/vehicles/12/position", []byte(`{"companyId":7,"lat":52.1,"lng":4.3,"speed":40,"heading":270}`))
		require.NoError(t, err)
		require.Len(t, ing.reports, 1)
		assert.Equal(t, models.VehicleID(12), ing.reports[0].VehicleID)
		assert.Equal(t, models.CompanyID(7), ing.reports[0].CompanyID)
		assert.Equal(t, models.RoleService, ing.identity.Role)
	})

	t.Run("rejects bad topics and payloads", func(t *testing.T) {
		feed := NewTelematics(&captureIngester{}, "", nil, nil)

		err := feed.Handle(ctx, "trackhub/vehicles/abc/position", []byte(`{}`))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

		err = feed.Handle(ctx, "trackhub/vehicles/0/position", []byte(`{}`))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

		err = feed.Handle(ctx, "trackhub/vehicles/12/position", []byte(`{`))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

		err = feed.Handle(ctx, "trackhub/vehicles/12/position", []byte(`{"companyId":7,"lat":120,"lng":0}`))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
