package models

import (
	"encoding/json"
	"fmt"
	"time"

	dErrors "trackhub/pkg/domain-errors"
)

// EventKind enumerates the TrackingEvent variants.
type EventKind uint8

const (
	KindOrderStatusChanged EventKind = iota + 1
	KindDriverLocationChanged
	KindDeliveryCompleted
	KindPhotoUploaded
	KindVehicleLocationChanged
)

var kindNames = map[EventKind]string{
	KindOrderStatusChanged:     "OrderStatusChanged",
	KindDriverLocationChanged:  "DriverLocationChanged",
	KindDeliveryCompleted:      "DeliveryCompleted",
	KindPhotoUploaded:          "PhotoUploaded",
	KindVehicleLocationChanged: "VehicleLocationChanged",
}

// pushMethods are the client-facing frame types for each kind.
var pushMethods = map[EventKind]string{
	KindOrderStatusChanged:     MethodOrderStatusUpdated,
	KindDriverLocationChanged:  MethodDriverLocationUpdated,
	KindDeliveryCompleted:      MethodDeliveryCompleted,
	KindPhotoUploaded:          MethodPhotoUploaded,
	KindVehicleLocationChanged: MethodReceiveLocationUpdate,
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Method is the frame type pushed to subscribed connections.
func (k EventKind) Method() string {
	return pushMethods[k]
}

// ParseEventKind maps a kind name back to its enum value.
func ParseEventKind(name string) (EventKind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, dErrors.New(dErrors.CodeInvalidInput, "unknown event kind "+name)
}

// Event is a tracking event. The set of implementations is closed to this
// package; consumers switch over the concrete types.
type Event interface {
	Kind() EventKind
	OccurredAt() time.Time
	validate() error
}

// OrderStatusChanged is emitted when a shipment moves between lifecycle states.
type OrderStatusChanged struct {
	OrderID   ShipmentID   `json:"orderId"`
	OldStatus OrderStatus  `json:"oldStatus"`
	NewStatus OrderStatus  `json:"newStatus"`
	Message   string       `json:"message"`
	Location  *Coordinates `json:"location,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// DriverLocationChanged is the position of the driver carrying a shipment.
type DriverLocationChanged struct {
	OrderID   ShipmentID `json:"orderId"`
	DriverID  DriverID   `json:"driverId"`
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Timestamp time.Time  `json:"timestamp"`
}

// DeliveryCompleted closes a shipment with proof of delivery.
type DeliveryCompleted struct {
	OrderID   ShipmentID `json:"orderId"`
	PhotoURL  string     `json:"photoUrl,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// PhotoUploaded announces a new photo attached to a shipment.
type PhotoUploaded struct {
	OrderID    ShipmentID `json:"orderId"`
	PhotoType  string     `json:"photoType"`
	PhotoURL   string     `json:"photoUrl"`
	UploadedBy string     `json:"uploadedBy"`
	Timestamp  time.Time  `json:"timestamp"`
}

// VehicleLocationChanged is a fleet position tick, scoped to a company group.
type VehicleLocationChanged struct {
	VehicleID VehicleID `json:"vehicleId"`
	CompanyID CompanyID `json:"companyId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

func (OrderStatusChanged) Kind() EventKind     { return KindOrderStatusChanged }
func (DriverLocationChanged) Kind() EventKind  { return KindDriverLocationChanged }
func (DeliveryCompleted) Kind() EventKind      { return KindDeliveryCompleted }
func (PhotoUploaded) Kind() EventKind          { return KindPhotoUploaded }
func (VehicleLocationChanged) Kind() EventKind { return KindVehicleLocationChanged }

func (e OrderStatusChanged) OccurredAt() time.Time     { return e.Timestamp }
func (e DriverLocationChanged) OccurredAt() time.Time  { return e.Timestamp }
func (e DeliveryCompleted) OccurredAt() time.Time      { return e.Timestamp }
func (e PhotoUploaded) OccurredAt() time.Time          { return e.Timestamp }
func (e VehicleLocationChanged) OccurredAt() time.Time { return e.Timestamp }

// NewOrderStatusChanged validates the transition and fills in the status message.
func NewOrderStatusChanged(order ShipmentID, from, to OrderStatus, loc *Coordinates, at time.Time) (OrderStatusChanged, error) {
	e := OrderStatusChanged{
		OrderID:   order,
		OldStatus: from,
		NewStatus: to,
		Message:   to.Message(),
		Timestamp: at.UTC(),
	}
	if loc != nil {
		c := *loc
		e.Location = &c
	}
	return e, e.validate()
}

func (e OrderStatusChanged) validate() error {
	if e.OrderID <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "orderId must be a positive integer")
	}
	if _, err := ParseOrderStatus(string(e.NewStatus)); err != nil {
		return err
	}
	if e.OldStatus != "" {
		if _, err := ParseOrderStatus(string(e.OldStatus)); err != nil {
			return err
		}
	}
	if e.Location != nil {
		return e.Location.Validate()
	}
	return nil
}

func (e DriverLocationChanged) validate() error {
	if e.OrderID <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "orderId must be a positive integer")
	}
	if e.DriverID <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "driverId must be a positive integer")
	}
	return Coordinates{Lat: e.Lat, Lng: e.Lng}.Validate()
}

func (e DeliveryCompleted) validate() error {
	if e.OrderID <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "orderId must be a positive integer")
	}
	return nil
}

func (e PhotoUploaded) validate() error {
	if e.OrderID <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "orderId must be a positive integer")
	}
	if e.PhotoType == "" || e.PhotoURL == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "photoType and photoUrl are required")
	}
	return nil
}

func (e VehicleLocationChanged) validate() error {
	if e.VehicleID <= 0 || e.CompanyID <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "vehicleId and companyId must be positive integers")
	}
	return Coordinates{Lat: e.Lat, Lng: e.Lng}.Validate()
}

// Validate checks any event variant.
func Validate(e Event) error {
	if e == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "event is required")
	}
	return e.validate()
}

// eventRecord is the interchange form used by feeds and the backplane.
type eventRecord struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalEvent encodes an event with its kind tag.
func MarshalEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}
	return json.Marshal(eventRecord{Kind: e.Kind().String(), Payload: payload})
}

// UnmarshalEvent decodes a tagged record produced by MarshalEvent or by the
// business layer.
func UnmarshalEvent(data []byte) (Event, error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed event record")
	}
	return DecodeEvent(rec.Kind, rec.Payload)
}

// DecodeEvent decodes and validates a payload of the named kind. A zero
// timestamp is stamped with now.
func DecodeEvent(kindName string, payload json.RawMessage) (Event, error) {
	kind, err := ParseEventKind(kindName)
	if err != nil {
		return nil, err
	}
	var e Event
	switch kind {
	case KindOrderStatusChanged:
		var v OrderStatusChanged
		err = json.Unmarshal(payload, &v)
		if v.Timestamp.IsZero() {
			v.Timestamp = time.Now().UTC()
		}
		v.Message = v.NewStatus.Message()
		e = v
	case KindDriverLocationChanged:
		var v DriverLocationChanged
		err = json.Unmarshal(payload, &v)
		if v.Timestamp.IsZero() {
			v.Timestamp = time.Now().UTC()
		}
		e = v
	case KindDeliveryCompleted:
		var v DeliveryCompleted
		err = json.Unmarshal(payload, &v)
		if v.Timestamp.IsZero() {
			v.Timestamp = time.Now().UTC()
		}
		e = v
	case KindPhotoUploaded:
		var v PhotoUploaded
		err = json.Unmarshal(payload, &v)
		if v.Timestamp.IsZero() {
			v.Timestamp = time.Now().UTC()
		}
		e = v
	case KindVehicleLocationChanged:
		var v VehicleLocationChanged
		err = json.Unmarshal(payload, &v)
		if v.Timestamp.IsZero() {
			v.Timestamp = time.Now().UTC()
		}
		e = v
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported event kind "+kindName)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed "+kindName+" payload")
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}
