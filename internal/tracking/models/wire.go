package models

import (
	"encoding/json"
	"fmt"
)

// Inbound frame types (client -> hub).
const (
	MethodSubscribeToOrder       = "SubscribeToOrder"
	MethodUnsubscribeFromOrder   = "UnsubscribeFromOrder"
	MethodJoinCompanyGroup       = "JoinCompanyGroup"
	MethodLeaveCompanyGroup      = "LeaveCompanyGroup"
	MethodUpdateLocation         = "UpdateLocation"
	MethodRequestVehicleLocation = "RequestVehicleLocation"
	MethodPing                   = "Ping"
)

// Outbound frame types (hub -> client).
const (
	MethodOrderSubscribed        = "OrderSubscribed"
	MethodOrderStatusUpdated     = "OrderStatusUpdated"
	MethodDriverLocationUpdated  = "DriverLocationUpdated"
	MethodDeliveryCompleted      = "DeliveryCompleted"
	MethodPhotoUploaded          = "PhotoUploaded"
	MethodReceiveCompanyVehicles = "ReceiveCompanyVehicles"
	MethodReceiveLocationUpdate  = "ReceiveLocationUpdate"
	MethodReceiveVehicleLocation = "ReceiveVehicleLocation"
	MethodReceiveError           = "ReceiveError"
	MethodPong                   = "Pong"
)

// Frame is the JSON envelope exchanged over the websocket in both directions.
// ID correlates a direct reply with the request that caused it.
type Frame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame serializes an outbound frame.
func EncodeFrame(method, id string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s frame: %w", method, err)
		}
		raw = b
	}
	return json.Marshal(Frame{Type: method, ID: id, Data: raw})
}

// EncodeEventFrame serializes an event as the frame pushed to watchers.
func EncodeEventFrame(e Event) ([]byte, error) {
	return EncodeFrame(e.Kind().Method(), "", e)
}

// SubscriptionAck is the direct reply to SubscribeToOrder.
type SubscriptionAck struct {
	ShipmentID ShipmentID `json:"shipmentId"`
	Confirmed  bool       `json:"confirmed"`
}

// VehicleLocationReply answers RequestVehicleLocation. Known is false and
// Position nil when the store has no report for the vehicle.
type VehicleLocationReply struct {
	VehicleID VehicleID        `json:"vehicleId"`
	Known     bool             `json:"known"`
	Position  *VehicleSnapshot `json:"position,omitempty"`
}

// ErrorReply is the payload of ReceiveError.
type ErrorReply struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Operation string `json:"operation,omitempty"`
}

// Request payloads.
type (
	OrderRequest struct {
		OrderID int64 `json:"orderId"`
	}
	CompanyRequest struct {
		CompanyID int64 `json:"companyId"`
	}
	VehicleRequest struct {
		VehicleID int64 `json:"vehicleId"`
	}
	LocationRequest struct {
		VehicleID int64   `json:"vehicleId"`
		CompanyID int64   `json:"companyId,omitempty"`
		Lat       float64 `json:"lat"`
		Lng       float64 `json:"lng"`
		Speed     float64 `json:"speed"`
		Heading   float64 `json:"heading"`
	}
)
