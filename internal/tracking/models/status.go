package models

import dErrors "trackhub/pkg/domain-errors"

// OrderStatus is the closed set of shipment lifecycle states.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusAssigned       OrderStatus = "assigned"
	StatusPickedUp       OrderStatus = "picked_up"
	StatusInTransit      OrderStatus = "in_transit"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusFailed         OrderStatus = "failed"
	StatusReturned       OrderStatus = "returned"
	StatusCancelled      OrderStatus = "cancelled"
)

var statusMessages = map[OrderStatus]string{
	StatusPending:        "Order received",
	StatusAssigned:       "Driver assigned to your order",
	StatusPickedUp:       "Package picked up",
	StatusInTransit:      "Package is on its way",
	StatusOutForDelivery: "Out for delivery",
	StatusDelivered:      "Package delivered",
	StatusFailed:         "Delivery attempt failed",
	StatusReturned:       "Package returned to sender",
	StatusCancelled:      "Order cancelled",
}

// ParseOrderStatus rejects statuses outside the closed set.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := statusMessages[st]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown order status "+s)
	}
	return st, nil
}

// Message is the customer-facing description of the status.
func (s OrderStatus) Message() string {
	return statusMessages[s]
}
