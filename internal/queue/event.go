// Package queue defines the messages exchanged with the commerce side over
// RabbitMQ, the publisher for outgoing booking events and the consumer for
// incoming order events.
package queue

// Incoming order lifecycle events.
const (
	EventOrderPaid   = "order.paid"
	EventOrderVoided = "order.voided"
)

// Outgoing routing keys on the booking exchange.
const (
	KeyLineAdded        = "cart.line_added"
	KeyLineRemoved      = "cart.line_removed"
	KeyBookingConfirmed = "booking.confirmed"
)

// ProductCourtSlot tags order line items that stand for one court hour.
const ProductCourtSlot = "court_slot"

// OrderLineItem is one unit of an order.  Only court_slot items carry the
// (date, court, time) triplet of a reservation.
type OrderLineItem struct {
	ProductType string `json:"product_type" validate:"required"`
	Date        string `json:"date,omitempty"`
	CourtID     int    `json:"court_id,omitempty"`
	TimeLabel   string `json:"time_label,omitempty"`
}

// OrderEvent is delivered by the commerce collaborator whenever an order
// reaches a terminal payment state.  order.voided covers cancellation,
// failure and refund.
type OrderEvent struct {
	Event      string          `json:"event" validate:"required,oneof=order.paid order.voided"`
	OrderID    string          `json:"order_id" validate:"required,max=128"`
	CustomerID string          `json:"customer_id" validate:"omitempty,max=128"`
	LineItems  []OrderLineItem `json:"line_items" validate:"dive"`
}

// CartLineEvent asks the cart collaborator to add or remove the line item
// tagged with SlotKey.
type CartLineEvent struct {
	EventID    string `json:"event_id"`
	CustomerID string `json:"customer_id"`
	SlotKey    string `json:"slot_key"`
	Date       string `json:"date"`
	CourtID    int    `json:"court_id"`
	CourtName  string `json:"court_name,omitempty"`
	TimeLabel  string `json:"time_label"`
	Price      string `json:"price,omitempty"`
	Currency   string `json:"currency,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// BookingConfirmedEvent is published once an order's slots are confirmed.
type BookingConfirmedEvent struct {
	EventID     string   `json:"event_id"`
	OrderID     string   `json:"order_id"`
	CustomerID  string   `json:"customer_id,omitempty"`
	SlotKeys    []string `json:"slot_keys"`
	Spans       []string `json:"spans"`
	ConfirmedAt string   `json:"confirmed_at"`
}
