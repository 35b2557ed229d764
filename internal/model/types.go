package model

import (
	"time"
)

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

// OrderStatus is the server-persisted lifecycle status of an order.
type OrderStatus string

// Order statuses, in pipeline order.
const (
	StatusPending          OrderStatus = "pending"
	StatusConfirmed        OrderStatus = "confirmed"
	StatusInProduction     OrderStatus = "in_production"
	StatusReadyForDispatch OrderStatus = "ready_for_dispatch"
	StatusDispatched       OrderStatus = "dispatched"
	StatusDelivered        OrderStatus = "delivered"
	StatusCancelled        OrderStatus = "cancelled"
)

// statusOrder is the fixed progression used for ranking.
var statusOrder = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusInProduction,
	StatusReadyForDispatch,
	StatusDispatched,
	StatusDelivered,
}

// Statuses returns the pipeline statuses in order (cancelled excluded).
func Statuses() []OrderStatus {
	out := make([]OrderStatus, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// Rank returns the position of the status in the pipeline (pending = 0,
// delivered = 5), or -1 for cancelled and unknown values.
func (s OrderStatus) Rank() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a status the server can send.
func (s OrderStatus) Valid() bool {
	return s == StatusCancelled || s.Rank() >= 0
}

// AtLeast reports whether s has reached the given pipeline status.
// Cancelled and unknown statuses never reach anything.
func (s OrderStatus) AtLeast(other OrderStatus) bool {
	r := s.Rank()
	return r >= 0 && r >= other.Rank()
}

// Order is the server-authoritative order snapshot.
type Order struct {
	ID          string      `json:"id"`
	OrderNumber string      `json:"orderNumber,omitempty"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	ConfirmedAt *time.Time  `json:"confirmedAt,omitempty"`

	Quotation *Quotation `json:"quotation,omitempty"`
	Payment   *Payment   `json:"payment,omitempty"`
	Dispatch  *Dispatch  `json:"dispatch,omitempty"`
}

// Quotation is the priced response to the customer's inquiry.
type Quotation struct {
	ID          string     `json:"id,omitempty"`
	TotalAmount float64    `json:"totalAmount,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// Payment records the customer's payment for an order.
type Payment struct {
	ID     string     `json:"id,omitempty"`
	Status string     `json:"status,omitempty"`
	Amount float64    `json:"amount,omitempty"`
	PaidAt *time.Time `json:"paidAt,omitempty"`
}

// Dispatch records shipping of a finished order.
type Dispatch struct {
	ID                string     `json:"id,omitempty"`
	Carrier           string     `json:"carrier,omitempty"`
	TrackingNumber    string     `json:"trackingNumber,omitempty"`
	DispatchedAt      *time.Time `json:"dispatchedAt,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time `json:"actualDelivery,omitempty"`
}

// Clone returns a deep copy of the order. Cached snapshots are never mutated
// in place; updates are applied to a clone.
func (o Order) Clone() Order {
	out := o
	out.ConfirmedAt = cloneTime(o.ConfirmedAt)
	if o.Quotation != nil {
		q := *o.Quotation
		q.CreatedAt = cloneTime(q.CreatedAt)
		out.Quotation = &q
	}
	if o.Payment != nil {
		p := *o.Payment
		p.PaidAt = cloneTime(p.PaidAt)
		out.Payment = &p
	}
	if o.Dispatch != nil {
		d := *o.Dispatch
		d.DispatchedAt = cloneTime(d.DispatchedAt)
		d.EstimatedDelivery = cloneTime(d.EstimatedDelivery)
		d.ActualDelivery = cloneTime(d.ActualDelivery)
		out.Dispatch = &d
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// Notification is a user-facing alert about activity on the account.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
	OrderID   string    `json:"orderId,omitempty"` // Set for order-related notifications
}

// -----------------------------------------------------------------------------
// Status transitions
// -----------------------------------------------------------------------------

// TransitionSource identifies how a status change was observed.
type TransitionSource string

const (
	SourcePush TransitionSource = "ws"
	SourcePoll TransitionSource = "poll"
)

// StatusTransition is one observed change of an order's status.
type StatusTransition struct {
	OrderID    string
	From       OrderStatus // Empty on first observation
	To         OrderStatus
	Source     TransitionSource
	ObservedAt time.Time
}
