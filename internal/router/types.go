package router

import (
	"encoding/json"
	"time"

	"github.com/rickgao/fabsync/internal/model"
)

// Topic routes published events to interested subscribers.
type Topic string

// Topics consumed by the sync core. Frames with any other type are routed
// under their own type as RawEvent.
const (
	TopicConnection   Topic = "connection"
	TopicError        Topic = "error"
	TopicOrderUpdate  Topic = "order_update"
	TopicDispatch     Topic = "dispatch"
	TopicPayment      Topic = "payment"
	TopicNotification Topic = "notification"
	TopicPong         Topic = "pong"
	TopicMessage      Topic = "message" // Frames without a type
)

// Event is a routed message. The concrete type is fixed per topic.
type Event interface {
	Topic() Topic
}

// ConnectionStatus is the push connection status carried by ConnectionEvent.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// ConnectionEvent is published on open and close of the push connection.
type ConnectionEvent struct {
	Status ConnectionStatus
	Code   int    // Close code (disconnected only)
	Reason string // Close reason (disconnected only)
}

// ErrorEvent is published on transport-level errors.
type ErrorEvent struct {
	Err error
}

// OrderUpdateEvent reports a new status for an order.
type OrderUpdateEvent struct {
	OrderID   string            `json:"orderId"`
	NewStatus model.OrderStatus `json:"newStatus"`
	UpdatedAt time.Time         `json:"updatedAt"` // Zero if the server omitted it
}

// DispatchEvent carries the dispatch sub-object of an order.
type DispatchEvent struct {
	OrderID  string
	Dispatch model.Dispatch
}

// PaymentEvent carries the payment sub-object of an order.
type PaymentEvent struct {
	OrderID string
	Payment model.Payment
}

// NotificationEvent carries a full notification.
type NotificationEvent struct {
	Notification model.Notification
}

// PongEvent is the server's heartbeat reply.
type PongEvent struct{}

// RawEvent is a frame whose type the sync core does not interpret.
type RawEvent struct {
	Type string
	Data json.RawMessage
}

func (ConnectionEvent) Topic() Topic   { return TopicConnection }
func (ErrorEvent) Topic() Topic        { return TopicError }
func (OrderUpdateEvent) Topic() Topic  { return TopicOrderUpdate }
func (DispatchEvent) Topic() Topic     { return TopicDispatch }
func (PaymentEvent) Topic() Topic      { return TopicPayment }
func (NotificationEvent) Topic() Topic { return TopicNotification }
func (PongEvent) Topic() Topic         { return TopicPong }

func (e RawEvent) Topic() Topic {
	if e.Type == "" {
		return TopicMessage
	}
	return Topic(e.Type)
}

// Stats contains router statistics.
type Stats struct {
	Published     int64
	Delivered     int64
	Unrouted      int64 // Published with no subscriber on the topic
	HandlerPanics int64
	Subscriptions map[Topic]int
}

// Wire types for JSON parsing

// envelope is the outer frame format.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// dispatchWire accepts the dispatch object either nested under "dispatch"
// or flattened into data next to orderId.
type dispatchWire struct {
	OrderID  string          `json:"orderId"`
	Dispatch *model.Dispatch `json:"dispatch"`
}

// paymentWire accepts the payment object nested or flattened.
type paymentWire struct {
	OrderID string         `json:"orderId"`
	Payment *model.Payment `json:"payment"`
}
