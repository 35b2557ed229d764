package router

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors
var (
	ErrMissingData    = errors.New("missing data")
	ErrMissingOrderID = errors.New("missing orderId")
)

// Decode parses a push frame into a typed event. Frames that are not JSON,
// or whose payload does not match their type, return an error; the caller
// logs and drops them.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch Topic(env.Type) {
	case TopicOrderUpdate:
		return decodeOrderUpdate(env.Data)
	case TopicDispatch:
		return decodeDispatch(env.Data)
	case TopicPayment:
		return decodePayment(env.Data)
	case TopicNotification:
		return decodeNotification(env.Data)
	case TopicPong:
		return PongEvent{}, nil
	default:
		return RawEvent{Type: env.Type, Data: env.Data}, nil
	}
}

func hasData(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func decodeOrderUpdate(raw json.RawMessage) (Event, error) {
	if !hasData(raw) {
		return nil, fmt.Errorf("order_update: %w", ErrMissingData)
	}
	var evt OrderUpdateEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("order_update: %w", err)
	}
	if evt.OrderID == "" {
		return nil, fmt.Errorf("order_update: %w", ErrMissingOrderID)
	}
	if !evt.NewStatus.Valid() {
		return nil, fmt.Errorf("order_update: unknown status %q", evt.NewStatus)
	}
	return evt, nil
}

func decodeDispatch(raw json.RawMessage) (Event, error) {
	if !hasData(raw) {
		return nil, fmt.Errorf("dispatch: %w", ErrMissingData)
	}
	var wire dispatchWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if wire.OrderID == "" {
		return nil, fmt.Errorf("dispatch: %w", ErrMissingOrderID)
	}

	evt := DispatchEvent{OrderID: wire.OrderID}
	if wire.Dispatch != nil {
		evt.Dispatch = *wire.Dispatch
	} else if err := json.Unmarshal(raw, &evt.Dispatch); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	return evt, nil
}

func decodePayment(raw json.RawMessage) (Event, error) {
	if !hasData(raw) {
		return nil, fmt.Errorf("payment: %w", ErrMissingData)
	}
	var wire paymentWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}
	if wire.OrderID == "" {
		return nil, fmt.Errorf("payment: %w", ErrMissingOrderID)
	}

	evt := PaymentEvent{OrderID: wire.OrderID}
	if wire.Payment != nil {
		evt.Payment = *wire.Payment
	} else if err := json.Unmarshal(raw, &evt.Payment); err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}
	return evt, nil
}

func decodeNotification(raw json.RawMessage) (Event, error) {
	if !hasData(raw) {
		return nil, fmt.Errorf("notification: %w", ErrMissingData)
	}
	var evt NotificationEvent
	if err := json.Unmarshal(raw, &evt.Notification); err != nil {
		return nil, fmt.Errorf("notification: %w", err)
	}
	if evt.Notification.ID == "" {
		return nil, errors.New("notification: missing id")
	}
	return evt, nil
}
