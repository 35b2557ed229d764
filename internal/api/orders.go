package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/rickgao/fabsync/internal/model"
)

// ErrEmptyOrder is returned when the server answers without an order.
var ErrEmptyOrder = errors.New("response contains no order")

// orderResponse is the wrapped form of GET /orders/{id}.
type orderResponse struct {
	Order *model.Order `json:"order"`
}

// GetOrder fetches the authoritative snapshot of one order.
func (c *Client) GetOrder(ctx context.Context, id string) (model.Order, error) {
	if id == "" {
		return model.Order{}, errors.New("order id is required")
	}

	body, err := c.get(ctx, "/orders/"+url.PathEscape(id))
	if err != nil {
		return model.Order{}, err
	}

	order, err := decodeOrder(body)
	if err != nil {
		return model.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return order, nil
}

// decodeOrder accepts both {"order": {...}} and a bare order object.
func decodeOrder(body []byte) (model.Order, error) {
	var wrapped orderResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return model.Order{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if wrapped.Order != nil {
		if wrapped.Order.ID == "" {
			return model.Order{}, ErrEmptyOrder
		}
		return *wrapped.Order, nil
	}

	var order model.Order
	if err := json.Unmarshal(bytes.TrimSpace(body), &order); err != nil {
		return model.Order{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if order.ID == "" {
		return model.Order{}, ErrEmptyOrder
	}
	return order, nil
}
