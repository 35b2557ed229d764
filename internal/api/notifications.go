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

// notificationsResponse is the wrapped form of GET /notifications.
type notificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
}

// ListNotifications fetches the user's notifications, newest first as
// returned by the server.
func (c *Client) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	body, err := c.get(ctx, "/notifications")
	if err != nil {
		return nil, err
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []model.Notification
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		return list, nil
	}

	var resp notificationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.Notifications, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("notification id is required")
	}
	return c.patch(ctx, "/notifications/"+url.PathEscape(id)+"/read")
}

// MarkAllNotificationsRead marks every notification as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.patch(ctx, "/notifications/read-all")
}
