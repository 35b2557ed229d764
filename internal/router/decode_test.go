package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/fabsync/internal/model"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Event
		wantErr bool
	}{
		{
			name:  "order update",
			frame: `{"type":"order_update","data":{"orderId":"o1","newStatus":"dispatched"}}`,
			want:  OrderUpdateEvent{OrderID: "o1", NewStatus: model.StatusDispatched},
		},
		{
			name:  "order update with timestamp",
			frame: `{"type":"order_update","data":{"orderId":"o1","newStatus":"confirmed","updatedAt":"2025-01-02T10:00:00Z"}}`,
			want: OrderUpdateEvent{
				OrderID:   "o1",
				NewStatus: model.StatusConfirmed,
				UpdatedAt: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC),
			},
		},
		{
			name:    "order update unknown status",
			frame:   `{"type":"order_update","data":{"orderId":"o1","newStatus":"lost"}}`,
			wantErr: true,
		},
		{
			name:    "order update missing id",
			frame:   `{"type":"order_update","data":{"newStatus":"confirmed"}}`,
			wantErr: true,
		},
		{
			name:    "order update missing data",
			frame:   `{"type":"order_update"}`,
			wantErr: true,
		},
		{
			name:  "dispatch nested",
			frame: `{"type":"dispatch","data":{"orderId":"o1","dispatch":{"carrier":"DHL","trackingNumber":"T1"}}}`,
			want:  DispatchEvent{OrderID: "o1", Dispatch: model.Dispatch{Carrier: "DHL", TrackingNumber: "T1"}},
		},
		{
			name:  "dispatch flattened",
			frame: `{"type":"dispatch","data":{"orderId":"o1","carrier":"UPS"}}`,
			want:  DispatchEvent{OrderID: "o1", Dispatch: model.Dispatch{Carrier: "UPS"}},
		},
		{
			name:  "payment nested",
			frame: `{"type":"payment","data":{"orderId":"o2","payment":{"status":"paid","amount":12.5}}}`,
			want:  PaymentEvent{OrderID: "o2", Payment: model.Payment{Status: "paid", Amount: 12.5}},
		},
		{
			name:  "payment flattened",
			frame: `{"type":"payment","data":{"orderId":"o2","status":"failed"}}`,
			want:  PaymentEvent{OrderID: "o2", Payment: model.Payment{Status: "failed"}},
		},
		{
			name:    "payment missing id",
			frame:   `{"type":"payment","data":{"status":"paid"}}`,
			wantErr: true,
		},
		{
			name:  "notification",
			frame: `{"type":"notification","data":{"id":"n1","type":"order","title":"T","message":"M","read":false}}`,
			want: NotificationEvent{Notification: model.Notification{
				ID: "n1", Type: "order", Title: "T", Message: "M",
			}},
		},
		{
			name:    "notification missing id",
			frame:   `{"type":"notification","data":{"title":"T"}}`,
			wantErr: true,
		},
		{
			name:  "pong",
			frame: `{"type":"pong"}`,
			want:  PongEvent{},
		},
		{
			name:  "unknown type",
			frame: `{"type":"quote_ready","data":{"id":"q1"}}`,
			want:  RawEvent{Type: "quote_ready", Data: []byte(`{"id":"q1"}`)},
		},
		{
			name:  "no type",
			frame: `{"data":{"x":1}}`,
			want:  RawEvent{Data: []byte(`{"x":1}`)},
		},
		{
			name:    "not json",
			frame:   `hello`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_RawEventTopic(t *testing.T) {
	evt, err := Decode([]byte(`{"data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, TopicMessage, evt.Topic())
}
