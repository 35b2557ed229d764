package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/fabsync/internal/logging"
	"github.com/rickgao/fabsync/internal/router"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	t.Cleanup(server.Close)

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type closeRecord struct {
	code   int
	reason string
}

func dialTest(t *testing.T, url string) (Transport, chan []byte, chan closeRecord) {
	t.Helper()

	d := NewDialer(5*time.Second, 5*time.Second, logging.Discard())
	tr, err := d.Dial(context.Background(), url)
	require.NoError(t, err)

	frames := make(chan []byte, 10)
	closes := make(chan closeRecord, 10)
	tr.Listen(Handlers{
		OnMessage: func(data []byte) { frames <- data },
		OnClose:   func(code int, reason string) { closes <- closeRecord{code, reason} },
	})
	return tr, frames, closes
}

func TestWSTransport_ReceiveAndSend(t *testing.T) {
	received := make(chan []byte, 1)
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
		// Keep open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr, frames, _ := dialTest(t, wsURL(server))
	defer tr.Close(CloseNormal, ManualCloseReason)

	select {
	case f := <-frames:
		assert.JSONEq(t, `{"type":"pong"}`, string(f))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
	}

	require.NoError(t, tr.Send([]byte(`{"type":"ping"}`)))
	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"ping"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for server to receive")
	}
}

func TestWSTransport_CloseSendsCodeAndReason(t *testing.T) {
	serverSaw := make(chan closeRecord, 1)
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		if ce, ok := err.(*websocket.CloseError); ok {
			serverSaw <- closeRecord{ce.Code, ce.Text}
		}
	})

	tr, _, closes := dialTest(t, wsURL(server))

	require.NoError(t, tr.Close(CloseNormal, ManualCloseReason))
	assert.ErrorIs(t, tr.Close(CloseNormal, ManualCloseReason), ErrAlreadyClosed)
	assert.ErrorIs(t, tr.Send([]byte("x")), ErrNotConnected)

	select {
	case got := <-serverSaw:
		assert.Equal(t, closeRecord{CloseNormal, ManualCloseReason}, got)
	case <-time.After(time.Second):
		t.Fatal("server never saw close frame")
	}

	select {
	case got := <-closes:
		assert.Equal(t, closeRecord{CloseNormal, ManualCloseReason}, got)
	case <-time.After(time.Second):
		t.Fatal("OnClose not reported")
	}

	// Reported exactly once.
	select {
	case extra := <-closes:
		t.Fatalf("unexpected second close: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWSTransport_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4001, "session ended"))
		time.Sleep(50 * time.Millisecond)
	})

	_, _, closes := dialTest(t, wsURL(server))

	select {
	case got := <-closes:
		assert.Equal(t, closeRecord{4001, "session ended"}, got)
	case <-time.After(time.Second):
		t.Fatal("OnClose not reported")
	}
}

func TestWSDialer_Refused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	d := NewDialer(time.Second, time.Second, logging.Discard())
	_, err := d.Dial(context.Background(), wsURL(server))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestManager_EndToEnd(t *testing.T) {
	var mu sync.Mutex
	var gotToken string
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		mu.Lock()
		gotToken = r.URL.Query().Get("token")
		mu.Unlock()

		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"order_update","data":{"orderId":"o1","newStatus":"confirmed"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	r := router.New(logging.Discard())
	updates := make(chan router.OrderUpdateEvent, 1)
	router.On(r, func(e router.OrderUpdateEvent) { updates <- e })

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	m := NewManager(cfg, staticToken{token: "tok en", ok: true}, r, logging.Discard())
	defer m.Disconnect()

	require.True(t, m.Connect())

	select {
	case e := <-updates:
		assert.Equal(t, "o1", e.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("no order_update routed")
	}

	mu.Lock()
	assert.Equal(t, "tok en", gotToken)
	mu.Unlock()
	assert.True(t, m.IsConnected())
	assert.NotEmpty(t, m.Snapshot().SessionID)
}
