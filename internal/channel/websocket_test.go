package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

func TestWebSocketTransportEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan model.Envelope, 1)
	handlerDone := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer close(handlerDone)
		defer conn.Close()

		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		joined <- env

		frame, _ := model.EncodeEnvelope(model.EventJoinConfirmation, model.JoinConfirmation{Message: "joined"})
		conn.WriteMessage(websocket.TextMessage, frame)
		frame, _ = model.EncodeEnvelope(model.EventLocationUpdate, map[string]any{
			"device_id": "dev-1", "latitude": 48.1, "longitude": 11.5, "current_section": "Library",
		})
		conn.WriteMessage(websocket.TextMessage, frame)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sink := &recordingSink{}
	m := newTestManager(NewWebSocketTransport(url, time.Second), sink, 0)

	require.NoError(t, m.Connect(context.Background(), testCred))

	select {
	case env := <-joined:
		assert.Equal(t, model.EventJoinRoom, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw join_room")
	}

	require.Eventually(t, func() bool { return len(sink.Updates()) == 1 }, 2*time.Second, 5*time.Millisecond)
	u := sink.Updates()[0]
	assert.Equal(t, "dev-1", u.DeviceID)
	assert.Equal(t, "Library", u.CurrentZone)
	sink.mu.Lock()
	assert.Equal(t, 1, sink.joins)
	sink.mu.Unlock()

	m.Disconnect()
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server handler did not observe the close")
	}
}

func TestWebSocketTransportRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := newTestManager(NewWebSocketTransport(url, time.Second), &recordingSink{}, 0)
	defer m.Disconnect()

	err := m.Connect(context.Background(), testCred)
	require.ErrorIs(t, err, ErrChannel)
	assert.Equal(t, model.ConnError, m.State())
}
