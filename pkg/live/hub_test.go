package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/homewatt/homewatt/pkg/config"
	"github.com/homewatt/homewatt/pkg/rollup"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.Handle))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	require.Eventually(t, hub.HasClients, time.Second, 5*time.Millisecond)

	hub.AggregateUpdated("devD", rollup.LastWeek, 2.5)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var update AggregateUpdate
	require.NoError(t, json.Unmarshal(message, &update))
	require.Equal(t, "aggregate_update", update.Type)
	require.Equal(t, "devD", update.DeviceID)
	require.Equal(t, "last_week", update.Period)
	require.Equal(t, 2.5, update.TotalPowerConsumption)
}

func TestHub_UnregistersOnClientClose(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	require.Eventually(t, hub.HasClients, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return !hub.HasClients() }, time.Second, 5*time.Millisecond)
}

// rawConn upgrades a connection outside Handle so the test controls the
// client struct (no writePump draining the send channel).
func rawConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgraded := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		upgraded <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	select {
	case conn := <-upgraded:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(time.Second):
		t.Fatal("upgrade did not complete")
		return nil
	}
}

func TestHub_StalledClientDroppedWithoutBlockingLoop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// A client with a tiny send buffer and no writer draining it.
	stalled := &client{conn: rawConn(t), send: make(chan []byte, 1)}
	hub.register <- stalled
	require.Eventually(t, hub.HasClients, time.Second, 5*time.Millisecond)

	// First message fills the buffer, second must drop the client inline.
	hub.Broadcast(AggregateUpdate{Type: "aggregate_update"})
	hub.Broadcast(AggregateUpdate{Type: "aggregate_update"})
	require.Eventually(t, func() bool { return !hub.HasClients() }, time.Second, 5*time.Millisecond)

	// The loop keeps serving registrations afterwards.
	healthy := &client{conn: rawConn(t), send: make(chan []byte, config.WSSendBuffer)}
	hub.register <- healthy
	require.Eventually(t, hub.HasClients, time.Second, 5*time.Millisecond)
}
