package websocket

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
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type received struct {
	messageType int
	data        []byte
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, "conn-1", Options{})
	defer conn.Close()

	assert.Equal(t, "conn-1", conn.ID())
	assert.Equal(t, 100, cap(conn.writeCh), "default write queue holds 100 frames")
	assert.NotEmpty(t, conn.RemoteAddr())
}

func TestConnection_WritesTextAndBinaryInOrder(t *testing.T) {
	wsConn, frames := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, "conn-1", DefaultOptions())
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "room-created"}))
	require.NoError(t, conn.WriteBinary([]byte{1, 2, 3}))

	first := waitFrame(t, frames)
	assert.Equal(t, websocket.TextMessage, first.messageType)
	assert.JSONEq(t, `{"type":"room-created"}`, string(first.data))

	second := waitFrame(t, frames)
	assert.Equal(t, websocket.BinaryMessage, second.messageType)
	assert.Equal(t, []byte{1, 2, 3}, second.data)
}

func TestConnection_WriteJSONInvalidData(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, "conn-1", DefaultOptions())
	defer conn.Close()

	err := conn.WriteJSON(map[string]interface{}{"func": func() {}})
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestConnection_CloseIdempotent(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, "conn-1", DefaultOptions())

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done should be closed after Close")
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, "conn-1", DefaultOptions())
	require.NoError(t, conn.Close())

	assert.ErrorIs(t, conn.WriteJSON(map[string]string{"type": "x"}), ErrConnectionClosed)
	assert.ErrorIs(t, conn.WriteBinary([]byte{1}), ErrConnectionClosed)
}

func TestConnection_ShutdownFlushesQueue(t *testing.T) {
	wsConn, frames := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, "conn-1", DefaultOptions())
	for i := 0; i < 20; i++ {
		require.NoError(t, conn.WriteBinary([]byte{byte(i)}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = conn.Shutdown(ctx)

	for i := 0; i < 20; i++ {
		frame := waitFrame(t, frames)
		assert.Equal(t, []byte{byte(i)}, frame.data)
	}
}

// Technical Validation Tests (Race Detection)
func TestConnection_ConcurrentWrites(t *testing.T) {
	wsConn, frames := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, "conn-1", DefaultOptions())
	defer conn.Close()

	const numGoroutines = 10
	const messagesPerGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < messagesPerGoroutine; j++ {
				if err := conn.WriteJSON(map[string]int{"worker": id, "message": j}); err != nil {
					t.Errorf("WriteJSON failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < numGoroutines*messagesPerGoroutine; i++ {
		frame := waitFrame(t, frames)
		assert.Equal(t, websocket.TextMessage, frame.messageType)
	}
}

func waitFrame(t *testing.T, frames <-chan received) received {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return received{}
	}
}

// createTestWebSocketConnection dials an httptest server whose handler records every
// frame it reads.
func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, <-chan received) {
	frames := make(chan received, 256)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- received{messageType: messageType, data: data}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "Failed to create test WebSocket connection")
	t.Cleanup(func() { _ = conn.Close() })

	return conn, frames
}
