package websocket

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T, id string) *Connection {
	t.Helper()
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, id, DefaultOptions())
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRegistry_RegisterConnectionValidation(t *testing.T) {
	registry := NewRegistry()

	assert.ErrorIs(t, registry.RegisterConnection(nil), ErrNilConnection)

	conn := newTestConnection(t, "a")
	require.NoError(t, registry.RegisterConnection(conn))
	assert.ErrorIs(t, registry.RegisterConnection(conn), ErrDuplicateConnection)
}

func TestRegistry_GetAndUnregister(t *testing.T) {
	registry := NewRegistry()
	conn := newTestConnection(t, "a")
	require.NoError(t, registry.RegisterConnection(conn))

	got, ok := registry.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID())
	assert.Equal(t, 1, registry.GetStats()["total_connections"])

	registry.UnregisterConnection(conn)
	registry.UnregisterConnection(conn)
	registry.UnregisterConnection(nil)

	_, ok = registry.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_UnregisterOnlySameInstance(t *testing.T) {
	registry := NewRegistry()
	registered := newTestConnection(t, "a")
	impostor := newTestConnection(t, "a")
	require.NoError(t, registry.RegisterConnection(registered))

	registry.UnregisterConnection(impostor)

	_, ok := registry.Get("a")
	assert.True(t, ok)
}

func TestRegistry_CloseAll(t *testing.T) {
	registry := NewRegistry()
	conns := []*Connection{newTestConnection(t, "a"), newTestConnection(t, "b")}
	for _, c := range conns {
		require.NoError(t, registry.RegisterConnection(c))
	}

	registry.CloseAll()

	for _, c := range conns {
		select {
		case <-c.Done():
		default:
			t.Errorf("connection %s should be closed", c.ID())
		}
	}
}

func TestRegistry_ConcurrentRegistrationAndLookup(t *testing.T) {
	registry := NewRegistry()
	const n = 20

	conns := make([]*Connection, n)
	for i := range conns {
		conns[i] = newTestConnection(t, fmt.Sprintf("conn-%d", i))
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(2)
		go func(c *Connection) {
			defer wg.Done()
			if err := registry.RegisterConnection(c); err != nil {
				t.Errorf("register %s: %v", c.ID(), err)
			}
		}(c)
		go func(id string) {
			defer wg.Done()
			_, _ = registry.Get(id)
		}(c.ID())
	}
	wg.Wait()

	assert.Equal(t, n, registry.Count())
}
