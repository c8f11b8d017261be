package interfaces_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"dropline/pkg/interfaces"
	"dropline/pkg/types"
)

// Mock implementations for testing

type mockConnection struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newMockConnection() *mockConnection {
	return &mockConnection{done: make(chan struct{})}
}

func (m *mockConnection) ID() string                    { return "conn-1" }
func (m *mockConnection) RemoteAddr() string            { return "127.0.0.1:1" }
func (m *mockConnection) WriteJSON(v interface{}) error { return m.write() }
func (m *mockConnection) WriteBinary(data []byte) error { return m.write() }
func (m *mockConnection) Done() <-chan struct{}         { return m.done }

func (m *mockConnection) write() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return interfaces.ErrConnectionClosed
	}
	return nil
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

type mockHandler struct {
	texts, binaries, disconnects int
}

func (m *mockHandler) HandleText(ctx context.Context, conn interfaces.Connection, data []byte) {
	m.texts++
}
func (m *mockHandler) HandleBinary(ctx context.Context, conn interfaces.Connection, data []byte) {
	m.binaries++
}
func (m *mockHandler) HandleDisconnect(conn interfaces.Connection) { m.disconnects++ }

type mockStore struct {
	records map[string]*types.TransferRecord
}

func (m *mockStore) RecordRoomCreated(ctx context.Context, record *types.TransferRecord) error {
	m.records[record.RoomID] = record
	return nil
}
func (m *mockStore) RecordRoomClosed(ctx context.Context, closed *types.TransferClose) error {
	rec, ok := m.records[closed.RoomID]
	if !ok {
		return interfaces.ErrTransferNotFound
	}
	rec.Outcome = closed.Outcome
	return nil
}
func (m *mockStore) ListTransfers(ctx context.Context, limit int) ([]*types.TransferRecord, error) {
	return nil, nil
}
func (m *mockStore) GetTransfer(ctx context.Context, roomID string) (*types.TransferRecord, error) {
	rec, ok := m.records[roomID]
	if !ok {
		return nil, interfaces.ErrTransferNotFound
	}
	return rec, nil
}
func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

func TestConnection_InterfaceContract(t *testing.T) {
	mock := newMockConnection()
	var conn interfaces.Connection = mock

	assert.NoError(t, conn.WriteJSON(struct{}{}))
	assert.NoError(t, conn.WriteBinary([]byte{1}))

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "close must be idempotent")

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done channel should be closed after Close")
	}
	assert.ErrorIs(t, conn.WriteJSON(struct{}{}), interfaces.ErrConnectionClosed)
}

func TestMessageHandler_InterfaceContract(t *testing.T) {
	h := &mockHandler{}
	var handler interfaces.MessageHandler = h
	conn := newMockConnection()

	handler.HandleText(context.Background(), conn, []byte(`{}`))
	handler.HandleBinary(context.Background(), conn, []byte{0})
	handler.HandleDisconnect(conn)

	assert.Equal(t, 1, h.texts)
	assert.Equal(t, 1, h.binaries)
	assert.Equal(t, 1, h.disconnects)
}

func TestTransferStore_InterfaceContract(t *testing.T) {
	var store interfaces.TransferStore = &mockStore{records: map[string]*types.TransferRecord{}}
	ctx := context.Background()

	room := &types.Room{ID: "r1", SenderID: "s1", Metadata: types.NewFileMetadata("a.txt", 3, "text/plain")}
	assert.NoError(t, store.RecordRoomCreated(ctx, types.NewTransferRecord(room)))
	assert.NoError(t, store.RecordRoomClosed(ctx, &types.TransferClose{RoomID: "r1", Outcome: types.OutcomeCompleted}))

	rec, err := store.GetTransfer(ctx, "r1")
	assert.NoError(t, err)
	assert.Equal(t, types.OutcomeCompleted, rec.Outcome)
	assert.Equal(t, types.DataPathRelay, rec.Mode)

	_, err = store.GetTransfer(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrTransferNotFound)
}
