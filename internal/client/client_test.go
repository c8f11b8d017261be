package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropline/internal/relay"
	"dropline/internal/room"
	"dropline/internal/transfer"
	wsconn "dropline/internal/websocket"
	"dropline/pkg/types"
)

type testRelay struct {
	url   string
	rooms *room.Registry
}

func newTestRelay(t *testing.T, limit int) *testRelay {
	t.Helper()
	logger := quietLogger()

	rooms := room.NewRegistry(0, logger)
	conns := wsconn.NewRegistry()
	broker := relay.NewBroker(rooms, conns, relay.NewRateLimiter(limit), nil, logger)
	handler := wsconn.NewHandler(conns, broker, wsconn.DefaultOptions(), logger)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(func() {
		conns.CloseAll()
		server.Close()
	})
	return &testRelay{url: "ws" + strings.TrimPrefix(server.URL, "http"), rooms: rooms}
}

func (r *testRelay) client() *Client {
	return New(Options{ServerURL: r.url, Pace: time.Millisecond, Logger: quietLogger()})
}

// waitForMembers blocks until the room has n members, sender included.
func (r *testRelay) waitForMembers(t *testing.T, roomID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.rooms.Members(roomID)) == n
	}, 5*time.Second, 5*time.Millisecond)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func randomData(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

// openRoom creates a room over a bare gateway and returns it once acknowledged.
func openRoom(t *testing.T, r *testRelay, roomID string, metadata types.FileMetadata) *Gateway {
	t.Helper()
	gw, err := Dial(context.Background(), r.url, wsconn.Options{}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	require.NoError(t, gw.Send(types.MessageTypeCreateRoom, types.CreateRoomPayload{RoomID: roomID, Metadata: metadata}))
	in := nextEnvelope(t, gw)
	require.Equal(t, types.MessageTypeRoomCreated, in.Type)
	return gw
}

func nextEnvelope(t *testing.T, gw *Gateway) *types.Envelope {
	t.Helper()
	select {
	case in, ok := <-gw.Inbound():
		require.True(t, ok, "gateway closed: %v", gw.Err())
		require.NotNil(t, in.Envelope)
		return in.Envelope
	case <-time.After(5 * time.Second):
		t.Fatal("no message from relay")
		return nil
	}
}

type sendResult struct {
	err      error
	progress [][2]int
}

func startSend(c *Client, req SendRequest) (<-chan string, <-chan sendResult) {
	created := make(chan string, 1)
	done := make(chan sendResult, 1)
	go func() {
		var res sendResult
		req.OnRoomCreated = func(id string) { created <- id }
		req.OnProgress = func(sent, total int) { res.progress = append(res.progress, [2]int{sent, total}) }
		res.err = c.Send(context.Background(), req)
		done <- res
	}()
	return created, done
}

func waitCreated(t *testing.T, created <-chan string) string {
	t.Helper()
	select {
	case id := <-created:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("room was not created")
		return ""
	}
}

func TestGateway_ControlRoundTrip(t *testing.T) {
	r := newTestRelay(t, 100)
	sender := openRoom(t, r, "gateway-room", types.NewFileMetadata("a.txt", 3, "text/plain"))

	receiver, err := Dial(context.Background(), r.url, wsconn.Options{}, quietLogger())
	require.NoError(t, err)
	defer func() { _ = receiver.Close() }()

	require.NoError(t, receiver.Send(types.MessageTypeJoinRoom, types.JoinRoomPayload{RoomID: "gateway-room"}))

	ready := nextEnvelope(t, receiver)
	require.Equal(t, types.MessageTypeReadyToReceive, ready.Type)
	var rp types.ReadyToReceivePayload
	require.NoError(t, ready.Decode(&rp))
	assert.Equal(t, "a.txt", rp.Metadata.FileName)
	assert.Equal(t, types.DataPathRelay, rp.Mode)

	joined := nextEnvelope(t, sender)
	require.Equal(t, types.MessageTypeRecipientJoined, joined.Type)

	require.NoError(t, sender.SendFrame(&types.ChunkFrame{
		Type: types.MessageTypeFileChunk, RoomID: "gateway-room", ChunkIndex: 0, TotalChunks: 1, Chunk: []byte("abc"),
	}))
	select {
	case in := <-receiver.Inbound():
		require.NotNil(t, in.Frame)
		assert.Equal(t, []byte("abc"), in.Frame.Chunk)
	case <-time.After(5 * time.Second):
		t.Fatal("chunk not relayed")
	}
}

func TestGateway_CloseEndsInbound(t *testing.T) {
	r := newTestRelay(t, 100)
	gw, err := Dial(context.Background(), r.url, wsconn.Options{}, quietLogger())
	require.NoError(t, err)

	require.NoError(t, gw.Close())
	select {
	case _, ok := <-gw.Inbound():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("inbound not closed")
	}
	assert.Error(t, gw.Err())
	assert.Error(t, gw.Send(types.MessageTypeJoinRoom, types.JoinRoomPayload{RoomID: "x"}))
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", wsconn.Options{}, quietLogger())
	assert.Error(t, err)
}

func TestSendReceive_Relay(t *testing.T) {
	r := newTestRelay(t, 100)
	c := r.client()
	data := randomData(t, 150000)

	created, done := startSend(c, SendRequest{Source: NewSource("photo.jpg", "image/jpeg", data)})
	roomID := waitCreated(t, created)
	assert.True(t, types.IsValidRoomID(roomID))

	var percents []int
	var ready types.FileMetadata
	blob, err := c.Receive(context.Background(), ReceiveRequest{
		RoomID:     roomID,
		OnReady:    func(m types.FileMetadata, _ types.DataPath) { ready = m },
		OnProgress: func(p transfer.Progress) { percents = append(percents, p.Percent) },
	})
	require.NoError(t, err)
	require.NotNil(t, blob)

	got, err := blob.Bytes()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
	assert.Equal(t, "photo.jpg", blob.Name)
	assert.Equal(t, "image/jpeg", blob.Type)
	assert.Equal(t, 3, ready.TotalChunks)
	assert.Equal(t, []int{33, 67, 100}, percents)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, res.progress)

	assert.Eventually(t, func() bool {
		_, exists := r.rooms.Get(roomID)
		return !exists
	}, 5*time.Second, 10*time.Millisecond, "completion deletes the room")
}

func TestSendReceive_EmptyFileToSpill(t *testing.T) {
	r := newTestRelay(t, 100)
	c := r.client()

	created, done := startSend(c, SendRequest{Source: NewSource("empty.txt", "text/plain", nil)})
	roomID := waitCreated(t, created)

	blob, err := c.Receive(context.Background(), ReceiveRequest{
		RoomID:   roomID,
		NewStore: transfer.SpillStoreFactory(t.TempDir()),
	})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out", "empty.txt")
	require.NoError(t, blob.SaveAs(dest))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
	require.NoError(t, (<-done).err)
}

func TestReceive_RoomNotFound(t *testing.T) {
	r := newTestRelay(t, 100)

	_, err := r.client().Receive(context.Background(), ReceiveRequest{RoomID: "does-not-exist"})
	assert.ErrorIs(t, err, types.ErrRoomNotFound)
	assert.Contains(t, err.Error(), "Room not found or expired")
}

func TestReceive_SenderDisconnectCancels(t *testing.T) {
	r := newTestRelay(t, 100)
	sender := openRoom(t, r, "leaving", types.NewFileMetadata("f.bin", 150000, ""))

	errCh := make(chan error, 1)
	go func() {
		_, err := r.client().Receive(context.Background(), ReceiveRequest{RoomID: "leaving"})
		errCh <- err
	}()
	r.waitForMembers(t, "leaving", 2)

	require.NoError(t, sender.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, types.ErrPeerDisconnected)
		assert.Contains(t, err.Error(), "Sender disconnected")
	case <-time.After(5 * time.Second):
		t.Fatal("receiver was not cancelled")
	}
}

func TestReceive_TimeoutDiscardsBuffer(t *testing.T) {
	r := newTestRelay(t, 100)
	openRoom(t, r, "silent", types.NewFileMetadata("f.bin", 150000, ""))
	spill := t.TempDir()

	start := time.Now()
	blob, err := r.client().Receive(context.Background(), ReceiveRequest{
		RoomID:   "silent",
		Timeout:  200 * time.Millisecond,
		NewStore: transfer.SpillStoreFactory(spill),
	})
	assert.Nil(t, blob)
	assert.ErrorIs(t, err, types.ErrTransferTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	entries, err := os.ReadDir(spill)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReceive_ContextCancel(t *testing.T) {
	r := newTestRelay(t, 100)
	openRoom(t, r, "idle", types.NewFileMetadata("f.bin", 10, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := r.client().Receive(ctx, ReceiveRequest{RoomID: "idle"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSend_DuplicateRoom(t *testing.T) {
	r := newTestRelay(t, 100)
	openRoom(t, r, "taken", types.NewFileMetadata("f.bin", 1, ""))

	err := r.client().Send(context.Background(), SendRequest{RoomID: "taken", Source: NewSource("g.bin", "", []byte("x"))})
	assert.ErrorIs(t, err, types.ErrRoomCreationFailed)
}

func TestSend_RateLimited(t *testing.T) {
	// create-room plus two chunks fit; the third chunk is rejected long before
	// the last one is sent.
	r := newTestRelay(t, 3)
	c := r.client()
	data := randomData(t, 40*types.ChunkSize)

	created, done := startSend(c, SendRequest{Source: NewSource("big.bin", "", data)})
	roomID := waitCreated(t, created)

	_, recvErr := c.Receive(context.Background(), ReceiveRequest{RoomID: roomID, Timeout: 5 * time.Second})
	assert.Error(t, recvErr)

	res := <-done
	assert.ErrorIs(t, res.err, types.ErrRateLimitExceeded)
}

func TestSend_NoSource(t *testing.T) {
	err := New(Options{ServerURL: "ws://unused"}).Send(context.Background(), SendRequest{})
	assert.Error(t, err)
}

func TestSendReceive_Direct(t *testing.T) {
	if testing.Short() {
		t.Skip("peer connection over loopback")
	}
	r := newTestRelay(t, 100)
	c := New(Options{
		ServerURL: r.url,
		Direct:    DirectConfig{IncludeLoopback: true},
		Logger:    quietLogger(),
	})
	data := randomData(t, 5*types.ChunkSize+123)

	created, done := startSend(c, SendRequest{Source: NewSource("p2p.bin", "", data), Mode: types.DataPathDirect})
	roomID := waitCreated(t, created)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var mode types.DataPath
	blob, err := c.Receive(ctx, ReceiveRequest{
		RoomID:  roomID,
		OnReady: func(_ types.FileMetadata, m types.DataPath) { mode = m },
	})
	require.NoError(t, err)
	assert.Equal(t, types.DataPathDirect, mode)

	got, err := blob.Bytes()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Len(t, res.progress, 6)
	case <-time.After(30 * time.Second):
		t.Fatal("sender did not finish")
	}
}

func TestSendReceive_SecondReceiverGetsSinglePass(t *testing.T) {
	r := newTestRelay(t, 100)
	sender := New(Options{ServerURL: r.url, Pace: 25 * time.Millisecond, Logger: quietLogger()})
	data := randomData(t, 30*types.ChunkSize)

	created, done := startSend(sender, SendRequest{Source: NewSource("shared.bin", "", data)})
	roomID := waitCreated(t, created)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var (
		once       sync.Once
		firstChunk = make(chan struct{})
		first      = make(chan error, 1)
		firstBlob  *transfer.Blob
	)
	go func() {
		blob, err := r.client().Receive(ctx, ReceiveRequest{
			RoomID:     roomID,
			OnProgress: func(transfer.Progress) { once.Do(func() { close(firstChunk) }) },
		})
		firstBlob = blob
		first <- err
	}()
	select {
	case <-firstChunk:
	case <-time.After(5 * time.Second):
		t.Fatal("first receiver got no chunk")
	}

	// Chunk 0 has already gone by, so the late joiner can never complete.
	_, err := r.client().Receive(ctx, ReceiveRequest{RoomID: roomID})
	assert.ErrorIs(t, err, types.ErrIncompleteTransfer)

	require.NoError(t, <-first)
	got, err := firstBlob.Bytes()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.Len(t, res.progress, 30)
		for i, p := range res.progress {
			assert.Equal(t, [2]int{i + 1, 30}, p)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("sender did not finish")
	}
}

func TestReceive_DirectRoomCompletedWithoutChannel(t *testing.T) {
	r := newTestRelay(t, 100)

	sender, err := Dial(context.Background(), r.url, wsconn.Options{}, quietLogger())
	require.NoError(t, err)
	defer func() { _ = sender.Close() }()

	require.NoError(t, sender.Send(types.MessageTypeCreateRoom, types.CreateRoomPayload{
		RoomID:   "direct-unoffered",
		Metadata: types.NewFileMetadata("p2p.bin", 3*types.ChunkSize, ""),
		Mode:     types.DataPathDirect,
	}))
	require.Equal(t, types.MessageTypeRoomCreated, nextEnvelope(t, sender).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	received := make(chan error, 1)
	go func() {
		_, err := r.client().Receive(ctx, ReceiveRequest{RoomID: "direct-unoffered", Timeout: time.Minute})
		received <- err
	}()

	// The sender never offers a data channel and reports completion anyway.
	require.Equal(t, types.MessageTypeRecipientJoined, nextEnvelope(t, sender).Type)
	require.NoError(t, sender.Send(types.MessageTypeTransferComplete, types.TransferCompletePayload{RoomID: "direct-unoffered"}))

	select {
	case err := <-received:
		assert.ErrorIs(t, err, types.ErrIncompleteTransfer)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver kept waiting after the room completed")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()
	assert.Equal(t, "notes.txt", src.Name)
	assert.Equal(t, int64(5), src.Size)
	assert.True(t, strings.HasPrefix(src.Type, "text/plain"))

	_, err = OpenFile(t.TempDir())
	assert.Error(t, err)
	_, err = OpenFile(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNewRoomID(t *testing.T) {
	a, b := NewRoomID(), NewRoomID()
	assert.NotEqual(t, a, b)
	assert.True(t, types.IsValidRoomID(a))
	assert.Len(t, a, 36)
}
