package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dropline/pkg/interfaces"
	"dropline/pkg/types"
)

var _ interfaces.MessageHandler = (*Broker)(nil)

// Broker routes protocol messages between the members of a room. It is called
// synchronously from each connection's read pump, so messages from one connection
// are handled in arrival order while different connections proceed in parallel.
// ARCHITECTURAL DISCOVERY: The broker never holds more than the chunk currently in
// hand; the only queuing is each recipient connection's bounded write queue
type Broker struct {
	rooms    interfaces.RoomRegistry
	conns    interfaces.ConnectionLookup
	limiter  *RateLimiter
	recorder interfaces.TransferRecorder
	logger   logrus.FieldLogger

	mu      sync.Mutex
	relayed map[string]int // roomID -> chunks forwarded
}

// NewBroker wires the broker to its collaborators. recorder may be nil.
func NewBroker(rooms interfaces.RoomRegistry, conns interfaces.ConnectionLookup, limiter *RateLimiter,
	recorder interfaces.TransferRecorder, logger logrus.FieldLogger) *Broker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Broker{
		rooms:    rooms,
		conns:    conns,
		limiter:  limiter,
		recorder: recorder,
		logger:   logger.WithField("component", "relay_broker"),
		relayed:  make(map[string]int),
	}
}

// HandleText dispatches one JSON envelope.
func (b *Broker) HandleText(ctx context.Context, conn interfaces.Connection, data []byte) {
	if err := b.limiter.Allow(conn.ID()); err != nil {
		b.sendError(conn, "", err)
		return
	}

	env, err := types.ParseEnvelope(data)
	if err != nil {
		b.sendError(conn, "", err)
		return
	}

	switch env.Type {
	case types.MessageTypeCreateRoom:
		b.handleCreateRoom(ctx, conn, env)
	case types.MessageTypeJoinRoom:
		b.handleJoinRoom(conn, env)
	case types.MessageTypeTransferComplete:
		b.handleTransferComplete(ctx, conn, env)
	case types.MessageTypeSignal:
		b.handleSignal(conn, env)
	case types.MessageTypeFileChunk:
		b.sendError(conn, "", ErrChunkAsText)
	default:
		b.logger.WithField("type", env.Type).Debug("Unknown message type")
		b.sendError(conn, "", ErrUnknownMessageType)
	}
}

// HandleBinary validates a chunk frame and forwards the original bytes to every
// other member of the room.
func (b *Broker) HandleBinary(ctx context.Context, conn interfaces.Connection, data []byte) {
	if err := b.limiter.Allow(conn.ID()); err != nil {
		b.sendError(conn, "", err)
		return
	}

	frame, err := types.DecodeChunkFrame(data)
	if err != nil {
		b.sendError(conn, "", err)
		return
	}
	if frame.Type != types.MessageTypeFileChunk {
		b.sendError(conn, frame.RoomID, types.NewError(types.KindMalformedMessage, "unexpected binary frame %q", frame.Type))
		return
	}

	room, exists := b.rooms.Get(frame.RoomID)
	if !exists {
		b.sendError(conn, frame.RoomID, types.ErrRoomNotFound)
		return
	}
	if room.SenderID != conn.ID() {
		b.sendError(conn, frame.RoomID, ErrNotRoomSender)
		return
	}
	if frame.TotalChunks != room.Metadata.TotalChunks {
		b.sendError(conn, frame.RoomID, ErrChunkCountMismatch)
		return
	}

	for _, recipientID := range room.Recipients {
		recipient, ok := b.conns.Get(recipientID)
		if !ok {
			continue
		}
		if err := recipient.WriteBinary(data); err != nil {
			b.logger.WithFields(logrus.Fields{
				"room_id":      room.ID,
				"recipient_id": recipientID,
				"chunk_index":  frame.ChunkIndex,
				"error":        err,
			}).Warn("Failed to forward chunk")
		}
	}

	b.mu.Lock()
	b.relayed[room.ID]++
	b.mu.Unlock()
}

// HandleDisconnect cancels every room the connection owned and removes it from the
// rooms it joined.
func (b *Broker) HandleDisconnect(conn interfaces.Connection) {
	connID := conn.ID()
	b.limiter.Forget(connID)

	for _, roomID := range b.rooms.FindBySender(connID) {
		room, removed := b.rooms.Remove(roomID)
		if !removed {
			continue
		}
		b.broadcast(room, connID, types.MessageTypeTransferCancelled, types.TransferCancelledPayload{
			RoomID: roomID,
			Reason: types.ErrPeerDisconnected.Reason,
		})
		b.finish(context.Background(), room, types.OutcomeCancelled)
		b.logger.WithFields(logrus.Fields{
			"room_id":    roomID,
			"sender_id":  connID,
			"recipients": len(room.Recipients),
		}).Info("Sender disconnected, room cancelled")
	}

	if left := b.rooms.Leave(connID); len(left) > 0 {
		b.logger.WithFields(logrus.Fields{
			"connection_id": connID,
			"rooms":         left,
		}).Debug("Recipient left rooms")
	}
}

func (b *Broker) handleCreateRoom(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	var payload types.CreateRoomPayload
	if err := env.Decode(&payload); err != nil {
		b.sendError(conn, "", err)
		return
	}

	room, err := b.rooms.Create(payload.RoomID, conn.ID(), payload.Metadata, payload.Mode)
	if err != nil {
		b.sendError(conn, payload.RoomID, err)
		return
	}

	if b.recorder != nil {
		if err := b.recorder.RecordRoomCreated(ctx, types.NewTransferRecord(room)); err != nil {
			b.logger.WithField("room_id", room.ID).WithError(err).Warn("Failed to record room creation")
		}
	}

	b.send(conn, types.MessageTypeRoomCreated, types.RoomCreatedPayload{RoomID: room.ID})
}

// handleJoinRoom hands the metadata to the receiver before notifying the sender, so
// the first chunk can never reach the receiver ahead of ready-to-receive.
func (b *Broker) handleJoinRoom(conn interfaces.Connection, env *types.Envelope) {
	var payload types.JoinRoomPayload
	if err := env.Decode(&payload); err != nil {
		b.sendError(conn, "", err)
		return
	}

	room, err := b.rooms.Join(payload.RoomID, conn.ID())
	if err != nil {
		b.sendError(conn, payload.RoomID, err)
		return
	}

	b.send(conn, types.MessageTypeReadyToReceive, types.ReadyToReceivePayload{
		RoomID:   room.ID,
		SenderID: room.SenderID,
		Metadata: room.Metadata,
		Mode:     room.Mode,
	})

	if sender, ok := b.conns.Get(room.SenderID); ok {
		b.send(sender, types.MessageTypeRecipientJoined, types.RecipientJoinedPayload{
			RecipientID: conn.ID(),
			RoomID:      room.ID,
		})
	}
}

func (b *Broker) handleTransferComplete(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	var payload types.TransferCompletePayload
	if err := env.Decode(&payload); err != nil {
		b.sendError(conn, "", err)
		return
	}

	room, exists := b.rooms.Get(payload.RoomID)
	if !exists {
		b.sendError(conn, payload.RoomID, types.ErrRoomNotFound)
		return
	}
	if room.SenderID != conn.ID() {
		b.sendError(conn, payload.RoomID, ErrNotRoomSender)
		return
	}

	// A concurrent disconnect may have removed it already.
	room, removed := b.rooms.Remove(payload.RoomID)
	if !removed {
		return
	}
	b.broadcast(room, conn.ID(), types.MessageTypeTransferComplete, types.TransferCompletePayload{RoomID: room.ID})
	chunks := b.finish(ctx, room, types.OutcomeCompleted)

	b.logger.WithFields(logrus.Fields{
		"room_id":        room.ID,
		"recipients":     len(room.Recipients),
		"chunks_relayed": chunks,
		"duration":       time.Since(room.CreatedAt).Round(time.Millisecond),
	}).Info("Transfer complete")
}

// handleSignal forwards an SDP exchange between two members of the same room. The
// relay never inspects the description.
func (b *Broker) handleSignal(conn interfaces.Connection, env *types.Envelope) {
	var payload types.SignalPayload
	if err := env.Decode(&payload); err != nil {
		b.sendError(conn, "", err)
		return
	}
	if payload.Kind != types.SignalOffer && payload.Kind != types.SignalAnswer {
		b.sendError(conn, payload.RoomID, types.NewError(types.KindMalformedMessage, "unknown signal kind %q", payload.Kind))
		return
	}

	room, exists := b.rooms.Get(payload.RoomID)
	if !exists {
		b.sendError(conn, payload.RoomID, types.ErrRoomNotFound)
		return
	}
	if !room.HasMember(conn.ID()) {
		b.sendError(conn, payload.RoomID, ErrNotRoomMember)
		return
	}
	if payload.To == conn.ID() || !room.HasMember(payload.To) {
		b.sendError(conn, payload.RoomID, ErrSignalTarget)
		return
	}

	target, ok := b.conns.Get(payload.To)
	if !ok {
		b.sendError(conn, payload.RoomID, ErrSignalTarget)
		return
	}
	payload.From = conn.ID()
	b.send(target, types.MessageTypeSignal, payload)
}

// finish records the terminal outcome and returns the relayed chunk count.
func (b *Broker) finish(ctx context.Context, room *types.Room, outcome types.TransferOutcome) int {
	b.mu.Lock()
	chunks := b.relayed[room.ID]
	delete(b.relayed, room.ID)
	b.mu.Unlock()

	if b.recorder != nil {
		err := b.recorder.RecordRoomClosed(ctx, &types.TransferClose{
			RoomID:        room.ID,
			Outcome:       outcome,
			Recipients:    len(room.Recipients),
			ChunksRelayed: chunks,
			EndedAt:       time.Now(),
		})
		if err != nil {
			b.logger.WithField("room_id", room.ID).WithError(err).Warn("Failed to record room close")
		}
	}
	return chunks
}

// broadcast sends one envelope to every member except the one excluded.
func (b *Broker) broadcast(room *types.Room, exclude, msgType string, payload interface{}) {
	for _, memberID := range room.Members() {
		if memberID == exclude {
			continue
		}
		if member, ok := b.conns.Get(memberID); ok {
			b.send(member, msgType, payload)
		}
	}
}

func (b *Broker) send(conn interfaces.Connection, msgType string, payload interface{}) {
	env, err := types.NewEnvelope(msgType, payload)
	if err != nil {
		b.logger.WithField("type", msgType).WithError(err).Error("Failed to encode message")
		return
	}
	if err := conn.WriteJSON(env); err != nil {
		b.logger.WithFields(logrus.Fields{
			"connection_id": conn.ID(),
			"type":          msgType,
			"error":         err,
		}).Warn("Failed to deliver message")
	}
}

// sendError reports err to the offending connection only.
func (b *Broker) sendError(conn interfaces.Connection, roomID string, err error) {
	payload := types.RoomErrorPayload{RoomID: roomID, Kind: types.KindMalformedMessage, Reason: err.Error()}
	var protoErr *types.Error
	if errors.As(err, &protoErr) {
		payload.Kind = protoErr.Kind
		payload.Reason = protoErr.Reason
	}

	b.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"room_id":       roomID,
		"kind":          payload.Kind,
	}).Debug(payload.Reason)
	b.send(conn, types.MessageTypeRoomError, payload)
}
