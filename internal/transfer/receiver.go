package transfer

import (
	"fmt"
	"time"

	"dropline/pkg/types"
)

// DefaultTimeout bounds a receive from join to completion. Incoming chunks do not
// extend it.
const DefaultTimeout = 5 * time.Minute

// ReceiverState is the position of a receiver session in its protocol.
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverJoinRequested
	ReceiverAwaitingMetadata
	ReceiverReceiving
	ReceiverReassembling
	ReceiverCompleted
	ReceiverCancelled
	ReceiverTimedOut
	ReceiverFailed
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverIdle:
		return "idle"
	case ReceiverJoinRequested:
		return "join-requested"
	case ReceiverAwaitingMetadata:
		return "awaiting-metadata"
	case ReceiverReceiving:
		return "receiving"
	case ReceiverReassembling:
		return "reassembling"
	case ReceiverCompleted:
		return "completed"
	case ReceiverCancelled:
		return "cancelled"
	case ReceiverTimedOut:
		return "timed-out"
	case ReceiverFailed:
		return "failed"
	default:
		return fmt.Sprintf("receiver-state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s ReceiverState) Terminal() bool {
	switch s {
	case ReceiverCompleted, ReceiverCancelled, ReceiverTimedOut, ReceiverFailed:
		return true
	default:
		return false
	}
}

// ReceiverOptions configure a Receiver. Zero values take defaults.
type ReceiverOptions struct {
	Timeout  time.Duration
	NewStore StoreFactory
	Now      func() time.Time
}

// Receiver is the receiver side of one transfer. It buffers chunks by index in a
// ChunkStore it owns exclusively, and hands the assembled Blob out exactly once.
// No partial file is ever exposed: cancellation, timeout and failure discard the
// buffer.
type Receiver struct {
	state    ReceiverState
	roomID   string
	senderID string
	metadata types.FileMetadata
	mode     types.DataPath
	store    ChunkStore
	newStore StoreFactory
	timeout  time.Duration
	now      func() time.Time
	deadline time.Time
	err      error
}

func NewReceiver(opts ReceiverOptions) *Receiver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.NewStore == nil {
		opts.NewStore = MemoryStoreFactory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Receiver{newStore: opts.NewStore, timeout: opts.Timeout, now: opts.Now}
}

func (r *Receiver) State() ReceiverState         { return r.state }
func (r *Receiver) RoomID() string               { return r.roomID }
func (r *Receiver) SenderID() string             { return r.senderID }
func (r *Receiver) Metadata() types.FileMetadata { return r.metadata }
func (r *Receiver) Mode() types.DataPath         { return r.mode }
func (r *Receiver) Err() error                   { return r.err }

// Deadline is when the session times out; zero before Join.
func (r *Receiver) Deadline() time.Time { return r.deadline }

// Received is the number of distinct chunks buffered so far.
func (r *Receiver) Received() int {
	if r.store == nil {
		return 0
	}
	return r.store.Received()
}

// Handle applies one event and returns the new state plus the outputs to perform.
// A non-nil error means the event was rejected or ended the session.
func (r *Receiver) Handle(ev Event) (ReceiverState, []Output, error) {
	// The relay's completion notice normally trails the last chunk.
	if _, ok := ev.(TransferComplete); ok && r.state == ReceiverCompleted {
		return r.state, nil, nil
	}
	if r.state.Terminal() {
		return r.state, nil, ErrInvalidTransition
	}

	switch e := ev.(type) {
	case Join:
		if r.state != ReceiverIdle {
			return r.reject()
		}
		if !types.IsValidRoomID(e.RoomID) {
			return r.state, nil, types.NewError(types.KindMalformedMessage, "invalid room id %q", e.RoomID)
		}
		r.roomID = e.RoomID
		r.deadline = r.now().Add(r.timeout)
		r.state = ReceiverJoinRequested
		return r.state, []Output{Send{
			Type:    types.MessageTypeJoinRoom,
			Payload: types.JoinRoomPayload{RoomID: e.RoomID},
		}}, nil

	case JoinSent:
		if r.state != ReceiverJoinRequested {
			return r.reject()
		}
		r.state = ReceiverAwaitingMetadata
		return r.state, nil, nil

	case ReadyToReceive:
		return r.readyToReceive(e)

	case ChunkReceived:
		return r.chunk(e.Frame)

	case TransferComplete:
		if r.state == ReceiverIdle {
			return r.reject()
		}
		if e.RoomID != "" && e.RoomID != r.roomID {
			return r.state, nil, ErrWrongRoom
		}
		return r.end(ReceiverFailed, types.NewError(types.KindIncompleteTransfer,
			"sender finished with %d of %d chunks delivered", r.Received(), r.metadata.TotalChunks))

	case TransferCancelled:
		if r.state == ReceiverIdle {
			return r.reject()
		}
		if e.RoomID != "" && e.RoomID != r.roomID {
			return r.state, nil, ErrWrongRoom
		}
		reason := e.Reason
		if reason == "" {
			reason = types.ErrPeerDisconnected.Reason
		}
		return r.end(ReceiverCancelled, &types.Error{Kind: types.KindPeerDisconnected, Reason: reason})

	case RoomError:
		if r.state == ReceiverIdle {
			return r.reject()
		}
		if e.RoomID != "" && e.RoomID != r.roomID {
			return r.state, nil, ErrWrongRoom
		}
		return r.end(ReceiverFailed, &types.Error{Kind: e.Kind, Reason: e.Reason})

	case Timeout:
		if r.state == ReceiverIdle {
			return r.reject()
		}
		return r.end(ReceiverTimedOut, types.ErrTransferTimeout)

	case Disconnected:
		if r.state == ReceiverIdle {
			return r.reject()
		}
		return r.end(ReceiverFailed, types.NewError(types.KindPeerDisconnected, "relay connection closed"))

	default:
		return r.reject()
	}
}

func (r *Receiver) readyToReceive(e ReadyToReceive) (ReceiverState, []Output, error) {
	if r.state != ReceiverJoinRequested && r.state != ReceiverAwaitingMetadata {
		return r.reject()
	}
	if e.RoomID != r.roomID {
		return r.state, nil, ErrWrongRoom
	}
	if err := e.Metadata.Validate(); err != nil {
		return r.end(ReceiverFailed, err)
	}

	store, err := r.newStore(e.Metadata)
	if err != nil {
		return r.end(ReceiverFailed, fmt.Errorf("allocate chunk buffer: %w", err))
	}

	mode := e.Mode
	if mode == "" {
		mode = types.DataPathRelay
	}
	r.senderID = e.SenderID
	r.metadata = e.Metadata
	r.mode = mode
	r.store = store
	r.state = ReceiverReceiving
	return r.state, nil, nil
}

func (r *Receiver) chunk(f *types.ChunkFrame) (ReceiverState, []Output, error) {
	if r.state != ReceiverReceiving {
		if r.state == ReceiverJoinRequested || r.state == ReceiverAwaitingMetadata {
			return r.end(ReceiverFailed, types.NewError(types.KindMalformedMessage, "chunk arrived before metadata"))
		}
		return r.reject()
	}
	if err := r.checkFrame(f); err != nil {
		return r.end(ReceiverFailed, err)
	}

	stored, err := r.store.Put(f.ChunkIndex, f.Chunk)
	if err != nil {
		return r.end(ReceiverFailed, err)
	}
	if !stored {
		return r.state, nil, nil
	}

	total := r.metadata.TotalChunks
	received := r.store.Received()
	outputs := []Output{Progress{Received: received, Total: total, Percent: Percent(received, total)}}
	if received < total {
		return r.state, outputs, nil
	}

	r.state = ReceiverReassembling
	blob, err := r.store.Assemble(r.metadata)
	if err != nil {
		return r.end(ReceiverFailed, err)
	}
	r.store = nil
	r.state = ReceiverCompleted
	return r.state, append(outputs, Delivered{Blob: blob}), nil
}

// checkFrame cross-checks a chunk against the room metadata.
func (r *Receiver) checkFrame(f *types.ChunkFrame) error {
	if f == nil {
		return types.NewError(types.KindMalformedMessage, "empty chunk frame")
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Type != types.MessageTypeFileChunk {
		return types.NewError(types.KindMalformedMessage, "unexpected frame type %q", f.Type)
	}
	if f.RoomID != r.roomID {
		return types.NewError(types.KindMalformedMessage, "chunk for room %q in room %q", f.RoomID, r.roomID)
	}
	if f.TotalChunks != r.metadata.TotalChunks {
		return types.NewError(types.KindMalformedMessage, "totalChunks %d, metadata says %d", f.TotalChunks, r.metadata.TotalChunks)
	}
	start, end := types.ChunkBounds(f.ChunkIndex, r.metadata.FileSize, types.ChunkSize)
	if int64(len(f.Chunk)) != end-start {
		return types.NewError(types.KindMalformedMessage, "chunk %d has %d bytes, expected %d", f.ChunkIndex, len(f.Chunk), end-start)
	}
	return nil
}

// end moves to a terminal state and discards any partial buffer.
func (r *Receiver) end(state ReceiverState, err error) (ReceiverState, []Output, error) {
	if r.store != nil {
		_ = r.store.Discard()
		r.store = nil
	}
	r.state = state
	r.err = err
	return r.state, nil, err
}

func (r *Receiver) reject() (ReceiverState, []Output, error) {
	return r.state, nil, ErrInvalidTransition
}
