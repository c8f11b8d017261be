package transfer

import (
	"fmt"

	"dropline/pkg/types"
)

// SenderState is the position of a sender session in its protocol.
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderAwaitingRoomAck
	SenderAwaitingRecipient
	SenderStreaming
	SenderCompleted
	SenderFailed
)

func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "idle"
	case SenderAwaitingRoomAck:
		return "awaiting-room-ack"
	case SenderAwaitingRecipient:
		return "awaiting-recipient"
	case SenderStreaming:
		return "streaming"
	case SenderCompleted:
		return "completed"
	case SenderFailed:
		return "failed"
	default:
		return fmt.Sprintf("sender-state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s SenderState) Terminal() bool {
	return s == SenderCompleted || s == SenderFailed
}

// Sender is the sender side of one transfer. It owns no I/O: the driver feeds it
// events and performs the outputs it returns.
//
// A room streams once. Later recipient-joined notifications are ignored, so a
// second receiver never triggers a second pass over the same file.
type Sender struct {
	state     SenderState
	roomID    string
	metadata  types.FileMetadata
	mode      types.DataPath
	recipient string
	next      int
	err       error
}

// NewSender returns a sender in the idle state.
func NewSender() *Sender {
	return &Sender{}
}

func (s *Sender) State() SenderState           { return s.state }
func (s *Sender) RoomID() string               { return s.roomID }
func (s *Sender) Metadata() types.FileMetadata { return s.metadata }
func (s *Sender) Mode() types.DataPath         { return s.mode }
func (s *Sender) Recipient() string            { return s.recipient }

// NextChunk is the index the streaming loop should emit next.
func (s *Sender) NextChunk() int { return s.next }

// Err is the failure that moved the session to Failed.
func (s *Sender) Err() error { return s.err }

// Handle applies one event and returns the new state plus the outputs to perform.
// A non-nil error means the event was rejected or failed the session.
func (s *Sender) Handle(ev Event) (SenderState, []Output, error) {
	if s.state.Terminal() {
		return s.state, nil, ErrInvalidTransition
	}

	switch e := ev.(type) {
	case Initiate:
		return s.initiate(e)
	case RoomCreated:
		if s.state != SenderAwaitingRoomAck {
			return s.reject()
		}
		if e.RoomID != s.roomID {
			return s.state, nil, ErrWrongRoom
		}
		s.state = SenderAwaitingRecipient
		return s.state, nil, nil

	case RoomError:
		if e.RoomID != "" && e.RoomID != s.roomID {
			return s.state, nil, ErrWrongRoom
		}
		if s.state == SenderAwaitingRoomAck {
			return s.fail(types.NewError(types.KindRoomCreationFailed, "%s", e.Reason))
		}
		return s.fail(&types.Error{Kind: e.Kind, Reason: e.Reason})

	case RecipientJoined:
		if e.RoomID != s.roomID {
			return s.state, nil, ErrWrongRoom
		}
		switch s.state {
		case SenderAwaitingRecipient:
			s.recipient = e.RecipientID
			s.state = SenderStreaming
			return s.state, []Output{StartStream{RoomID: s.roomID, RecipientID: e.RecipientID, Mode: s.mode}}, nil
		case SenderStreaming:
			return s.state, nil, nil
		default:
			return s.reject()
		}

	case ChunkSent:
		if s.state != SenderStreaming {
			return s.reject()
		}
		if e.Index != s.next {
			return s.fail(fmt.Errorf("chunk %d reported out of order, expected %d", e.Index, s.next))
		}
		s.next++
		if s.next < s.metadata.TotalChunks {
			return s.state, nil, nil
		}
		s.state = SenderCompleted
		return s.state, []Output{Send{
			Type:    types.MessageTypeTransferComplete,
			Payload: types.TransferCompletePayload{RoomID: s.roomID},
		}}, nil

	case EmitFailed:
		if s.state == SenderIdle {
			return s.reject()
		}
		return s.fail(e.Err)

	case TransferCancelled:
		if e.RoomID != "" && e.RoomID != s.roomID {
			return s.state, nil, ErrWrongRoom
		}
		return s.fail(types.NewError(types.KindPeerDisconnected, "%s", e.Reason))

	case Disconnected:
		if s.state == SenderIdle {
			return s.reject()
		}
		return s.fail(types.NewError(types.KindPeerDisconnected, "relay connection closed"))

	default:
		return s.reject()
	}
}

func (s *Sender) initiate(e Initiate) (SenderState, []Output, error) {
	if s.state != SenderIdle {
		return s.reject()
	}
	if !types.IsValidRoomID(e.RoomID) {
		return s.state, nil, types.NewError(types.KindRoomCreationFailed, "invalid room id %q", e.RoomID)
	}
	if err := e.Metadata.Validate(); err != nil {
		return s.state, nil, err
	}

	mode := e.Mode
	if mode == "" {
		mode = types.DataPathRelay
	}
	s.roomID = e.RoomID
	s.metadata = e.Metadata
	s.mode = mode
	s.state = SenderAwaitingRoomAck

	return s.state, []Output{Send{
		Type: types.MessageTypeCreateRoom,
		Payload: types.CreateRoomPayload{
			RoomID:   e.RoomID,
			Metadata: e.Metadata,
			Mode:     mode,
		},
	}}, nil
}

func (s *Sender) fail(err error) (SenderState, []Output, error) {
	s.state = SenderFailed
	s.err = err
	return s.state, nil, err
}

func (s *Sender) reject() (SenderState, []Output, error) {
	return s.state, nil, ErrInvalidTransition
}
