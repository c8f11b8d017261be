package transfer

import (
	"dropline/pkg/types"
)

// Event is an input to a session state machine.
type Event interface {
	event()
}

// Initiate starts a sender session.
type Initiate struct {
	RoomID   string
	Metadata types.FileMetadata
	Mode     types.DataPath
}

// RoomCreated is the relay's acknowledgement of create-room.
type RoomCreated struct{ RoomID string }

// RoomError is a room-error from the relay.
type RoomError struct {
	RoomID string
	Kind   types.ErrorKind
	Reason string
}

// RecipientJoined tells the sender a receiver entered the room.
type RecipientJoined struct {
	RoomID      string
	RecipientID string
}

// ChunkSent reports that the data path accepted chunk Index.
type ChunkSent struct{ Index int }

// EmitFailed reports a send error from the connection or data path.
type EmitFailed struct{ Err error }

// Join starts a receiver session.
type Join struct{ RoomID string }

// JoinSent reports that join-room left the client.
type JoinSent struct{}

// ReadyToReceive carries the room metadata to the receiver.
type ReadyToReceive struct {
	RoomID   string
	SenderID string
	Metadata types.FileMetadata
	Mode     types.DataPath
}

// ChunkReceived delivers one chunk frame to the receiver.
type ChunkReceived struct{ Frame *types.ChunkFrame }

// TransferComplete is the sender's completion signal as seen by the receiver.
type TransferComplete struct{ RoomID string }

// TransferCancelled is the relay's cancellation notice.
type TransferCancelled struct {
	RoomID string
	Reason string
}

// Timeout fires when the receiver's wall-clock ceiling elapses.
type Timeout struct{}

// Disconnected reports that the client's connection to the relay closed.
type Disconnected struct{ Err error }

func (Initiate) event()          {}
func (RoomCreated) event()       {}
func (RoomError) event()         {}
func (RecipientJoined) event()   {}
func (ChunkSent) event()         {}
func (EmitFailed) event()        {}
func (Join) event()              {}
func (JoinSent) event()          {}
func (ReadyToReceive) event()    {}
func (ChunkReceived) event()     {}
func (TransferComplete) event()  {}
func (TransferCancelled) event() {}
func (Timeout) event()           {}
func (Disconnected) event()      {}

// Output is an effect requested by a state machine. The driver performs it.
type Output interface {
	output()
}

// Send asks the driver to emit a control message through the relay connection.
type Send struct {
	Type    string
	Payload interface{}
}

// StartStream asks the driver to open the data path to a recipient and stream
// every chunk, reporting each with ChunkSent.
type StartStream struct {
	RoomID      string
	RecipientID string
	Mode        types.DataPath
}

// Progress reports receiver progress after a new chunk.
type Progress struct {
	Received int
	Total    int
	Percent  int
}

// Delivered hands the assembled file to the caller. Ownership of the blob moves
// with it.
type Delivered struct{ Blob *Blob }

func (Send) output()        {}
func (StartStream) output() {}
func (Progress) output()    {}
func (Delivered) output()   {}
