package types

import (
	"encoding/json"
)

// Message type names carried in the envelope "type" field.
// file-chunk travels as a binary frame, every other message as a JSON text frame.
const (
	MessageTypeCreateRoom        = "create-room"
	MessageTypeRoomCreated       = "room-created"
	MessageTypeRoomError         = "room-error"
	MessageTypeJoinRoom          = "join-room"
	MessageTypeRecipientJoined   = "recipient-joined"
	MessageTypeReadyToReceive    = "ready-to-receive"
	MessageTypeFileChunk         = "file-chunk"
	MessageTypeTransferComplete  = "transfer-complete"
	MessageTypeTransferCancelled = "transfer-cancelled"
	MessageTypeSignal            = "signal"
)

// ChunkSize is the fixed slice size used by senders. Every chunk except the last
// one of a file is exactly this long.
const ChunkSize = 64 * 1024

// DataPath selects how chunk bytes travel between the two peers once a room exists.
type DataPath string

const (
	// DataPathRelay streams chunks through the relay broker.
	DataPathRelay DataPath = "relay"
	// DataPathDirect uses the relay for signaling only and streams chunks over a
	// WebRTC data channel.
	DataPathDirect DataPath = "direct"
)

// FileMetadata describes the file offered in a room. Immutable once created.
type FileMetadata struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	FileType    string `json:"fileType"`
	TotalChunks int    `json:"totalChunks"`
}

// NewFileMetadata computes the chunk count for a file of the given size.
func NewFileMetadata(name string, size int64, fileType string) FileMetadata {
	return FileMetadata{
		FileName:    name,
		FileSize:    size,
		FileType:    fileType,
		TotalChunks: TotalChunks(size, ChunkSize),
	}
}

// TotalChunks returns ceil(size/chunkSize), with a floor of one so an empty file
// still produces a single (empty) chunk.
func TotalChunks(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 1
	}
	c := int64(chunkSize)
	return int((size + c - 1) / c)
}

// ChunkBounds returns the byte range [start, end) of chunk index within a file.
func ChunkBounds(index int, size int64, chunkSize int) (start, end int64) {
	start = int64(index) * int64(chunkSize)
	end = start + int64(chunkSize)
	if end > size {
		end = size
	}
	if start > size {
		start = size
	}
	return start, end
}

// Envelope is the JSON shape of every text frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	env := &Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = data
	}
	return env, nil
}

// Decode unmarshals the payload into v. A missing or mistyped payload is reported
// as a malformed message.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return NewError(KindMalformedMessage, "%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return NewError(KindMalformedMessage, "%s: %v", e.Type, err)
	}
	return nil
}

// ParseEnvelope decodes a text frame.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewError(KindMalformedMessage, "invalid JSON envelope: %v", err)
	}
	if env.Type == "" {
		return nil, NewError(KindMalformedMessage, "envelope without type")
	}
	return &env, nil
}

// CreateRoomPayload is sent by a sender to open a room.
type CreateRoomPayload struct {
	RoomID   string       `json:"roomId"`
	Metadata FileMetadata `json:"metadata"`
	Mode     DataPath     `json:"mode,omitempty"`
}

// RoomCreatedPayload acknowledges a create-room.
type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
}

// RoomErrorPayload reports a relay-side error to the offending connection.
type RoomErrorPayload struct {
	RoomID string    `json:"roomId,omitempty"`
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

// JoinRoomPayload is sent by a receiver to enter a room.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// RecipientJoinedPayload tells the sender a receiver joined.
type RecipientJoinedPayload struct {
	RecipientID string `json:"recipientId"`
	RoomID      string `json:"roomId"`
}

// ReadyToReceivePayload hands the room metadata to a receiver.
type ReadyToReceivePayload struct {
	RoomID   string       `json:"roomId"`
	SenderID string       `json:"senderId"`
	Metadata FileMetadata `json:"metadata"`
	Mode     DataPath     `json:"mode"`
}

// TransferCompletePayload is the sender's completion request and, with the same
// shape, the relay's notification to the other members.
type TransferCompletePayload struct {
	RoomID string `json:"roomId"`
}

// TransferCancelledPayload notifies receivers that the room is gone.
type TransferCancelledPayload struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

// SignalKind distinguishes the two halves of an SDP exchange.
type SignalKind string

const (
	SignalOffer  SignalKind = "offer"
	SignalAnswer SignalKind = "answer"
)

// SignalPayload carries WebRTC session descriptions between two members of a room.
// From is filled in by the relay; clients set To.
type SignalPayload struct {
	RoomID string     `json:"roomId"`
	From   string     `json:"from,omitempty"`
	To     string     `json:"to"`
	Kind   SignalKind `json:"kind"`
	SDP    string     `json:"sdp"`
}

// ChunkFrame is the binary (msgpack) frame for file bytes. On the direct data path a
// frame of type transfer-complete closes the stream.
type ChunkFrame struct {
	Type        string `msgpack:"type"`
	RoomID      string `msgpack:"roomId"`
	ChunkIndex  int    `msgpack:"chunkIndex"`
	TotalChunks int    `msgpack:"totalChunks"`
	Chunk       []byte `msgpack:"chunk"`
}
