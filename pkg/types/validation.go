package types

import (
	"regexp"
)

// MaxFileNameLength bounds the metadata file name.
const MaxFileNameLength = 255

// MaxRoomIDLength bounds room identifiers; a UUID string is 36 characters.
const MaxRoomIDLength = 128

var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidRoomID reports whether id is a non-empty URL-safe token.
func IsValidRoomID(id string) bool {
	if len(id) < 1 || len(id) > MaxRoomIDLength {
		return false
	}
	return roomIDRegex.MatchString(id)
}

// Validate checks the metadata against the fixed chunk size.
func (m FileMetadata) Validate() error {
	if m.FileName == "" {
		return NewError(KindMalformedMessage, "file name is required")
	}
	if len(m.FileName) > MaxFileNameLength {
		return NewError(KindMalformedMessage, "file name exceeds %d bytes", MaxFileNameLength)
	}
	if m.FileSize < 0 {
		return NewError(KindMalformedMessage, "file size must not be negative")
	}
	if want := TotalChunks(m.FileSize, ChunkSize); m.TotalChunks != want {
		return NewError(KindMalformedMessage, "totalChunks %d does not match size %d (want %d)",
			m.TotalChunks, m.FileSize, want)
	}
	return nil
}

// IsValidDataPath accepts the empty value as relay.
func IsValidDataPath(p DataPath) bool {
	switch p {
	case "", DataPathRelay, DataPathDirect:
		return true
	default:
		return false
	}
}

// Validate checks the frame header and payload size. It does not know the room's
// metadata; receivers cross-check TotalChunks themselves.
func (f *ChunkFrame) Validate() error {
	switch f.Type {
	case MessageTypeFileChunk:
	case MessageTypeTransferComplete:
		if !IsValidRoomID(f.RoomID) {
			return NewError(KindMalformedMessage, "invalid room id")
		}
		return nil
	default:
		return NewError(KindMalformedMessage, "unexpected frame type %q", f.Type)
	}
	if !IsValidRoomID(f.RoomID) {
		return NewError(KindMalformedMessage, "invalid room id")
	}
	if f.TotalChunks < 1 {
		return NewError(KindMalformedMessage, "totalChunks must be positive")
	}
	if f.ChunkIndex < 0 || f.ChunkIndex >= f.TotalChunks {
		return NewError(KindMalformedMessage, "chunk index %d out of range [0,%d)", f.ChunkIndex, f.TotalChunks)
	}
	if len(f.Chunk) > ChunkSize {
		return NewError(KindMalformedMessage, "chunk of %d bytes exceeds %d", len(f.Chunk), ChunkSize)
	}
	return nil
}
