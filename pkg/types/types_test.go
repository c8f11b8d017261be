package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		name string
		size int64
		want int
	}{
		{"empty file", 0, 1},
		{"one byte", 1, 1},
		{"exactly one chunk", ChunkSize, 1},
		{"one chunk plus one byte", ChunkSize + 1, 2},
		{"150000 bytes", 150000, 3},
		{"ten chunks", 10 * ChunkSize, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TotalChunks(tt.size, ChunkSize))
		})
	}
}

func TestChunkBounds_SumToFileSize(t *testing.T) {
	for _, size := range []int64{0, 1, 65535, 65536, 65537, 150000, 1 << 20} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			total := TotalChunks(size, ChunkSize)
			var sum int64
			for i := 0; i < total; i++ {
				start, end := ChunkBounds(i, size, ChunkSize)
				length := end - start
				if i < total-1 {
					assert.Equal(t, int64(ChunkSize), length, "chunk %d must be full", i)
				} else {
					assert.LessOrEqual(t, length, int64(ChunkSize))
				}
				sum += length
			}
			assert.Equal(t, size, sum)
		})
	}
}

func TestChunkBounds_150000(t *testing.T) {
	start, end := ChunkBounds(2, 150000, ChunkSize)
	assert.Equal(t, int64(131072), start)
	assert.Equal(t, int64(150000), end)
	assert.Equal(t, int64(18928), end-start)
}

func TestFileMetadata_Validate(t *testing.T) {
	tests := []struct {
		name     string
		metadata FileMetadata
		wantKind ErrorKind
	}{
		{"valid", NewFileMetadata("report.pdf", 150000, "application/pdf"), ""},
		{"empty file", NewFileMetadata("empty.txt", 0, ""), ""},
		{"missing name", NewFileMetadata("", 10, "text/plain"), KindMalformedMessage},
		{"long name", NewFileMetadata(strings.Repeat("a", MaxFileNameLength+1), 10, ""), KindMalformedMessage},
		{"negative size", FileMetadata{FileName: "x", FileSize: -1, TotalChunks: 1}, KindMalformedMessage},
		{"wrong chunk count", FileMetadata{FileName: "x", FileSize: 150000, TotalChunks: 2}, KindMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.metadata.Validate()
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantKind, KindOf(err))
		})
	}
}

func TestIsValidRoomID(t *testing.T) {
	assert.True(t, IsValidRoomID("3f2b8c1e-7d4a-4e2b-9c1a-0b5e6d7f8a9b"))
	assert.True(t, IsValidRoomID("abc_123"))
	assert.False(t, IsValidRoomID(""))
	assert.False(t, IsValidRoomID("room with spaces"))
	assert.False(t, IsValidRoomID("../etc"))
	assert.False(t, IsValidRoomID(strings.Repeat("a", MaxRoomIDLength+1)))
}

func TestEnvelope_Decode(t *testing.T) {
	env, err := NewEnvelope(MessageTypeJoinRoom, JoinRoomPayload{RoomID: "r1"})
	require.NoError(t, err)

	parsed, err := ParseEnvelope([]byte(`{"type":"join-room","payload":{"roomId":"r1"}}`))
	require.NoError(t, err)
	assert.Equal(t, env.Type, parsed.Type)

	var payload JoinRoomPayload
	require.NoError(t, parsed.Decode(&payload))
	assert.Equal(t, "r1", payload.RoomID)
}

func TestEnvelope_Malformed(t *testing.T) {
	_, err := ParseEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = ParseEnvelope([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	env := &Envelope{Type: MessageTypeCreateRoom}
	var payload CreateRoomPayload
	assert.ErrorIs(t, env.Decode(&payload), ErrMalformedMessage)

	env.Payload = []byte(`{"roomId": 42}`)
	assert.ErrorIs(t, env.Decode(&payload), ErrMalformedMessage)
}

func TestChunkFrame_RoundTrip(t *testing.T) {
	frame := &ChunkFrame{
		Type:        MessageTypeFileChunk,
		RoomID:      "room-1",
		ChunkIndex:  2,
		TotalChunks: 3,
		Chunk:       []byte{0x00, 0xff, 0x10},
	}

	data, err := EncodeChunkFrame(frame)
	require.NoError(t, err)

	decoded, err := DecodeChunkFrame(data)
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
}

func TestChunkFrame_Validate(t *testing.T) {
	tests := []struct {
		name    string
		frame   ChunkFrame
		wantErr bool
	}{
		{"valid", ChunkFrame{Type: MessageTypeFileChunk, RoomID: "r", ChunkIndex: 0, TotalChunks: 1}, false},
		{"completion", ChunkFrame{Type: MessageTypeTransferComplete, RoomID: "r"}, false},
		{"unknown type", ChunkFrame{Type: "bogus", RoomID: "r", TotalChunks: 1}, true},
		{"bad room", ChunkFrame{Type: MessageTypeFileChunk, RoomID: "", TotalChunks: 1}, true},
		{"index past end", ChunkFrame{Type: MessageTypeFileChunk, RoomID: "r", ChunkIndex: 3, TotalChunks: 3}, true},
		{"negative index", ChunkFrame{Type: MessageTypeFileChunk, RoomID: "r", ChunkIndex: -1, TotalChunks: 3}, true},
		{"zero total", ChunkFrame{Type: MessageTypeFileChunk, RoomID: "r", TotalChunks: 0}, true},
		{"oversized", ChunkFrame{Type: MessageTypeFileChunk, RoomID: "r", TotalChunks: 1, Chunk: make([]byte, ChunkSize+1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeChunkFrame_Garbage(t *testing.T) {
	_, err := DecodeChunkFrame([]byte{0xc1, 0x00})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestError_Is(t *testing.T) {
	err := NewError(KindRoomNotFound, "room %s", "abc")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.NotErrorIs(t, err, ErrDuplicateRoom)

	wrapped := fmt.Errorf("join: %w", err)
	assert.ErrorIs(t, wrapped, ErrRoomNotFound)
	assert.Equal(t, KindRoomNotFound, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "room_not_found: room abc", err.Error())
}
