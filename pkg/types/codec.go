package types

import (
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeChunkFrame serializes a frame for a binary websocket message or a data
// channel message.
func EncodeChunkFrame(f *ChunkFrame) ([]byte, error) {
	return msgpack.Marshal(f)
}

// DecodeChunkFrame parses and validates a binary frame.
func DecodeChunkFrame(data []byte) (*ChunkFrame, error) {
	var f ChunkFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, NewError(KindMalformedMessage, "invalid chunk frame: %v", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
