package transfer

import (
	"fmt"
	"io"
	"math"

	"dropline/pkg/types"
)

// Chunker slices a file into fixed-size chunks on demand. Only the chunk being
// sent is held in memory.
type Chunker struct {
	r         io.ReaderAt
	size      int64
	chunkSize int
}

// NewChunker slices r, of the given size, into types.ChunkSize chunks.
func NewChunker(r io.ReaderAt, size int64) *Chunker {
	return &Chunker{r: r, size: size, chunkSize: types.ChunkSize}
}

// Total is the number of chunks, at least one.
func (c *Chunker) Total() int {
	return types.TotalChunks(c.size, c.chunkSize)
}

// Chunk reads chunk index fully.
func (c *Chunker) Chunk(index int) ([]byte, error) {
	if index < 0 || index >= c.Total() {
		return nil, ErrChunkOutOfRange
	}
	start, end := types.ChunkBounds(index, c.size, c.chunkSize)
	buf := make([]byte, end-start)
	if _, err := io.ReadFull(io.NewSectionReader(c.r, start, end-start), buf); err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	return buf, nil
}

// Frame reads chunk index and wraps it for the wire.
func (c *Chunker) Frame(roomID string, index int) (*types.ChunkFrame, error) {
	data, err := c.Chunk(index)
	if err != nil {
		return nil, err
	}
	return &types.ChunkFrame{
		Type:        types.MessageTypeFileChunk,
		RoomID:      roomID,
		ChunkIndex:  index,
		TotalChunks: c.Total(),
		Chunk:       data,
	}, nil
}

// Percent is received/total as a whole percentage, rounded half away from zero.
func Percent(received, total int) int {
	if total <= 0 {
		return 0
	}
	if received >= total {
		return 100
	}
	return int(math.Round(float64(received) * 100 / float64(total)))
}
