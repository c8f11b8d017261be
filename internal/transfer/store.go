package transfer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dropline/pkg/types"
)

// ChunkStore buffers the chunks of one file, keyed by index, until every index is
// present. It is owned by a single receiver and is not safe for concurrent use.
type ChunkStore interface {
	// Put stores data at index. It reports false, without touching the stored
	// bytes, when index is already present.
	Put(index int, data []byte) (bool, error)

	// Received is the number of distinct indices stored.
	Received() int

	// Assemble concatenates the chunks in index order. The store hands its bytes to
	// the blob and cannot be used afterwards.
	Assemble(metadata types.FileMetadata) (*Blob, error)

	// Discard drops every chunk. Safe to call more than once.
	Discard() error
}

// StoreFactory builds the buffer for a file once its metadata is known.
type StoreFactory func(metadata types.FileMetadata) (ChunkStore, error)

// MemoryStoreFactory keeps chunks on the heap.
func MemoryStoreFactory(metadata types.FileMetadata) (ChunkStore, error) {
	return NewMemoryStore(metadata.TotalChunks), nil
}

// SpillStoreFactory writes chunks to a temporary file under dir ("" for the
// system temp directory).
func SpillStoreFactory(dir string) StoreFactory {
	return func(metadata types.FileMetadata) (ChunkStore, error) {
		return NewSpillStore(dir, metadata.TotalChunks)
	}
}

// MemoryStore is a ChunkStore backed by a slice of chunks.
type MemoryStore struct {
	chunks   [][]byte
	present  []bool
	received int
	closed   bool
}

func NewMemoryStore(total int) *MemoryStore {
	return &MemoryStore{
		chunks:  make([][]byte, total),
		present: make([]bool, total),
	}
}

func (m *MemoryStore) Put(index int, data []byte) (bool, error) {
	if m.closed {
		return false, ErrStoreClosed
	}
	if index < 0 || index >= len(m.chunks) {
		return false, ErrChunkOutOfRange
	}
	if m.present[index] {
		return false, nil
	}
	m.chunks[index] = data
	m.present[index] = true
	m.received++
	return true, nil
}

func (m *MemoryStore) Received() int { return m.received }

func (m *MemoryStore) Assemble(metadata types.FileMetadata) (*Blob, error) {
	if m.closed {
		return nil, ErrStoreClosed
	}
	if m.received != len(m.chunks) {
		return nil, types.NewError(types.KindIncompleteTransfer, "%d of %d chunks present", m.received, len(m.chunks))
	}

	buf := bytes.NewBuffer(make([]byte, 0, metadata.FileSize))
	for _, chunk := range m.chunks {
		buf.Write(chunk)
	}
	m.chunks, m.present, m.closed = nil, nil, true

	if int64(buf.Len()) != metadata.FileSize {
		return nil, types.NewError(types.KindIncompleteTransfer, "assembled %d bytes, expected %d", buf.Len(), metadata.FileSize)
	}
	return &Blob{Name: metadata.FileName, Type: metadata.FileType, Size: metadata.FileSize, data: buf.Bytes()}, nil
}

func (m *MemoryStore) Discard() error {
	m.chunks, m.present, m.closed = nil, nil, true
	return nil
}

// SpillStore is a ChunkStore that writes every chunk at its final offset in a
// temporary file, so assembly is free and memory stays flat.
type SpillStore struct {
	file     *os.File
	present  []bool
	received int
	closed   bool
}

func NewSpillStore(dir string, total int) (*SpillStore, error) {
	f, err := os.CreateTemp(dir, "dropline-*.part")
	if err != nil {
		return nil, fmt.Errorf("create spill file: %w", err)
	}
	return &SpillStore{file: f, present: make([]bool, total)}, nil
}

// Path is the location of the spill file.
func (s *SpillStore) Path() string { return s.file.Name() }

func (s *SpillStore) Put(index int, data []byte) (bool, error) {
	if s.closed {
		return false, ErrStoreClosed
	}
	if index < 0 || index >= len(s.present) {
		return false, ErrChunkOutOfRange
	}
	if s.present[index] {
		return false, nil
	}
	if _, err := s.file.WriteAt(data, int64(index)*types.ChunkSize); err != nil {
		return false, fmt.Errorf("spill chunk %d: %w", index, err)
	}
	s.present[index] = true
	s.received++
	return true, nil
}

func (s *SpillStore) Received() int { return s.received }

func (s *SpillStore) Assemble(metadata types.FileMetadata) (*Blob, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.received != len(s.present) {
		return nil, types.NewError(types.KindIncompleteTransfer, "%d of %d chunks present", s.received, len(s.present))
	}
	info, err := s.file.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() != metadata.FileSize {
		return nil, types.NewError(types.KindIncompleteTransfer, "assembled %d bytes, expected %d", info.Size(), metadata.FileSize)
	}
	s.closed = true
	return &Blob{Name: metadata.FileName, Type: metadata.FileType, Size: metadata.FileSize, file: s.file}, nil
}

func (s *SpillStore) Discard() error {
	if s.closed {
		return nil
	}
	s.closed = true
	name := s.file.Name()
	_ = s.file.Close()
	return os.Remove(name)
}

// Blob is an assembled file tagged with its name and MIME type. It owns the bytes
// it was assembled from; Close releases them.
type Blob struct {
	Name string
	Type string
	Size int64

	data []byte
	file *os.File
}

// Reader returns a reader over the whole file.
func (b *Blob) Reader() io.Reader {
	if b.file != nil {
		return io.NewSectionReader(b.file, 0, b.Size)
	}
	return bytes.NewReader(b.data)
}

// Bytes reads the whole file into memory.
func (b *Blob) Bytes() ([]byte, error) {
	if b.file == nil {
		return b.data, nil
	}
	return io.ReadAll(b.Reader())
}

// SaveAs writes the file to path and releases the blob. A spilled blob is moved
// into place when path is on the same filesystem.
func (b *Blob) SaveAs(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if b.file == nil {
		if err := os.WriteFile(path, b.data, 0o644); err != nil {
			return err
		}
		b.data = nil
		return nil
	}

	tmp := b.file.Name()
	if err := b.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err == nil {
		b.file = nil
		return nil
	}

	src, err := os.Open(tmp)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	_ = os.Remove(tmp)
	b.file = nil
	return nil
}

// Close releases the blob's storage.
func (b *Blob) Close() error {
	b.data = nil
	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	_ = b.file.Close()
	b.file = nil
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
