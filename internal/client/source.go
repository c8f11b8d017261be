package client

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Source is a file offered by a sender. Chunks are read on demand.
type Source struct {
	Name   string
	Type   string
	Size   int64
	Reader io.ReaderAt

	closer io.Closer
}

// OpenFile opens path for sending. The MIME type is guessed from the extension.
func OpenFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &Source{
		Name:   filepath.Base(path),
		Type:   mime.TypeByExtension(filepath.Ext(path)),
		Size:   info.Size(),
		Reader: f,
		closer: f,
	}, nil
}

// NewSource offers an in-memory file.
func NewSource(name, fileType string, data []byte) *Source {
	return &Source{Name: name, Type: fileType, Size: int64(len(data)), Reader: bytes.NewReader(data)}
}

func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// NewRoomID returns a fresh 128-bit random room id.
func NewRoomID() string {
	return uuid.New().String()
}
