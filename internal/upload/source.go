package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChunkSource gives random access to the bytes being uploaded. OpenAt is
// called once per transfer attempt; the caller closes the returned reader.
type ChunkSource interface {
	Name() string
	Size() int64
	OpenAt(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

// Fingerprinter is implemented by sources that can identify their content
// cheaply. Only such sources are looked up in the asset cache.
type Fingerprinter interface {
	Fingerprint() string
}

func checkRange(name string, size, offset, length int64) error {
	if offset < 0 || length < 0 || offset+length > size {
		return fmt.Errorf("%s: range [%d, %d) outside [0, %d)", name, offset, offset+length, size)
	}
	return nil
}

// FileSource reads from a local file. A new handle is opened for every
// OpenAt call and released by the reader's Close.
type FileSource struct {
	path string
	size int64
	mod  int64
}

// NewFileSource stats path and returns a source for it.
func NewFileSource(path string) (*FileSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &FileSource{path: path, size: fi.Size(), mod: fi.ModTime().UnixNano()}, nil
}

func (s *FileSource) Name() string { return filepath.Base(s.path) }
func (s *FileSource) Size() int64  { return s.size }

func (s *FileSource) Fingerprint() string {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		abs = s.path
	}
	return fmt.Sprintf("file:%s:%d:%d", abs, s.size, s.mod)
}

func (s *FileSource) OpenAt(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	if err := checkRange(s.Name(), s.size, offset, length); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	return &sectionReadCloser{Reader: io.NewSectionReader(f, offset, length), c: f}, nil
}

type sectionReadCloser struct {
	io.Reader
	c io.Closer
}

func (s *sectionReadCloser) Close() error { return s.c.Close() }

// BytesSource serves an in-memory buffer.
type BytesSource struct {
	name string
	data []byte
}

func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{name: name, data: data}
}

func (s *BytesSource) Name() string { return s.name }
func (s *BytesSource) Size() int64  { return int64(len(s.data)) }

func (s *BytesSource) Fingerprint() string {
	sum := sha256.Sum256(s.data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (s *BytesSource) OpenAt(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	if err := checkRange(s.name, s.Size(), offset, length); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(s.data[offset : offset+length])), nil
}
