package util

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// IncrementalReader streams a file's content in fixed-size chunks, used by
// ByteStream-style uploads that must not hold an entire blob in memory.
// Grounded on original_source's src/utils/cpp/incremental_reader.cpp, which
// wraps a file descriptor behind a "next chunk or done" interface.
type IncrementalReader struct {
	f         *os.File
	chunkSize int
	closed    bool
}

// NewIncrementalReader opens path for chunked reading.
func NewIncrementalReader(path string, chunkSize int) (*IncrementalReader, error) {
	if chunkSize <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s for incremental read: %w", path, err)
	}
	return &IncrementalReader{f: f, chunkSize: chunkSize}, nil
}

// Next returns the next chunk, or io.EOF once exhausted.
func (r *IncrementalReader) Next() ([]byte, error) {
	if r.closed {
		return nil, io.EOF
	}
	buf := make([]byte, r.chunkSize)
	n, err := r.f.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

// Close releases the underlying file.
func (r *IncrementalReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}

// ReadAllChunks drains the reader into fn, stopping on first error
// (io.EOF is swallowed as success).
func ReadAllChunks(r *IncrementalReader, fn func([]byte) error) error {
	for {
		chunk, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}
