// Package chunk streams a local file as a finite sequence of byte buffers.
//
// A Streamer is single-use: once exhausted, closed or failed it cannot be
// rewound. Open a new one to read the file again.
package chunk

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultSize is the chunk size used when a non-positive size is given.
const DefaultSize = 512 * 1024

// Streamer reads a file in fixed-size chunks.
//
// It follows the Next/Value/Err/Close iterator contract: call Next until it
// returns false, then check Err. Close may be called at any point and is
// idempotent. The file is released as soon as the last chunk has been
// produced, on the first read error, or on Close, whichever comes first.
type Streamer struct {
	path      string
	file      *os.File
	size      int64
	chunkSize int

	current []byte
	err     error
	done    bool
}

// Open opens path for reading and returns a Streamer producing chunks of at
// most chunkSize bytes.
func Open(path string, chunkSize int) (*Streamer, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultSize
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, &os.PathError{Op: "open", Path: path, Err: errors.New("is a directory")}
	}

	return &Streamer{
		path:      path,
		file:      f,
		size:      info.Size(),
		chunkSize: chunkSize,
	}, nil
}

// Next reads the next chunk. It returns false once the file is exhausted or
// a read fails.
func (s *Streamer) Next() bool {
	if s.done {
		return false
	}

	// Each chunk gets its own buffer; the caller owns it after Next.
	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.file, buf)
	switch {
	case err == nil:
		s.current = buf
		return true
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.current = buf[:n]
		s.finish(nil)
		return true
	case errors.Is(err, io.EOF):
		s.current = nil
		s.finish(nil)
		return false
	default:
		s.current = nil
		s.finish(fmt.Errorf("read %s: %w", s.path, err))
		return false
	}
}

// Value returns the chunk produced by the last successful Next.
func (s *Streamer) Value() []byte {
	return s.current
}

// Err returns the read error that stopped iteration, if any.
func (s *Streamer) Err() error {
	return s.err
}

// Close releases the file handle.
func (s *Streamer) Close() error {
	if s.done && s.file == nil {
		return nil
	}
	s.done = true
	return s.release()
}

// Size returns the file size observed at Open.
func (s *Streamer) Size() int64 {
	return s.size
}

// Path returns the path the streamer was opened on.
func (s *Streamer) Path() string {
	return s.path
}

// Chunks returns how many buffers a file of the streamer's size produces.
func (s *Streamer) Chunks() int64 {
	return Count(s.size, s.chunkSize)
}

func (s *Streamer) finish(err error) {
	s.done = true
	s.err = err
	if cerr := s.release(); cerr != nil && s.err == nil {
		s.err = cerr
	}
}

func (s *Streamer) release() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Count returns ceil(size/chunkSize).
func Count(size int64, chunkSize int) int64 {
	if chunkSize <= 0 {
		chunkSize = DefaultSize
	}
	if size <= 0 {
		return 0
	}
	c := int64(chunkSize)
	return (size + c - 1) / c
}
