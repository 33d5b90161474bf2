package chunk

import "io"

// Reader adapts a Streamer to io.ReadCloser so it can be used as an HTTP
// request body. Closing the Reader closes the Streamer.
type Reader struct {
	s       *Streamer
	pending []byte
}

// NewReader wraps s.
func NewReader(s *Streamer) *Reader {
	return &Reader{s: s}
}

// Read implements io.Reader, pulling a new chunk whenever the previous one
// has been consumed.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if !r.s.Next() {
			if err := r.s.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		r.pending = r.s.Value()
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Close implements io.Closer.
func (r *Reader) Close() error {
	r.pending = nil
	return r.s.Close()
}
