package sse

import (
	"context"
	"errors"
	"io"
)

const readChunkSize = 4 * 1024

// ErrIncompleteFrame is returned when the stream ends in the middle of a frame.
var ErrIncompleteFrame = errors.New("sse: stream ended inside a frame")

// Reader pulls frames from an io.Reader. The context is checked before every read, so a
// cancelled turn stops at the next chunk boundary at the latest.
type Reader struct {
	r   io.Reader
	dec Decoder
	buf []byte
	err error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, buf: make([]byte, readChunkSize)}
}

// Next blocks until a frame is complete, the stream ends or ctx is done. At the end of a
// well-formed stream it returns io.EOF.
func (r *Reader) Next(ctx context.Context) (Frame, error) {
	for {
		if f, ok := r.dec.Next(); ok {
			return f, nil
		}
		if r.err != nil {
			if errors.Is(r.err, io.EOF) && r.dec.Pending() > 0 && !onlyWhitespace(r.dec.buf) {
				return Frame{}, ErrIncompleteFrame
			}
			return Frame{}, r.err
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.dec.Feed(r.buf[:n])
		}
		if err != nil {
			r.err = err
		}
	}
}

func onlyWhitespace(b []byte) bool {
	for _, c := range b {
		if c != '\n' && c != ' ' && c != '\t' {
			return false
		}
	}
	return true
}
