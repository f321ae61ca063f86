// Package sse implements the event-stream framing used between the answer provider, this
// service and its clients: "event: <name>" and "data: <payload>" lines, one frame per
// blank-line-terminated block.
package sse

import (
	"bytes"
	"strings"
)

// DefaultEvent is the event name of a frame without an "event:" line.
const DefaultEvent = "message"

// Frame is one decoded block. Data holds the "data:" lines joined by "\n".
type Frame struct {
	Event string
	Data  []byte
}

// Decoder reassembles frames from arbitrarily split input. Feed it bytes as they arrive and
// drain complete frames with Next; an incomplete trailing block stays buffered until the
// rest of it is fed.
//
// Line endings may be "\n", "\r\n" or "\r", also when a "\r\n" pair is split across Feed calls.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf    []byte
	lastCR bool
}

// Feed appends p to the decoder's buffer.
func (d *Decoder) Feed(p []byte) {
	for _, b := range p {
		if d.lastCR && b == '\n' {
			d.lastCR = false
			continue
		}
		d.lastCR = b == '\r'
		if b == '\r' {
			b = '\n'
		}
		d.buf = append(d.buf, b)
	}
}

// Next returns the next complete frame. ok is false when no complete frame is buffered.
// Blocks holding only comments or blank lines are skipped.
func (d *Decoder) Next() (f Frame, ok bool) {
	for {
		idx := bytes.Index(d.buf, []byte("\n\n"))
		if idx < 0 {
			return Frame{}, false
		}
		block := string(d.buf[:idx])
		d.buf = append(d.buf[:0], d.buf[idx+2:]...)

		if f, ok := parseBlock(block); ok {
			return f, true
		}
	}
}

// Pending is the number of buffered bytes not yet part of a complete frame.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

func parseBlock(block string) (Frame, bool) {
	var (
		event    string
		data     []string
		hasField bool
	)
	for _, line := range strings.Split(block, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
			hasField = true
		case "data":
			data = append(data, value)
			hasField = true
		}
	}
	if !hasField {
		return Frame{}, false
	}
	if event == "" {
		event = DefaultEvent
	}
	return Frame{Event: event, Data: []byte(strings.Join(data, "\n"))}, true
}
