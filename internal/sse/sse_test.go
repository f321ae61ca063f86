package sse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "event: meta\ndata: {\"citations\":[],\"sessionId\":\"s1\"}\n\n" +
	"event: delta\ndata: {\"delta\":\"Hel\"}\n\n" +
	": keepalive\n\n" +
	"event: delta\ndata: {\"delta\":\"lo\"}\n\n" +
	"event: done\ndata: {}\n\n"

func drain(d *Decoder) []Frame {
	var out []Frame
	for {
		f, ok := d.Next()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func TestDecoder_WholeInput(t *testing.T) {
	var d Decoder
	d.Feed([]byte(sample))
	frames := drain(&d)

	require.Len(t, frames, 4)
	assert.Equal(t, "meta", frames[0].Event)
	assert.Equal(t, `{"delta":"Hel"}`, string(frames[1].Data))
	assert.Equal(t, "done", frames[3].Event)
	assert.Zero(t, d.Pending())
}

func TestDecoder_SplitAnywhereReassemblesSameFrames(t *testing.T) {
	var whole Decoder
	whole.Feed([]byte(sample))
	want := drain(&whole)

	for cut := 1; cut < len(sample); cut++ {
		var d Decoder
		d.Feed([]byte(sample[:cut]))
		got := drain(&d)
		d.Feed([]byte(sample[cut:]))
		got = append(got, drain(&d)...)

		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("split at %d (%q|%q) mismatch (-want +got):\n%s", cut, sample[:cut], sample[cut:], diff)
		}
	}
}

func TestDecoder_PartialBlockIsRetained(t *testing.T) {
	var d Decoder
	d.Feed([]byte("event: delta\ndata: {\"del"))
	_, ok := d.Next()
	assert.False(t, ok)
	assert.Positive(t, d.Pending())

	d.Feed([]byte("ta\":\"x\"}\n"))
	_, ok = d.Next()
	assert.False(t, ok, "a single newline does not end the frame")

	d.Feed([]byte("\n"))
	f, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, Frame{Event: "delta", Data: []byte(`{"delta":"x"}`)}, f)
}

func TestDecoder_CRLFSplitAcrossFeeds(t *testing.T) {
	in := strings.ReplaceAll(sample, "\n", "\r\n")
	var whole Decoder
	whole.Feed([]byte(sample))
	want := drain(&whole)

	for cut := 1; cut < len(in); cut++ {
		var d Decoder
		d.Feed([]byte(in[:cut]))
		got := drain(&d)
		d.Feed([]byte(in[cut:]))
		got = append(got, drain(&d)...)
		require.Empty(t, cmp.Diff(want, got), "cut=%d", cut)
	}
}

func TestDecoder_DefaultsAndMultilineData(t *testing.T) {
	var d Decoder
	d.Feed([]byte("data: line1\ndata:line2\nid: 7\nretry: 100\n\n\n\nevent: ping\n\n"))
	frames := drain(&d)

	require.Len(t, frames, 2)
	assert.Equal(t, DefaultEvent, frames[0].Event)
	assert.Equal(t, "line1\nline2", string(frames[0].Data))
	assert.Equal(t, "ping", frames[1].Event)
	assert.Empty(t, frames[1].Data)
}

func TestReader_OneByteAtATime(t *testing.T) {
	r := NewReader(iotest.OneByteReader(strings.NewReader(sample)))
	var events []string
	for {
		f, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		events = append(events, f.Event)
	}
	assert.Equal(t, []string{"meta", "delta", "delta", "done"}, events)
}

func TestReader_IncompleteTrailingFrame(t *testing.T) {
	r := NewReader(strings.NewReader("event: delta\ndata: {}\n\nevent: delta\ndata: {"))
	_, err := r.Next(context.Background())
	require.NoError(t, err)
	_, err = r.Next(context.Background())
	assert.ErrorIs(t, err, ErrIncompleteFrame)
}

func TestReader_StopsOnCancelledContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	go func() {
		_, _ = pw.Write([]byte("event: delta\ndata: {}\n\n"))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	r := NewReader(pr)
	_, err := r.Next(ctx)
	require.NoError(t, err)

	cancel()
	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriter_OutputDecodes(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteEvent("meta", map[string]any{"citations": []any{}}))
	require.NoError(t, w.WriteKeepAlive())
	require.NoError(t, w.WriteRaw("delta", []byte("a\nb")))
	require.NoError(t, w.WriteRaw(DefaultEvent, []byte("plain")))

	assert.Contains(t, buf.String(), "event: meta\ndata: {\"citations\":[]}\n\n")

	var d Decoder
	d.Feed(buf.Bytes())
	frames := drain(&d)
	require.Len(t, frames, 3)
	assert.Equal(t, "a\nb", string(frames[1].Data))
	assert.Equal(t, Frame{Event: DefaultEvent, Data: []byte("plain")}, frames[2])
}
