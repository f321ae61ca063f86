package ai

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/suPer8Hu/repochat/internal/sse"
)

// Frame event names of the answer stream.
const (
	EventMeta  = "meta"
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// ErrMalformedFrame marks a frame whose data is not the JSON its event requires.
var ErrMalformedFrame = errors.New("malformed frame")

// Citation points an answer at a source. Index is 1-based and unique within one answer.
type Citation struct {
	Index int    `json:"index"`
	Repo  string `json:"repo"`
	Path  string `json:"path,omitempty"`
	URL   string `json:"url,omitempty"`
}

type MetaPayload struct {
	Citations []Citation `json:"citations"`
	SessionID string     `json:"sessionId,omitempty"`
}

type DeltaPayload struct {
	Delta string `json:"delta"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Event is a decoded frame. Only the field matching Kind is set.
type Event struct {
	Kind  string
	Meta  MetaPayload
	Delta string
	Error string
}

// ParseEvent decodes a frame's JSON data. Frames with unknown event names decode to an Event
// carrying just the name. Empty data counts as "{}".
func ParseEvent(f sse.Frame) (Event, error) {
	ev := Event{Kind: f.Event}
	data := f.Data
	if len(data) == 0 {
		data = []byte("{}")
	}

	var target any
	switch f.Event {
	case EventMeta:
		target = &ev.Meta
	case EventDelta:
		var p DeltaPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Event, err)
		}
		ev.Delta = p.Delta
		return ev, nil
	case EventError:
		var p ErrorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Event, err)
		}
		ev.Error = p.Error
		return ev, nil
	default:
		// done and unknown events carry nothing the turn needs, but must still be JSON
		target = &map[string]any{}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Event, err)
	}
	if ev.Kind == EventMeta && ev.Meta.Citations == nil {
		ev.Meta.Citations = []Citation{}
	}
	return ev, nil
}
