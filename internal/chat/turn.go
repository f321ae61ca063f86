package chat

import (
	"strings"

	"github.com/suPer8Hu/repochat/internal/ai"
)

// Phase is the lifecycle position of one turn:
//
//	Idle -> Opening -> Streaming -> Completed | Cancelled | Failed
//
// Cancellation and failure are also reachable from Opening.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOpening
	PhaseStreaming
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOpening:
		return "opening"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// Effect tells the caller what to do after applying an event.
type Effect int

const (
	EffectNone Effect = iota
	EffectRelayMeta
	EffectRelayDelta
	EffectComplete
	EffectFail
)

// TurnState is the state of one turn. It is a value: every transition returns the next state
// and leaves the receiver untouched.
type TurnState struct {
	Phase     Phase
	SessionID string
	// ActiveRepo starts as the repository the turn was submitted for and follows the
	// citation majority afterwards.
	ActiveRepo string
	Citations  []ai.Citation
	MetaSeen   bool
	Answer     string
	Err        string
}

// NewTurn returns a turn in the Opening phase.
func NewTurn(sessionID, repo string) TurnState {
	return TurnState{Phase: PhaseOpening, SessionID: sessionID, ActiveRepo: repo}
}

// Open moves an Opening turn to Streaming once the provider stream is available.
func (t TurnState) Open() TurnState {
	if t.Phase == PhaseOpening {
		t.Phase = PhaseStreaming
	}
	return t
}

// Cancel ends a live turn silently.
func (t TurnState) Cancel() TurnState {
	if !t.Phase.Terminal() {
		t.Phase = PhaseCancelled
	}
	return t
}

// Fail ends a live turn with a user-visible message.
func (t TurnState) Fail(msg string) TurnState {
	if !t.Phase.Terminal() {
		t.Phase = PhaseFailed
		t.Err = msg
	}
	return t
}

// Apply advances a Streaming turn by one decoded frame. Events outside Streaming, and events
// of unknown kind, change nothing.
func (t TurnState) Apply(ev ai.Event) (TurnState, Effect) {
	if t.Phase != PhaseStreaming {
		return t, EffectNone
	}
	switch ev.Kind {
	case ai.EventMeta:
		t.Citations = dedupeCitations(ev.Meta.Citations)
		t.MetaSeen = true
		if t.SessionID == "" && ev.Meta.SessionID != "" {
			t.SessionID = ev.Meta.SessionID
		}
		if repo := majorityRepo(t.Citations); repo != "" {
			t.ActiveRepo = repo
		}
		return t, EffectRelayMeta
	case ai.EventDelta:
		t.Answer += ev.Delta
		return t, EffectRelayDelta
	case ai.EventDone:
		if !t.MetaSeen {
			t.Citations = []ai.Citation{}
			t.MetaSeen = true
		}
		t.Phase = PhaseCompleted
		return t, EffectComplete
	case ai.EventError:
		t.Phase = PhaseFailed
		t.Err = ev.Error
		if strings.TrimSpace(t.Err) == "" {
			t.Err = GenericFailure
		}
		return t, EffectFail
	default:
		return t, EffectNone
	}
}

// dedupeCitations drops citations whose index was already seen, keeping the first.
func dedupeCitations(in []ai.Citation) []ai.Citation {
	out := make([]ai.Citation, 0, len(in))
	seen := make(map[int]struct{}, len(in))
	for _, c := range in {
		if _, ok := seen[c.Index]; ok {
			continue
		}
		seen[c.Index] = struct{}{}
		out = append(out, c)
	}
	return out
}

// majorityRepo returns the most cited repository. Ties go to the one cited first.
func majorityRepo(citations []ai.Citation) string {
	counts := make(map[string]int)
	var order []string
	for _, c := range citations {
		if c.Repo == "" {
			continue
		}
		if counts[c.Repo] == 0 {
			order = append(order, c.Repo)
		}
		counts[c.Repo]++
	}
	best, bestN := "", 0
	for _, r := range order {
		if counts[r] > bestN {
			best, bestN = r, counts[r]
		}
	}
	return best
}
