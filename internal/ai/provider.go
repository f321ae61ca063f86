package ai

import (
	"context"
	"errors"
	"io"
)

// ErrUpstream wraps every transport level failure talking to an answer provider.
var ErrUpstream = errors.New("answer provider unavailable")

// HistoryMessage is one prior message forwarded as context.
type HistoryMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
}

// AnswerRequest is one turn submitted for answering. Repo is empty when the question is not
// scoped to a repository.
type AnswerRequest struct {
	Question  string           `json:"question"`
	Repo      string           `json:"repo,omitempty"`
	History   []HistoryMessage `json:"history"`
	VisitorID string           `json:"visitorId,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	Stream    bool             `json:"stream"`
}

// AnswerProvider streams an answer as meta/delta/done/error frames. The caller closes the
// returned body; cancelling ctx aborts the transport.
type AnswerProvider interface {
	StreamAnswer(ctx context.Context, req AnswerRequest) (io.ReadCloser, error)
}

// Message is a chat message for the chunk-streaming LLM backends.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamProvider streams assistant content chunks. Both channels are closed when streaming
// ends; at most one error is sent.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}
