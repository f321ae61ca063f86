package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/suPer8Hu/repochat/internal/catalog"
	"github.com/suPer8Hu/repochat/internal/sse"
)

// FramedProvider turns a chunk-streaming LLM backend into an AnswerProvider: it builds the
// prompt from the request and emits meta, delta and done frames on a pipe.
type FramedProvider struct {
	LLM StreamProvider
	// Describe looks up catalog details for the resolved repository. Optional.
	Describe func(repoID string) (catalog.Project, bool)
}

func NewFramedProvider(llm StreamProvider, describe func(string) (catalog.Project, bool)) *FramedProvider {
	return &FramedProvider{LLM: llm, Describe: describe}
}

type pipeBody struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (b pipeBody) Close() error {
	b.cancel()
	return b.PipeReader.Close()
}

func (p *FramedProvider) StreamAnswer(ctx context.Context, req AnswerRequest) (io.ReadCloser, error) {
	if p.LLM == nil {
		return nil, fmt.Errorf("%w: no llm backend configured", ErrUpstream)
	}
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	go func() {
		defer cancel()
		pw.CloseWithError(p.pump(ctx, cancel, sse.NewWriter(pw), req))
	}()
	return pipeBody{PipeReader: pr, cancel: cancel}, nil
}

func (p *FramedProvider) pump(ctx context.Context, cancel context.CancelFunc, w *sse.Writer, req AnswerRequest) error {
	citations := []Citation{}
	if req.Repo != "" {
		citations = append(citations, Citation{Index: 1, Repo: req.Repo, URL: "https://github.com/" + req.Repo})
	}
	if err := w.WriteEvent(EventMeta, MetaPayload{Citations: citations, SessionID: req.SessionID}); err != nil {
		return err
	}

	chunks, errs := p.LLM.StreamChat(ctx, p.messages(req))
	for c := range chunks {
		if err := w.WriteEvent(EventDelta, DeltaPayload{Delta: c}); err != nil {
			// reader went away; stop the backend and let its goroutine finish
			cancel()
			for range chunks {
			}
			return err
		}
	}
	if err := <-errs; err != nil {
		if errors.Is(err, ErrUpstream) || ctx.Err() != nil {
			return err
		}
		return w.WriteEvent(EventError, ErrorPayload{Error: err.Error()})
	}
	return w.WriteEvent(EventDone, struct{}{})
}

func (p *FramedProvider) messages(req AnswerRequest) []Message {
	var sys strings.Builder
	sys.WriteString("You answer questions about a small catalog of GitHub repositories. ")
	sys.WriteString("Be concise and cite sources with bracketed numbers like [1].")
	if req.Repo != "" {
		fmt.Fprintf(&sys, "\n\nThe question is about the repository %s (source [1]).", req.Repo)
		if p.Describe != nil {
			if proj, ok := p.Describe(req.Repo); ok {
				fmt.Fprintf(&sys, "\nName: %s\nDescription: %s", proj.Name, proj.Description)
				if len(proj.Tags) > 0 {
					fmt.Fprintf(&sys, "\nTags: %s", strings.Join(proj.Tags, ", "))
				}
			}
		}
	}

	out := make([]Message, 0, len(req.History)+2)
	out = append(out, Message{Role: "system", Content: sys.String()})
	for _, h := range req.History {
		out = append(out, Message{Role: h.Role, Content: h.Content})
	}
	return append(out, Message{Role: "user", Content: req.Question})
}
