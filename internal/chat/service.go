package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/repochat/internal/ai"
	"github.com/suPer8Hu/repochat/internal/catalog"
	"github.com/suPer8Hu/repochat/internal/common"
	"github.com/suPer8Hu/repochat/internal/metrics"
	"github.com/suPer8Hu/repochat/internal/resolver"
	"github.com/suPer8Hu/repochat/internal/sse"
)

// GenericFailure is shown when the provider fails without a message of its own.
const GenericFailure = "The answer service is unavailable. Please try again."

const (
	warnQueued = "Your answer was shown but could not be saved yet. It will be saved shortly."
	warnLost   = "Your answer was shown but could not be saved. This conversation's history may be incomplete."

	persistTimeout = 10 * time.Second
)

// Catalog is the read side of the repository catalog. *catalog.Snapshot implements it.
type Catalog interface {
	Projects() []catalog.Project
	Contains(repoID string) (string, bool)
}

// ActiveRepoCache caches each session's active repository in front of the store.
type ActiveRepoCache interface {
	GetActiveRepo(ctx context.Context, sessionID string) (string, bool, error)
	SetActiveRepo(ctx context.Context, sessionID, repo string) error
}

// TurnQueue takes completed turns the service could not persist itself.
type TurnQueue interface {
	PublishTurn(ctx context.Context, t Turn) error
}

// Emitter receives the frames of a turn in order. *sse.Writer implements it.
type Emitter interface {
	WriteEvent(event string, payload any) error
}

// Discard is an Emitter that drops every frame.
var Discard Emitter = discard{}

type discard struct{}

func (discard) WriteEvent(string, any) error { return nil }

type TurnRequest struct {
	Question  string              `json:"question"`
	Stream    bool                `json:"stream"`
	History   []ai.HistoryMessage `json:"history"`
	VisitorID string              `json:"visitorId"`
	Repo      string              `json:"repo"`
	SessionID string              `json:"sessionId"`
}

// MetaFrame is the meta frame sent to the client.
type MetaFrame struct {
	Repo      string        `json:"repo,omitempty"`
	Explicit  bool          `json:"explicit"`
	Citations []ai.Citation `json:"citations"`
	SessionID string        `json:"sessionId"`
	VisitorID string        `json:"visitorId"`
}

type DeltaFrame struct {
	Delta string `json:"delta"`
}

// DoneFrame ends a completed turn. Warning is set when the turn could not be saved.
type DoneFrame struct {
	SessionID  string        `json:"sessionId"`
	ActiveRepo string        `json:"activeRepo,omitempty"`
	Citations  []ai.Citation `json:"citations"`
	Warning    string        `json:"warning,omitempty"`
}

type ErrorFrame struct {
	Error string `json:"error"`
}

// TurnResult summarizes a finished turn.
type TurnResult struct {
	Phase      Phase         `json:"-"`
	SessionID  string        `json:"sessionId"`
	VisitorID  string        `json:"visitorId"`
	Repo       string        `json:"repo,omitempty"`
	Explicit   bool          `json:"explicit"`
	ActiveRepo string        `json:"activeRepo,omitempty"`
	Answer     string        `json:"answer"`
	Citations  []ai.Citation `json:"citations"`
	Warning    string        `json:"warning,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type ServiceConfig struct {
	HistoryCap     int
	PersistRetries int
	PersistBackoff time.Duration
}

type Service struct {
	repo     *Repo
	catalog  Catalog
	provider ai.AnswerProvider
	cache    ActiveRepoCache
	queue    TurnQueue
	log      *zap.Logger
	cfg      ServiceConfig
}

func NewService(repo *Repo, cat Catalog, provider ai.AnswerProvider, cfg ServiceConfig, log *zap.Logger) *Service {
	if cfg.HistoryCap <= 0 || cfg.HistoryCap > 100 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.PersistRetries < 1 {
		cfg.PersistRetries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, catalog: cat, provider: provider, cfg: cfg, log: log}
}

// WithCache sets the active repository cache. A nil cache reads the store directly.
func (s *Service) WithCache(c ActiveRepoCache) *Service {
	s.cache = c
	return s
}

// WithQueue sets where unpersisted turns go after the retries run out.
func (s *Service) WithQueue(q TurnQueue) *Service {
	s.queue = q
	return s
}

// RunTurn answers one question and streams the frames to emit. It returns an error only when
// the turn is rejected before any frame was emitted; failures after that are reported as an
// error frame and in the result. A turn whose ctx ends before completion emits nothing more
// and persists nothing.
func (s *Service) RunTurn(ctx context.Context, req TurnRequest, emit Emitter) (TurnResult, error) {
	start := time.Now()
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return TurnResult{}, ErrEmptyQuestion
	}
	if req.VisitorID == "" {
		return TurnResult{}, ErrMissingVisitor
	}

	// Opening. A session id the store has never seen is one this server minted for a turn
	// that did not complete, so the visitor keeps it.
	var sess *Session
	if req.SessionID != "" {
		var err error
		sess, err = s.repo.FindSession(ctx, req.SessionID, req.VisitorID)
		if err != nil {
			return TurnResult{}, err
		}
		if sess == nil && !common.IsULID(req.SessionID) {
			return TurnResult{}, ErrSessionNotFound
		}
	}

	prior := s.priorActiveRepo(ctx, req, sess)
	res, resolved := resolver.Resolve(question, s.catalog.Projects(), prior)
	repo := prior
	switch {
	case !resolved:
		metrics.Resolved("none")
	case res.Explicit:
		repo = res.RepoID
		metrics.Resolved("explicit")
	default:
		// a loose match only fills in; it never replaces the active repository
		if prior == "" {
			repo = res.RepoID
		}
		metrics.Resolved("loose")
	}

	history, err := s.history(ctx, req, sess, resolved && res.Switched)
	if err != nil {
		return TurnResult{}, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		if sessionID, err = common.NewULID(); err != nil {
			return TurnResult{}, err
		}
	}
	turnID, err := common.NewULID()
	if err != nil {
		return TurnResult{}, err
	}

	log := s.log.With(
		zap.String("turn_id", turnID),
		zap.String("session_id", sessionID),
		zap.String("visitor_id", req.VisitorID),
	)

	state := NewTurn(sessionID, repo)
	result := TurnResult{
		SessionID: sessionID,
		VisitorID: req.VisitorID,
		Repo:      repo,
		Explicit:  resolved && res.Explicit,
	}
	finish := func(st TurnState) (TurnResult, error) {
		result.Phase = st.Phase
		result.SessionID = st.SessionID
		result.ActiveRepo = st.ActiveRepo
		result.Answer = st.Answer
		result.Citations = st.Citations
		result.Error = st.Err
		metrics.TurnFinished(st.Phase.String())
		log.Debug("turn finished", zap.Stringer("phase", st.Phase), zap.Duration("cost", time.Since(start)))
		return result, nil
	}

	meta := MetaFrame{
		Repo:      repo,
		Explicit:  result.Explicit,
		Citations: []ai.Citation{},
		SessionID: sessionID,
		VisitorID: req.VisitorID,
	}
	if err := emit.WriteEvent(ai.EventMeta, meta); err != nil {
		return finish(state.Cancel())
	}

	upstreamSession := ""
	if sess != nil {
		upstreamSession = sess.SessionID
	}
	body, err := s.provider.StreamAnswer(ctx, ai.AnswerRequest{
		Question:  question,
		Repo:      repo,
		History:   history,
		VisitorID: req.VisitorID,
		SessionID: upstreamSession,
		Stream:    true,
	})
	if ctx.Err() != nil {
		if body != nil {
			_ = body.Close()
		}
		return finish(state.Cancel())
	}
	if err != nil {
		log.Warn("answer provider unavailable", zap.Error(err))
		return s.fail(emit, state.Fail(GenericFailure), finish)
	}
	defer body.Close()

	// Streaming
	state = state.Open()
	defer metrics.StreamStarted()()

	reader := sse.NewReader(body)
	firstDelta := true
	for !state.Phase.Terminal() {
		f, err := reader.Next(ctx)
		if ctx.Err() != nil {
			return finish(state.Cancel())
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("stream ended without a terminal frame")
			}
			log.Warn("answer stream broken", zap.Error(err))
			return s.fail(emit, state.Fail(GenericFailure), finish)
		}

		ev, err := ai.ParseEvent(f)
		if err != nil {
			metrics.FrameDropped(f.Event)
			log.Warn("dropping malformed frame", zap.String("event", f.Event), zap.Error(err))
			continue
		}

		var effect Effect
		state, effect = state.Apply(ev)
		switch effect {
		case EffectRelayMeta:
			meta.Citations = state.Citations
			meta.SessionID = state.SessionID
			err = emit.WriteEvent(ai.EventMeta, meta)
		case EffectRelayDelta:
			if firstDelta {
				metrics.FirstDelta(start)
				firstDelta = false
			}
			err = emit.WriteEvent(ai.EventDelta, DeltaFrame{Delta: ev.Delta})
		case EffectFail:
			return s.fail(emit, state, finish)
		}
		if err != nil {
			return finish(state.Cancel())
		}
	}

	// Completed
	turn := Turn{
		TurnID:     turnID,
		SessionID:  state.SessionID,
		VisitorID:  req.VisitorID,
		Question:   question,
		Answer:     state.Answer,
		Citations:  state.Citations,
		ActiveRepo: state.ActiveRepo,
		At:         time.Now(),
	}
	result.Warning = s.persist(context.WithoutCancel(ctx), log, turn)

	_ = emit.WriteEvent(ai.EventDone, DoneFrame{
		SessionID:  state.SessionID,
		ActiveRepo: state.ActiveRepo,
		Citations:  state.Citations,
		Warning:    result.Warning,
	})
	return finish(state)
}

func (s *Service) fail(emit Emitter, st TurnState, finish func(TurnState) (TurnResult, error)) (TurnResult, error) {
	_ = emit.WriteEvent(ai.EventError, ErrorFrame{Error: st.Err})
	return finish(st)
}

// priorActiveRepo is the request's repo when it is tracked, else what the session last
// settled on.
func (s *Service) priorActiveRepo(ctx context.Context, req TurnRequest, sess *Session) string {
	if canon, ok := s.catalog.Contains(strings.TrimSpace(req.Repo)); ok {
		return canon
	}
	if sess == nil {
		return ""
	}
	if s.cache != nil {
		repo, ok, err := s.cache.GetActiveRepo(ctx, sess.SessionID)
		if err != nil {
			s.log.Warn("active repo cache read failed", zap.String("session_id", sess.SessionID), zap.Error(err))
		} else if ok {
			return repo
		}
	}
	return sess.ActiveRepo
}

// history picks the context sent with the question: nothing after a repository switch, the
// stored window for a known session, the client's copy otherwise.
func (s *Service) history(ctx context.Context, req TurnRequest, sess *Session, reset bool) ([]ai.HistoryMessage, error) {
	if reset {
		return []ai.HistoryMessage{}, nil
	}
	if sess == nil {
		return BuildHistory(req.History, s.cfg.HistoryCap), nil
	}
	msgs, err := s.repo.ListMessages(ctx, sess.SessionID, sess.VisitorID, s.cfg.HistoryCap*2)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return BuildHistory(historyFromMessages(msgs), s.cfg.HistoryCap), nil
}

// persist writes the turn with bounded retries, then hands it to the queue. It returns the
// warning for the client, empty on success.
func (s *Service) persist(ctx context.Context, log *zap.Logger, t Turn) string {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= s.cfg.PersistRetries; attempt++ {
		if err = s.repo.AppendTurn(ctx, t); err == nil {
			metrics.Persist("ok")
			s.cacheActiveRepo(ctx, log, t)
			return ""
		}
		if errors.Is(err, ErrSessionNotFound) || attempt == s.cfg.PersistRetries {
			break
		}
		metrics.Persist("retry")
		log.Warn("persist turn failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.PersistBackoff * time.Duration(attempt)):
		}
	}

	log.Error("persist turn failed", zap.Error(err))
	if s.queue != nil && !errors.Is(err, ErrSessionNotFound) {
		qerr := s.queue.PublishTurn(ctx, t)
		if qerr == nil {
			metrics.Persist("queued")
			return warnQueued
		}
		log.Error("queue turn failed", zap.Error(qerr))
	}
	metrics.Persist("lost")
	return warnLost
}

func (s *Service) cacheActiveRepo(ctx context.Context, log *zap.Logger, t Turn) {
	if s.cache == nil || t.ActiveRepo == "" {
		return
	}
	if err := s.cache.SetActiveRepo(ctx, t.SessionID, t.ActiveRepo); err != nil {
		log.Warn("active repo cache write failed", zap.Error(err))
	}
}

// ListSessions returns the visitor's sessions, newest activity first.
func (s *Service) ListSessions(ctx context.Context, visitorID string, limit int) ([]Session, error) {
	if visitorID == "" {
		return nil, ErrMissingVisitor
	}
	return s.repo.ListSessions(ctx, visitorID, limit)
}

// ListMessages returns a session's latest messages after checking it belongs to visitorID.
func (s *Service) ListMessages(ctx context.Context, visitorID, sessionID string, limit int) ([]Message, error) {
	if visitorID == "" {
		return nil, ErrMissingVisitor
	}
	if _, err := s.repo.GetSession(ctx, sessionID, visitorID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID, visitorID, limit)
}
