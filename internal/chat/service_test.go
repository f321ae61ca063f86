package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/repochat/internal/ai"
	"github.com/suPer8Hu/repochat/internal/catalog"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Session{}, &Message{}))
	return db
}

type staticCatalog []catalog.Project

func (c staticCatalog) Projects() []catalog.Project { return c }

func (c staticCatalog) Contains(repoID string) (string, bool) { return catalog.Lookup(c, repoID) }

var testCatalog = staticCatalog{
	{Name: "Widget", Repo: "acme/widget", RepoID: "acme/widget"},
	{Name: "Gadget", Repo: "acme/gadget", RepoID: "acme/gadget"},
}

// scriptedProvider answers every turn with the same raw frame stream.
type scriptedProvider struct {
	mu     sync.Mutex
	stream string
	err    error
	reqs   []ai.AnswerRequest
}

func (p *scriptedProvider) StreamAnswer(ctx context.Context, req ai.AnswerRequest) (io.ReadCloser, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return io.NopCloser(strings.NewReader(p.stream)), nil
}

func (p *scriptedProvider) last(t *testing.T) ai.AnswerRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.reqs)
	return p.reqs[len(p.reqs)-1]
}

type emitted struct {
	event   string
	payload any
}

type recorder struct {
	events  []emitted
	onEvent func(event string)
}

func (r *recorder) WriteEvent(event string, payload any) error {
	r.events = append(r.events, emitted{event, payload})
	if r.onEvent != nil {
		r.onEvent(event)
	}
	return nil
}

func (r *recorder) kinds() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.event
	}
	return out
}

type fakeQueue struct {
	turns []Turn
	err   error
}

func (q *fakeQueue) PublishTurn(ctx context.Context, t Turn) error {
	if q.err != nil {
		return q.err
	}
	q.turns = append(q.turns, t)
	return nil
}

type mapCache map[string]string

func (c mapCache) GetActiveRepo(ctx context.Context, sessionID string) (string, bool, error) {
	r, ok := c[sessionID]
	return r, ok, nil
}

func (c mapCache) SetActiveRepo(ctx context.Context, sessionID, repo string) error {
	c[sessionID] = repo
	return nil
}

func frames(lines ...string) string {
	return strings.Join(lines, "\n\n") + "\n\n"
}

func newTestService(t *testing.T, db *gorm.DB, p ai.AnswerProvider) *Service {
	t.Helper()
	return NewService(NewRepo(db), testCatalog, p, ServiceConfig{
		HistoryCap:     8,
		PersistRetries: 2,
		PersistBackoff: time.Millisecond,
	}, nil)
}

func TestRunTurn_StreamsAndPersists(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{stream: frames(
		`event: meta`+"\n"+`data: {"citations":[{"index":1,"repo":"acme/widget","path":"README.md"},{"index":1,"repo":"acme/gadget"},{"index":2,"repo":"acme/widget"}]}`,
		`event: delta`+"\n"+`data: {"delta":"Hel"}`,
		`event: delta`+"\n"+`data: {"delta":`,
		`event: delta`+"\n"+`data: {"delta":"lo"}`,
		`event: done`+"\n"+`data: {}`,
	)}
	cache := mapCache{}
	svc := newTestService(t, db, prov).WithCache(cache)

	rec := &recorder{}
	res, err := svc.RunTurn(context.Background(), TurnRequest{
		Question:  "what does https://github.com/acme/widget do?",
		VisitorID: "v_1",
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, res.Phase)
	assert.Equal(t, []string{"meta", "meta", "delta", "delta", "done"}, rec.kinds())
	assert.Equal(t, "Hello", res.Answer)
	assert.Equal(t, "acme/widget", res.Repo)
	assert.True(t, res.Explicit)
	require.Len(t, res.Citations, 2, "duplicate index dropped")
	assert.Equal(t, "README.md", res.Citations[0].Path)

	first := rec.events[0].payload.(MetaFrame)
	assert.Equal(t, "acme/widget", first.Repo)
	assert.NotNil(t, first.Citations)
	assert.Equal(t, res.SessionID, first.SessionID)

	done := rec.events[len(rec.events)-1].payload.(DoneFrame)
	assert.Empty(t, done.Warning)
	assert.Equal(t, "acme/widget", done.ActiveRepo)

	req := prov.last(t)
	assert.Equal(t, "acme/widget", req.Repo)
	assert.Empty(t, req.SessionID, "new sessions are not sent upstream")
	assert.True(t, req.Stream)

	var msgs []Message
	require.NoError(t, db.Order("id ASC").Find(&msgs).Error)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "what does https://github.com/acme/widget do?", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.Len(t, msgs[1].Citations, 2)

	sess, err := NewRepo(db).GetSession(context.Background(), res.SessionID, "v_1")
	require.NoError(t, err)
	assert.Equal(t, "acme/widget", sess.ActiveRepo)
	assert.Equal(t, "acme/widget", cache[res.SessionID])
}

func TestRunTurn_ErrorFrameIsRelayedAndNotPersisted(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{stream: frames(
		`event: meta`+"\n"+`data: {"citations":[]}`,
		`event: delta`+"\n"+`data: {"delta":"partial"}`,
		`event: error`+"\n"+`data: {"error":"model overloaded"}`,
	)}
	rec := &recorder{}
	res, err := newTestService(t, db, prov).RunTurn(context.Background(), TurnRequest{Question: "hi", VisitorID: "v_1"}, rec)
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Equal(t, []string{"meta", "meta", "delta", "error"}, rec.kinds())
	assert.Equal(t, ErrorFrame{Error: "model overloaded"}, rec.events[3].payload)

	var n int64
	require.NoError(t, db.Model(&Message{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&Session{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestRunTurn_TransportFailuresAreGeneric(t *testing.T) {
	tests := []struct {
		name string
		prov *scriptedProvider
	}{
		{"provider unreachable", &scriptedProvider{err: fmt.Errorf("%w: status 503", ai.ErrUpstream)}},
		{"stream ends without terminal frame", &scriptedProvider{stream: frames(`event: delta` + "\n" + `data: {"delta":"x"}`)}},
		{"stream cut mid frame", &scriptedProvider{stream: "event: delta\ndata: {\"del"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			rec := &recorder{}
			res, err := newTestService(t, db, tt.prov).RunTurn(context.Background(), TurnRequest{Question: "hi", VisitorID: "v_1"}, rec)
			require.NoError(t, err)
			assert.Equal(t, PhaseFailed, res.Phase)
			last := rec.events[len(rec.events)-1]
			assert.Equal(t, "error", last.event)
			assert.Equal(t, ErrorFrame{Error: GenericFailure}, last.payload)

			var n int64
			require.NoError(t, db.Model(&Message{}).Count(&n).Error)
			assert.Zero(t, n)
		})
	}
}

func TestRunTurn_CancelMidStreamIsSilent(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{stream: frames(
		`event: meta`+"\n"+`data: {"citations":[]}`,
		`event: delta`+"\n"+`data: {"delta":"par"}`,
		`event: delta`+"\n"+`data: {"delta":"tial"}`,
		`event: done`+"\n"+`data: {}`,
	)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{onEvent: func(event string) {
		if event == "delta" {
			cancel()
		}
	}}

	res, err := newTestService(t, db, prov).RunTurn(ctx, TurnRequest{Question: "hi", VisitorID: "v_1"}, rec)
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, res.Phase)
	assert.Equal(t, []string{"meta", "meta", "delta"}, rec.kinds())

	var n int64
	require.NoError(t, db.Model(&Message{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestRunTurn_DoneWithoutMetaPersistsEmptyCitations(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{stream: frames(
		`event: delta`+"\n"+`data: {"delta":"ok"}`,
		`event: done`+"\n"+`data: {}`,
	)}
	rec := &recorder{}
	res, err := newTestService(t, db, prov).RunTurn(context.Background(), TurnRequest{Question: "hi", VisitorID: "v_1"}, rec)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, res.Phase)
	assert.NotNil(t, res.Citations)
	assert.Empty(t, res.Citations)

	var m Message
	require.NoError(t, db.Where("role = ?", RoleAssistant).First(&m).Error)
	assert.NotNil(t, m.Citations)
}

func seedSession(t *testing.T, db *gorm.DB, visitorID, activeRepo string, n int) string {
	t.Helper()
	repo := NewRepo(db)
	sid := "01SESSION" + strings.Repeat("0", 17)
	for i := 0; i < n; i++ {
		require.NoError(t, repo.AppendTurn(context.Background(), Turn{
			TurnID:     fmt.Sprintf("turn-%02d", i),
			SessionID:  sid,
			VisitorID:  visitorID,
			Question:   fmt.Sprintf("q%d", i),
			Answer:     fmt.Sprintf("a%d", i),
			ActiveRepo: activeRepo,
			At:         time.Now(),
		}))
	}
	return sid
}

func TestRunTurn_ExplicitSwitchResetsHistory(t *testing.T) {
	db := openTestDB(t)
	sid := seedSession(t, db, "v_1", "acme/widget", 2)
	prov := &scriptedProvider{stream: frames(`event: done` + "\n" + `data: {}`)}
	svc := newTestService(t, db, prov)

	_, err := svc.RunTurn(context.Background(), TurnRequest{
		Question:  "and what about https://github.com/acme/gadget ?",
		VisitorID: "v_1",
		SessionID: sid,
	}, Discard)
	require.NoError(t, err)
	req := prov.last(t)
	assert.Equal(t, "acme/gadget", req.Repo)
	assert.NotNil(t, req.History)
	assert.Empty(t, req.History)
	assert.Equal(t, sid, req.SessionID)
}

func TestRunTurn_SameRepoKeepsStoredWindow(t *testing.T) {
	db := openTestDB(t)
	sid := seedSession(t, db, "v_1", "acme/widget", 6)
	prov := &scriptedProvider{stream: frames(`event: done` + "\n" + `data: {}`)}
	svc := newTestService(t, db, prov)

	res, err := svc.RunTurn(context.Background(), TurnRequest{
		Question:  "how is it tested?",
		VisitorID: "v_1",
		SessionID: sid,
	}, Discard)
	require.NoError(t, err)
	assert.Equal(t, "acme/widget", res.Repo, "falls back to the session's active repo")

	req := prov.last(t)
	require.Len(t, req.History, 8)
	assert.Equal(t, "q2", req.History[0].Content)
	assert.Equal(t, "a5", req.History[7].Content)
}

func TestRunTurn_LooseMatchKeepsActiveRepo(t *testing.T) {
	cat := staticCatalog{
		{Name: "Widget", Repo: "acme/widget", RepoID: "acme/widget"},
		{Name: "Auth Service", Repo: "acme/auth-service", RepoID: "acme/auth-service"},
	}
	newSvc := func(db *gorm.DB, p ai.AnswerProvider) *Service {
		return NewService(NewRepo(db), cat, p, ServiceConfig{PersistBackoff: time.Millisecond}, nil)
	}

	t.Run("active session keeps its repo", func(t *testing.T) {
		db := openTestDB(t)
		sid := seedSession(t, db, "v_1", "acme/widget", 2)
		prov := &scriptedProvider{stream: frames(`event: done` + "\n" + `data: {}`)}

		res, err := newSvc(db, prov).RunTurn(context.Background(), TurnRequest{
			Question:  "how does auth work",
			VisitorID: "v_1",
			SessionID: sid,
		}, Discard)
		require.NoError(t, err)
		assert.Equal(t, PhaseCompleted, res.Phase)
		assert.Equal(t, "acme/widget", res.Repo)
		assert.False(t, res.Explicit)

		req := prov.last(t)
		assert.Equal(t, "acme/widget", req.Repo)
		assert.Len(t, req.History, 4, "no switch, stored window kept")

		sess, err := NewRepo(db).GetSession(context.Background(), sid, "v_1")
		require.NoError(t, err)
		assert.Equal(t, "acme/widget", sess.ActiveRepo)
	})

	t.Run("request repo is not displaced either", func(t *testing.T) {
		db := openTestDB(t)
		prov := &scriptedProvider{stream: frames(`event: done` + "\n" + `data: {}`)}
		_, err := newSvc(db, prov).RunTurn(context.Background(), TurnRequest{
			Question:  "how does auth work",
			VisitorID: "v_1",
			Repo:      "ACME/Widget",
		}, Discard)
		require.NoError(t, err)
		assert.Equal(t, "acme/widget", prov.last(t).Repo)
	})

	t.Run("no active repo takes the loose match", func(t *testing.T) {
		db := openTestDB(t)
		prov := &scriptedProvider{stream: frames(`event: done` + "\n" + `data: {}`)}
		res, err := newSvc(db, prov).RunTurn(context.Background(), TurnRequest{
			Question:  "how does auth work",
			VisitorID: "v_1",
		}, Discard)
		require.NoError(t, err)
		assert.Equal(t, "acme/auth-service", res.Repo)
		assert.Equal(t, "acme/auth-service", prov.last(t).Repo)
	})
}

func TestRunTurn_ContinuesSessionOfUnfinishedFirstTurn(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		cancel bool
		phase  Phase
	}{
		{"first turn failed", frames(`event: error` + "\n" + `data: {"error":"model overloaded"}`), false, PhaseFailed},
		{"first turn cancelled", frames(`event: delta` + "\n" + `data: {"delta":"x"}`, `event: done` + "\n" + `data: {}`), true, PhaseCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			prov := &scriptedProvider{stream: tt.stream}
			svc := newTestService(t, db, prov)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			rec := &recorder{onEvent: func(event string) {
				if tt.cancel && event == "delta" {
					cancel()
				}
			}}
			first, err := svc.RunTurn(ctx, TurnRequest{Question: "hi", VisitorID: "v_1"}, rec)
			require.NoError(t, err)
			require.Equal(t, tt.phase, first.Phase)
			sid := rec.events[0].payload.(MetaFrame).SessionID
			require.NotEmpty(t, sid)

			prov.stream = frames(`event: delta`+"\n"+`data: {"delta":"ok"}`, `event: done`+"\n"+`data: {}`)
			second, err := svc.RunTurn(context.Background(), TurnRequest{Question: "again", VisitorID: "v_1", SessionID: sid}, Discard)
			require.NoError(t, err)
			assert.Equal(t, PhaseCompleted, second.Phase)
			assert.Equal(t, sid, second.SessionID)
			assert.Empty(t, prov.last(t).SessionID, "the store has no session yet")

			sess, err := NewRepo(db).GetSession(context.Background(), sid, "v_1")
			require.NoError(t, err)
			assert.Equal(t, "again", sess.LastMessageSummary)

			// the adopted id still belongs to its visitor
			_, err = svc.RunTurn(context.Background(), TurnRequest{Question: "mine?", VisitorID: "v_2", SessionID: sid}, Discard)
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestRunTurn_BlankUpstreamErrorIsGeneric(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{stream: frames(`event: error` + "\n" + `data: {}`)}
	rec := &recorder{}
	res, err := newTestService(t, db, prov).RunTurn(context.Background(), TurnRequest{Question: "hi", VisitorID: "v_1"}, rec)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Equal(t, GenericFailure, res.Error)
	assert.Equal(t, ErrorFrame{Error: GenericFailure}, rec.events[len(rec.events)-1].payload)
}

func TestRunTurn_ClientHistoryIsCapped(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{stream: frames(`event: done` + "\n" + `data: {}`)}
	var hist []ai.HistoryMessage
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		hist = append(hist, ai.HistoryMessage{Role: role, Content: fmt.Sprintf("m%d", i)})
	}

	_, err := newTestService(t, db, prov).RunTurn(context.Background(), TurnRequest{Question: "hi", VisitorID: "v_1", History: hist}, Discard)
	require.NoError(t, err)
	req := prov.last(t)
	require.Len(t, req.History, 8)
	assert.Equal(t, "m2", req.History[0].Content)
	assert.Equal(t, "m9", req.History[7].Content)
}

func TestRunTurn_RejectsBeforeStreaming(t *testing.T) {
	db := openTestDB(t)
	sid := seedSession(t, db, "v_owner", "", 1)
	prov := &scriptedProvider{stream: frames(`event: done` + "\n" + `data: {}`)}
	svc := newTestService(t, db, prov)

	rec := &recorder{}
	_, err := svc.RunTurn(context.Background(), TurnRequest{Question: "hi", VisitorID: "v_other", SessionID: sid}, rec)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.RunTurn(context.Background(), TurnRequest{Question: "   ", VisitorID: "v_owner"}, rec)
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = svc.RunTurn(context.Background(), TurnRequest{Question: "hi"}, rec)
	assert.ErrorIs(t, err, ErrMissingVisitor)

	assert.Empty(t, rec.events)
	assert.Empty(t, prov.reqs)
}

func TestRunTurn_PersistFailureQueuesAndWarns(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrator().DropTable(&Message{}))
	prov := &scriptedProvider{stream: frames(
		`event: delta`+"\n"+`data: {"delta":"shown"}`,
		`event: done`+"\n"+`data: {}`,
	)}
	q := &fakeQueue{}
	svc := newTestService(t, db, prov).WithQueue(q)

	rec := &recorder{}
	res, err := svc.RunTurn(context.Background(), TurnRequest{Question: "hi", VisitorID: "v_1"}, rec)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, res.Phase)
	assert.Equal(t, warnQueued, res.Warning)
	done := rec.events[len(rec.events)-1].payload.(DoneFrame)
	assert.Equal(t, warnQueued, done.Warning)

	require.Len(t, q.turns, 1)
	assert.Equal(t, "shown", q.turns[0].Answer)
	assert.Equal(t, res.SessionID, q.turns[0].SessionID)
}

func TestRunTurn_PersistFailureWithoutQueue(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrator().DropTable(&Message{}))
	prov := &scriptedProvider{stream: frames(`event: done` + "\n" + `data: {}`)}
	svc := newTestService(t, db, prov).WithQueue(&fakeQueue{err: errors.New("broker down")})

	res, err := svc.RunTurn(context.Background(), TurnRequest{Question: "hi", VisitorID: "v_1"}, Discard)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, res.Phase)
	assert.Equal(t, warnLost, res.Warning)
}

func TestListMessages_ChecksOwner(t *testing.T) {
	db := openTestDB(t)
	sid := seedSession(t, db, "v_1", "", 3)
	svc := newTestService(t, db, &scriptedProvider{})

	msgs, err := svc.ListMessages(context.Background(), "v_1", sid, 4)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "q1", msgs[0].Content)
	assert.Equal(t, "a2", msgs[3].Content)

	_, err = svc.ListMessages(context.Background(), "v_2", sid, 4)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sessions, err := svc.ListSessions(context.Background(), "v_1", 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "q2", sessions[0].LastMessageSummary)
}
