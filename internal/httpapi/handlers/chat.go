package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/repochat/internal/chat"
	"github.com/suPer8Hu/repochat/internal/common"
	"github.com/suPer8Hu/repochat/internal/httpapi/middleware"
	"github.com/suPer8Hu/repochat/internal/sse"
)

// failChat maps service errors to the envelope.
func (h *Handler) failChat(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyQuestion):
		common.Fail(c, http.StatusBadRequest, 10002, "question is required")
	case errors.Is(err, chat.ErrMissingVisitor):
		common.Fail(c, http.StatusBadRequest, 10003, "visitorId is required")
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
	default:
		h.Log.Error("chat request failed",
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err),
		)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

// streamEmitter writes SSE frames, sending the stream headers on the first frame so that a
// turn rejected up front can still answer with a JSON envelope.
type streamEmitter struct {
	c       *gin.Context
	w       *sse.Writer
	once    sync.Once
	started atomic.Bool
}

func newStreamEmitter(c *gin.Context) *streamEmitter {
	return &streamEmitter{c: c, w: sse.NewWriter(c.Writer)}
}

func (e *streamEmitter) start() {
	e.once.Do(func() {
		sse.SetHeaders(e.c.Writer.Header())
		e.c.Status(http.StatusOK)
		e.c.Writer.WriteHeaderNow()
		e.started.Store(true)
	})
}

func (e *streamEmitter) WriteEvent(event string, payload any) error {
	e.start()
	return e.w.WriteEvent(event, payload)
}

// keepAlive pings the client every interval once the stream has started, until stop closes.
func (e *streamEmitter) keepAlive(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !e.started.Load() {
				continue
			}
			if err := e.w.WriteKeepAlive(); err != nil {
				return
			}
		}
	}
}

// Chat runs one turn. With "stream": true the answer is an SSE stream of meta, delta and
// done or error frames; otherwise the finished turn is returned in the envelope.
func (h *Handler) Chat(c *gin.Context) {
	var req chat.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.VisitorID = middleware.VisitorID(c, req.VisitorID)
	if req.VisitorID == "" {
		req.VisitorID = common.NewVisitorID()
	}

	// a new turn supersedes whatever this visitor was still streaming
	ctx, end := h.InFlight.Begin(c.Request.Context(), req.VisitorID)
	defer end()

	if !req.Stream {
		res, err := h.ChatSvc.RunTurn(ctx, req, chat.Discard)
		if err != nil {
			h.failChat(c, err)
			return
		}
		switch res.Phase {
		case chat.PhaseCompleted:
			common.OK(c, res)
		case chat.PhaseFailed:
			common.Fail(c, http.StatusBadGateway, 50201, res.Error)
		default:
			common.Fail(c, http.StatusConflict, 40901, "turn cancelled")
		}
		return
	}

	em := newStreamEmitter(c)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		em.keepAlive(h.Cfg.KeepAlive, stop)
	}()

	_, err := h.ChatSvc.RunTurn(ctx, req, em)
	close(stop)
	wg.Wait()

	if err != nil && !em.started.Load() {
		h.failChat(c, err)
	}
}

type cancelReq struct {
	VisitorID string `json:"visitorId"`
}

// CancelChat stops the visitor's streaming turn. Cancelling when nothing runs is not an error.
func (h *Handler) CancelChat(c *gin.Context) {
	var req cancelReq
	_ = c.ShouldBindJSON(&req) // allow empty body with a token
	vid := middleware.VisitorID(c, req.VisitorID)
	if vid == "" {
		common.Fail(c, http.StatusBadRequest, 10003, "visitorId is required")
		return
	}
	common.OK(c, gin.H{"cancelled": h.InFlight.Cancel(vid)})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	vid := middleware.VisitorID(c, c.Query("visitorId"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), vid, limit)
	if err != nil {
		h.failChat(c, err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	vid := middleware.VisitorID(c, c.Query("visitorId"))
	sessionID := strings.TrimSpace(c.Param("session_id"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), vid, sessionID, limit)
	if err != nil {
		h.failChat(c, err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}
