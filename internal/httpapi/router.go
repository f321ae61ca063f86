package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/suPer8Hu/repochat/internal/auth"
	"github.com/suPer8Hu/repochat/internal/common"
	"github.com/suPer8Hu/repochat/internal/httpapi/handlers"
	"github.com/suPer8Hu/repochat/internal/httpapi/middleware"
	"github.com/suPer8Hu/repochat/internal/logging"
)

func NewRouter(h *handlers.Handler, log *zap.Logger) *gin.Engine {
	cfg := h.Cfg

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(logging.GinLogger(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/projects", h.ListProjects)

	// visitors
	r.POST("/visitors", h.CreateVisitor)

	// chat (visitor token optional, visitorId otherwise)
	var limiter *middleware.RateLimiter
	if cfg.TurnRatePerMinute > 0 {
		limiter = middleware.NewRateLimiter(cfg.TurnRatePerMinute, max(cfg.TurnRatePerMinute/4, 1))
	}
	byVisitor := func(c *gin.Context) string { return c.GetString(middleware.VisitorIDKey) }

	chatGroup := r.Group("/chat")
	chatGroup.Use(middleware.VisitorIdentity(cfg.VisitorTokenSecret))
	chatGroup.POST("", middleware.RateLimit(limiter, byVisitor), h.Chat)
	chatGroup.POST("/cancel", h.CancelChat)
	chatGroup.GET("/sessions", h.ListChatSessions)
	chatGroup.GET("/sessions/:session_id/messages", h.ListChatMessages)

	// admin
	admin := r.Group("/admin")
	admin.Use(middleware.AdminKey(auth.NewAdminKeyChecker(cfg.AdminKey, cfg.AdminKeyHash)))
	admin.POST("/reindex", h.Reindex)

	return r
}
