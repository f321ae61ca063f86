package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/repochat/internal/catalog"
	"github.com/suPer8Hu/repochat/internal/chat"
	"github.com/suPer8Hu/repochat/internal/common"
	"github.com/suPer8Hu/repochat/internal/config"
)

type Handler struct {
	Cfg      config.Config
	Log      *zap.Logger
	ChatSvc  *chat.Service
	InFlight *chat.InFlight
	Catalog  *catalog.Snapshot
	Projects *catalog.Repo
}

func NewHandler(cfg config.Config, log *zap.Logger, svc *chat.Service, snapshot *catalog.Snapshot, projects *catalog.Repo) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Cfg:      cfg,
		Log:      log,
		ChatSvc:  svc,
		InFlight: chat.NewInFlight(),
		Catalog:  snapshot,
		Projects: projects,
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) ListProjects(c *gin.Context) {
	projects := h.Catalog.Projects()
	if projects == nil {
		projects = []catalog.Project{}
	}
	common.OK(c, gin.H{"projects": projects})
}
