package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/repochat/internal/catalog"
	"github.com/suPer8Hu/repochat/internal/common"
)

// Reindex reloads the catalog seed file into the store and swaps the in-memory snapshot.
func (h *Handler) Reindex(c *gin.Context) {
	ctx := c.Request.Context()

	projects, err := catalog.LoadSeedFile(h.Cfg.CatalogFile)
	if err != nil {
		h.Log.Error("reindex: load catalog file", zap.String("file", h.Cfg.CatalogFile), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to read catalog file")
		return
	}
	if err := h.Projects.ReplaceAll(ctx, projects); err != nil {
		h.Log.Error("reindex: store catalog", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to store catalog")
		return
	}
	n, err := h.Catalog.Reload(ctx)
	if err != nil {
		h.Log.Error("reindex: reload snapshot", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to reload catalog")
		return
	}

	h.Log.Info("catalog reindexed", zap.Int("projects", n))
	common.OK(c, gin.H{"projects": n})
}
