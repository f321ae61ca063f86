package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/repochat/internal/auth"
	"github.com/suPer8Hu/repochat/internal/common"
)

// CreateVisitor mints a visitor id and a token that carries it.
func (h *Handler) CreateVisitor(c *gin.Context) {
	vid := common.NewVisitorID()
	token, err := auth.SignVisitorToken(h.Cfg.VisitorTokenSecret, vid, h.Cfg.VisitorTokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to sign token")
		return
	}
	common.OK(c, gin.H{
		"visitorId": vid,
		"token":     token,
		"expiresAt": time.Now().Add(h.Cfg.VisitorTokenTTL).UTC(),
	})
}
