package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/repochat/internal/auth"
	"github.com/suPer8Hu/repochat/internal/common"
)

const AdminKeyHeader = "x-admin-key"

// AdminKey guards admin routes with the x-admin-key header.
func AdminKey(checker auth.AdminKeyChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !checker.Enabled() {
			common.Abort(c, http.StatusServiceUnavailable, 50301, "admin key not configured")
			return
		}
		if !checker.Check(c.GetHeader(AdminKeyHeader)) {
			common.Abort(c, http.StatusUnauthorized, 40102, "unauthorized")
			return
		}
		c.Next()
	}
}
