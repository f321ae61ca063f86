package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/repochat/internal/auth"
	"github.com/suPer8Hu/repochat/internal/common"
)

const VisitorIDKey = "visitor_id"

// VisitorIdentity reads a bearer visitor token when one is sent. Requests without a token
// pass through and name the visitor in the request instead; a bad token is rejected.
func VisitorIdentity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			common.Abort(c, http.StatusUnauthorized, 40101, "invalid authorization header")
			return
		}
		vid, err := auth.ParseVisitorToken(secret, strings.TrimSpace(token))
		if err != nil {
			common.Abort(c, http.StatusUnauthorized, 40101, "invalid visitor token")
			return
		}
		c.Set(VisitorIDKey, vid)
		c.Next()
	}
}

// VisitorID returns the token's visitor id if the request carried one, else fallback.
func VisitorID(c *gin.Context, fallback string) string {
	if v := c.GetString(VisitorIDKey); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}
