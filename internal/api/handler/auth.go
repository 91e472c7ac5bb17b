package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"devchat/client/internal/auth"
	"devchat/client/internal/logging"
)

const bearerPrefix = "Bearer "

type tokenRequest struct {
	SessionToken string `json:"sessionToken" binding:"required"`
}

// IssueToken trades the backend session token the bridge itself holds for a
// bridge token. Only a caller that already has the bridge's session can get one.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionToken is required"})
		return
	}

	var own string
	if h.SessionToken != nil {
		own = h.SessionToken()
	}
	if own == "" || subtle.ConstantTimeCompare([]byte(req.SessionToken), []byte(own)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
		return
	}
	if _, err := auth.DecodeSession(req.SessionToken, time.Now()); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
		return
	}

	token, exp, err := h.Issuer.Issue(h.Local.ID)
	if err != nil {
		logger := logging.Ctx(c.Request.Context())
		logger.Error().Err(err).Msg("issue bridge token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": exp.UTC()})
}

// RequireBridgeToken accepts a bearer token, or an access_token query parameter
// for browsers that cannot set headers on websocket requests.
func (h *Handler) RequireBridgeToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("access_token")
		if header := c.GetHeader("Authorization"); header != "" {
			if !strings.HasPrefix(header, bearerPrefix) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
				return
			}
			token = strings.TrimPrefix(header, bearerPrefix)
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token missing"})
			return
		}

		userID, err := h.Issuer.Verify(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		if userID != h.Local.ID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token belongs to another user"})
			return
		}

		c.Set(logging.FieldUserID, userID)
		c.Next()
	}
}
