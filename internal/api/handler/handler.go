// Package handler is the bridge's HTTP surface: it lets local UIs open
// conversation views over a websocket and read the few REST resources they
// need around them.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"devchat/client/internal/auth"
	"devchat/client/internal/localization"
	"devchat/client/internal/logging"
	"devchat/client/internal/models"
	"devchat/client/internal/session"
)

// View is an open conversation view. *session.Controller satisfies it.
type View interface {
	Watch() <-chan session.Update
	SubmitText(text string) error
	Close()
}

// Opener opens a view of the conversation with a counterpart.
type Opener interface {
	Open(ctx context.Context, counterpartID string) (View, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, counterpartID string) (View, error)

func (f OpenerFunc) Open(ctx context.Context, counterpartID string) (View, error) {
	return f(ctx, counterpartID)
}

// FactoryOpener opens views with a session.Factory.
func FactoryOpener(f *session.Factory) Opener {
	return OpenerFunc(func(ctx context.Context, counterpartID string) (View, error) {
		c, err := f.Open(ctx, counterpartID)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Directory lists the counterparts the local user may chat with.
type Directory interface {
	FetchConnections(ctx context.Context) ([]models.CounterpartProfile, error)
}

// SessionLog reads the session journal.
type SessionLog interface {
	RecentSessions(ctx context.Context, localUserID string, limit int) ([]models.SessionRecord, error)
}

// Handler holds the bridge's collaborators. Sessions and Metrics are optional.
// SessionToken returns the backend session the bridge is logged in with; POST
// /token only accepts that exact value.
type Handler struct {
	Local        models.LocalUser
	SessionToken func() string
	Views        Opener
	Directory    Directory
	Sessions     SessionLog
	Issuer       *auth.Issuer
	Metrics      http.Handler
	Labels       localization.Labels
	Logger       zerolog.Logger
}

// Router builds the gin engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(h.Logger, "/healthz", "/metrics"))

	r.GET("/healthz", h.Health)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}
	r.POST("/token", h.IssueToken)

	authed := r.Group("/", h.RequireBridgeToken())
	authed.GET("/me", h.Me)
	authed.GET("/connections", h.Connections)
	authed.GET("/sessions", h.RecentSessions)
	authed.GET("/ws/:counterpartId", h.ServeView)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Me returns the user the bridge is logged in as.
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": h.Local})
}

func (h *Handler) Connections(c *gin.Context) {
	users, err := h.Directory.FetchConnections(c.Request.Context())
	if err != nil {
		logger := logging.Ctx(c.Request.Context())
		logger.Warn().Err(err).Msg("fetch connections failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "connections unavailable"})
		return
	}
	if users == nil {
		users = []models.CounterpartProfile{}
	}
	c.JSON(http.StatusOK, gin.H{"user": users})
}

func (h *Handler) RecentSessions(c *gin.Context) {
	if h.Sessions == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []models.SessionRecord{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := h.Sessions.RecentSessions(c.Request.Context(), h.Local.ID, limit)
	if err != nil {
		logger := logging.Ctx(c.Request.Context())
		logger.Error().Err(err).Msg("list sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sessions unavailable"})
		return
	}
	if records == nil {
		records = []models.SessionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records})
}
