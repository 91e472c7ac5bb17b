package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"devchat/client/internal/localization"
	"devchat/client/internal/logging"
	"devchat/client/internal/models"
	"devchat/client/internal/session"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 8 * 1024
)

// Bridge tokens gate every view, so any origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundFrame is what a local UI sends. Only "submit" is understood.
type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageFrame struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Text      string `json:"text"`
	Own       bool   `json:"own"`
}

type updateFrame struct {
	Type          string         `json:"type"`
	ViewID        string         `json:"viewId"`
	Title         string         `json:"title"`
	Status        string         `json:"status"`
	Active        bool           `json:"active"`
	Reconnecting  bool           `json:"reconnecting"`
	HistoryLoaded bool           `json:"historyLoaded"`
	Closed        bool           `json:"closed"`
	Messages      []messageFrame `json:"messages"`
}

func (h *Handler) frame(u session.Update) updateFrame {
	title := u.Title
	if u.Profile == nil {
		title = h.Labels.Get(localization.KeyTitlePlaceholder)
	}
	f := updateFrame{
		Type:          "update",
		ViewID:        u.ViewID,
		Title:         title,
		Status:        h.Labels.Get(localization.StatusKey(u.State, u.Reconnecting)),
		Active:        u.Active(),
		Reconnecting:  u.Reconnecting,
		HistoryLoaded: u.HistoryLoaded,
		Closed:        u.Closed,
		Messages:      make([]messageFrame, 0, len(u.Transcript)),
	}
	for _, m := range u.Transcript {
		f.Messages = append(f.Messages, messageFrame{
			FirstName: m.SenderFirstName,
			LastName:  m.SenderLastName,
			Text:      m.Text,
			Own:       m.IsOwn(h.Local),
		})
	}
	return f
}

// ServeView opens a conversation view and streams it over a websocket until
// either side goes away.
func (h *Handler) ServeView(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.Ctx(ctx).With().Str(logging.FieldCounterpartID, c.Param("counterpartId")).Logger()

	view, err := h.Views.Open(ctx, c.Param("counterpartId"))
	if err != nil {
		if errors.Is(err, models.ErrInvalidIdentity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Error().Err(err).Msg("open view failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open conversation"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		view.Close()
		return
	}

	vc := &viewConn{handler: h, conn: conn, view: view, logger: logger}
	go vc.writePump()
	vc.readPump()
}

// viewConn pumps one view to one websocket.
type viewConn struct {
	handler *Handler
	conn    *websocket.Conn
	view    View
	logger  zerolog.Logger
}

func (vc *viewConn) readPump() {
	defer vc.view.Close()

	vc.conn.SetReadLimit(maxFrameSize)
	vc.conn.SetReadDeadline(time.Now().Add(pongWait))
	vc.conn.SetPongHandler(func(string) error {
		vc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := vc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				vc.logger.Warn().Err(err).Msg("error reading frame")
			}
			return
		}

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			vc.logger.Warn().Err(err).Msg("skipping undecodable frame")
			continue
		}
		switch f.Type {
		case "submit":
			if err := vc.view.SubmitText(f.Text); err != nil {
				return
			}
		default:
			vc.logger.Debug().Str("type", f.Type).Msg("ignoring frame")
		}
	}
}

func (vc *viewConn) writePump() {
	updates := vc.view.Watch()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		vc.conn.Close()
	}()

	for {
		select {
		case u, ok := <-updates:
			vc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				vc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := vc.conn.WriteJSON(vc.handler.frame(u)); err != nil {
				vc.logger.Warn().Err(err).Msg("error writing update")
				return
			}

		case <-ticker.C:
			vc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := vc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
