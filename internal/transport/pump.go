package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"devchat/client/internal/models"
)

// link is one established connection and its pumps.
type link struct {
	conn     *websocket.Conn
	send     chan []byte
	pongWait time.Duration

	once     sync.Once
	graceful bool
	done     chan struct{}
	// stopped is closed once the write pump has released the socket.
	stopped chan struct{}
}

func newLink(conn *websocket.Conn, buffer int, pongWait time.Duration) *link {
	return &link{
		conn:     conn,
		send:     make(chan []byte, buffer),
		pongWait: pongWait,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. It reports false when the queue is
// full or the link is shutting down.
func (l *link) enqueue(frame []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown stops the pumps. A graceful shutdown flushes queued frames and says
// goodbye to the server first.
func (l *link) shutdown(graceful bool) {
	l.once.Do(func() {
		l.graceful = graceful
		close(l.done)
	})
}

// readPump decodes inbound frames until the connection fails or is closed.
func (c *Channel) readPump(l *link) {
	var reason error
	defer func() {
		c.drop(l, reason)
	}()

	l.conn.SetReadLimit(c.cfg.MaxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(l.pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(l.pongWait))
		return nil
	})

	for {
		kind, frame, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("error reading frame")
			}
			reason = err
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(l.pongWait))
		if kind != websocket.TextMessage {
			continue
		}

		p, err := decodePacket(frame)
		if err != nil {
			c.logger.Warn().Err(err).Bytes("frame", frame).Msg("skipping malformed frame")
			continue
		}

		switch p.eio {
		case eioPing:
			l.enqueue(pongPacket)
		case eioClose:
			reason = errServerClosed
			return
		case eioMessage:
			if p.sio == sioDisconnect {
				reason = errServerClosed
				return
			}
			if p.sio == sioEvent {
				c.dispatch(p)
			}
		}
	}
}

func (c *Channel) dispatch(p packet) {
	if p.Event != models.EventMessageReceived {
		c.logger.Debug().Str("event", p.Event).Msg("ignoring event")
		return
	}

	var payload models.MessageReceivedPayload
	if err := json.Unmarshal(p.Data, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("skipping undecodable message event")
		return
	}

	if h := c.handler(); h != nil {
		h(payload.ChatMessage())
	}
}

// writePump writes queued frames until the link shuts down.
func (c *Channel) writePump(l *link) {
	ticker := time.NewTicker((l.pongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		l.conn.Close()
		close(l.stopped)
	}()

	write := func(frame []byte) error {
		l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
		return l.conn.WriteMessage(websocket.TextMessage, frame)
	}

	for {
		select {
		case frame := <-l.send:
			if err := write(frame); err != nil {
				c.logger.Warn().Err(err).Msg("error writing frame")
				go c.drop(l, err)
				<-l.done
				return
			}

		case <-l.done:
			if !l.graceful {
				return
			}
		drain:
			for {
				select {
				case frame := <-l.send:
					if err := write(frame); err != nil {
						return
					}
				default:
					break drain
				}
			}
			if err := write(disconnectPacket); err != nil {
				return
			}
			l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go c.drop(l, err)
				<-l.done
				return
			}
		}
	}
}
