// Package transport owns the realtime connection a conversation view uses for live
// message delivery. It speaks the socket.io v4 protocol over a gorilla/websocket
// connection and translates its events into domain messages.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"devchat/client/internal/models"
)

// DefaultPath is the socket.io handshake path.
const DefaultPath = "/socket.io/"

// Config tunes one channel.
type Config struct {
	// URL is the backend socket base URL (http, https, ws or wss).
	URL string
	// Path overrides DefaultPath.
	Path            string
	Header          http.Header
	ConnectTimeout  time.Duration
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
	SendBuffer      int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// MessageHandler receives inbound chat messages.
type MessageHandler func(models.ChatMessage)

// Subscription is the single receive registration a channel allows.
type Subscription interface {
	// Cancel releases the registration. It is safe to call more than once.
	Cancel()
}

// Channel is one long-lived realtime connection handle. A conversation view
// creates it once when it opens and disconnects it once when it closes.
type Channel struct {
	cfg    Config
	url    string
	dialer Dialer
	logger zerolog.Logger

	state stateBox

	mu       sync.Mutex
	link     *link
	sub      *subscription
	listener StateListener
}

// New creates a disconnected channel.
func New(cfg Config, dialer Dialer, logger zerolog.Logger) (*Channel, error) {
	cfg = cfg.withDefaults()
	endpoint, err := endpointURL(cfg.URL, cfg.Path)
	if err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
	}
	return &Channel{
		cfg:    cfg,
		url:    endpoint,
		dialer: dialer,
		logger: logger,
	}, nil
}

// State returns the current state.
func (c *Channel) State() State {
	return c.state.load()
}

// Watch registers the state listener, replacing any previous one.
func (c *Channel) Watch(listener StateListener) {
	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()
}

// setStateLocked records s and returns the listener to notify, or nil when the
// state did not change. c.mu must be held.
func (c *Channel) setStateLocked(s State) StateListener {
	if c.state.load() == s {
		return nil
	}
	c.state.store(s)
	c.logger.Debug().Stringer("state", s).Msg("channel state changed")
	return c.listener
}

func notify(listener StateListener, s State) {
	if listener != nil {
		listener(s)
	}
}

// Connect dials the backend and completes the socket.io handshake, retrying with
// exponential backoff until cfg.MaxElapsed passes or ctx is done. On success the
// channel is transport-ready and stays Connecting until Join. Connecting an
// already connected channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.link != nil || c.state.load() != Disconnected {
		c.mu.Unlock()
		return nil
	}
	listener := c.setStateLocked(Connecting)
	c.mu.Unlock()
	notify(listener, Connecting)

	var (
		conn     *websocket.Conn
		pongWait time.Duration
	)
	attempt := 0
	op := func() error {
		attempt++
		if c.State() != Connecting {
			return backoff.Permanent(errors.New("disconnected while connecting"))
		}
		var err error
		conn, pongWait, err = c.dial(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("connect attempt failed")
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxElapsedTime = c.cfg.MaxElapsed
	var policy backoff.BackOff = b
	if c.cfg.MaxElapsed <= 0 {
		policy = &backoff.StopBackOff{}
	}

	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if err != nil {
		c.mu.Lock()
		listener = c.setStateLocked(Disconnected)
		c.mu.Unlock()
		notify(listener, Disconnected)
		return errors.Wrap(ErrConnectFailure, err.Error())
	}

	c.mu.Lock()
	if c.state.load() != Connecting {
		// Disconnect won the race while the handshake was in flight.
		c.mu.Unlock()
		conn.Close()
		return errors.Wrap(ErrConnectFailure, "disconnected while connecting")
	}
	l := newLink(conn, c.cfg.SendBuffer, pongWait)
	c.link = l
	c.mu.Unlock()

	go c.writePump(l)
	go c.readPump(l)

	c.logger.Info().Int("attempts", attempt).Msg("channel connected")
	return nil
}

// dial opens the websocket and performs the Engine.IO and socket.io handshakes.
// It returns the read deadline window the server's ping schedule implies.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(attemptCtx, c.url, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, 0, errors.Wrapf(err, "dial %s: status %d", c.url, resp.StatusCode)
		}
		return nil, 0, errors.Wrapf(err, "dial %s", c.url)
	}

	pongWait, err := c.handshake(conn)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}
	return conn, pongWait, nil
}

func (c *Channel) handshake(conn *websocket.Conn) (time.Duration, error) {
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)

	p, err := readPacket(conn)
	if err != nil {
		return 0, errors.Wrap(err, "read open packet")
	}
	if p.eio != eioOpen {
		return 0, errors.Errorf("expected open packet, got %q", p.eio)
	}
	var open openPacket
	if err := json.Unmarshal(p.Body, &open); err != nil {
		return 0, errors.Wrap(err, "decode open packet")
	}
	pongWait := c.cfg.PongWait
	if open.PingInterval > 0 && open.PingTimeout > 0 {
		pongWait = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	}

	if err := conn.WriteMessage(websocket.TextMessage, connectPacket); err != nil {
		return 0, errors.Wrap(err, "write connect packet")
	}

	for {
		p, err := readPacket(conn)
		if err != nil {
			return 0, errors.Wrap(err, "read connect ack")
		}
		switch {
		case p.eio == eioPing:
			if err := conn.WriteMessage(websocket.TextMessage, pongPacket); err != nil {
				return 0, errors.Wrap(err, "write pong")
			}
		case p.eio == eioMessage && p.sio == sioConnect:
			return pongWait, nil
		case p.eio == eioMessage && p.sio == sioConnectError:
			return 0, errors.Errorf("connect rejected: %s", p.Body)
		case p.eio == eioClose:
			return 0, errors.New("closed during handshake")
		}
	}
}

func readPacket(conn *websocket.Conn) (packet, error) {
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			return packet{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		return decodePacket(frame)
	}
}

// Join declares the conversation room. It must follow a successful Connect and
// precede any Send.
func (c *Channel) Join(identity models.ConversationIdentity, localDisplayName string) error {
	frame, err := encodeEvent(models.EventJoinChat, models.NewJoinChatPayload(identity, localDisplayName))
	if err != nil {
		return errors.Wrap(ErrConnectFailure, err.Error())
	}

	c.mu.Lock()
	l := c.link
	if l == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if !l.enqueue(frame) {
		c.mu.Unlock()
		return errors.Wrap(ErrConnectFailure, "join could not be queued")
	}
	listener := c.setStateLocked(Joined)
	c.mu.Unlock()
	notify(listener, Joined)

	c.logger.Info().Str("room", identity.Room()).Msg("joined conversation")
	return nil
}

// Send emits a message event. Delivery is not acknowledged.
func (c *Channel) Send(msg models.OutgoingChatMessage) error {
	frame, err := encodeEvent(models.EventSendMessage, models.NewSendMessagePayload(msg))
	if err != nil {
		return errors.Wrap(ErrSendFailure, err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil || c.state.load() != Joined {
		return ErrNotJoined
	}
	if !c.link.enqueue(frame) {
		return ErrSendQueueFull
	}
	return nil
}

// Subscribe registers the receive handler. Only one subscription may be active.
func (c *Channel) Subscribe(handler MessageHandler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil message handler")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil, ErrAlreadySubscribed
	}
	c.sub = &subscription{channel: c, handler: handler}
	return c.sub, nil
}

func (c *Channel) handler() MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return nil
	}
	return c.sub.handler
}

// Disconnect tears the connection down and waits for the socket to be released.
// Calling it on a disconnected channel does nothing.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	l := c.link
	c.link = nil
	listener := c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if l != nil {
		l.shutdown(true)
		<-l.stopped
		c.logger.Info().Msg("channel disconnected")
	}
	notify(listener, Disconnected)
}

// drop handles a connection lost underneath the channel.
func (c *Channel) drop(l *link, reason error) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	listener := c.setStateLocked(Disconnected)
	c.mu.Unlock()

	l.shutdown(false)
	c.logger.Warn().Err(reason).Msg("channel connection lost")
	notify(listener, Disconnected)
}

type subscription struct {
	channel *Channel
	handler MessageHandler
}

func (s *subscription) Cancel() {
	s.channel.mu.Lock()
	if s.channel.sub == s {
		s.channel.sub = nil
	}
	s.channel.mu.Unlock()
}
