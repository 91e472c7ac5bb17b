// Package session runs one conversation view: it seeds the transcript from the
// history loader, keeps it current from the realtime channel and forwards the
// user's sends. A Controller is the only writer of its transcript.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"devchat/client/internal/logging"
	"devchat/client/internal/models"
	"devchat/client/internal/transport"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("session closed")

// FailureKind names a failure the controller absorbs instead of surfacing.
type FailureKind string

const (
	FailureHistoryUnavailable FailureKind = "history_unavailable"
	FailureProfileUnavailable FailureKind = "profile_unavailable"
	FailureConnect            FailureKind = "connect_failure"
	FailureSend               FailureKind = "send_failure"
)

// Loader is the REST side of a conversation. *history.Client satisfies it.
type Loader interface {
	FetchMessages(ctx context.Context, identity models.ConversationIdentity) ([]models.ChatMessage, error)
	FetchCounterpartProfile(ctx context.Context, userID string) (*models.CounterpartProfile, error)
}

// Channel is the realtime side of a conversation. *transport.Channel satisfies it.
type Channel interface {
	Connect(ctx context.Context) error
	Join(identity models.ConversationIdentity, localDisplayName string) error
	Send(msg models.OutgoingChatMessage) error
	Subscribe(handler transport.MessageHandler) (transport.Subscription, error)
	Watch(listener transport.StateListener)
	Disconnect()
}

// Journal records the lifetime of each view.
type Journal interface {
	Begin(ctx context.Context, rec *models.SessionRecord) error
	Finish(ctx context.Context, rec *models.SessionRecord) error
}

// Metrics counts what happens in views.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	MessageReceived()
	MessageSent()
	Failure(kind FailureKind)
}

// Options tunes a controller.
type Options struct {
	// OutboxSize bounds the sends held while the channel is not yet joined.
	OutboxSize int
	// RejoinOnDrop reruns connect and join once when a joined channel drops.
	RejoinOnDrop bool
}

// Deps are the collaborators of one view. Loader and Channel are required.
type Deps struct {
	Loader  Loader
	Channel Channel
	Journal Journal
	Metrics Metrics
	Logger  zerolog.Logger
	Options Options
}

// Update is a full snapshot of the view, published after every change.
// Transcript is shared between updates and must not be modified.
// HistoryLoaded is set once the history fetch has finished, successfully or not.
type Update struct {
	ViewID        string
	Title         string
	Profile       *models.CounterpartProfile
	Transcript    []models.ChatMessage
	State         transport.State
	Reconnecting  bool
	HistoryLoaded bool
	Closed        bool
}

// Active reports whether the counterpart conversation is live.
func (u Update) Active() bool {
	return u.State == transport.Joined
}

// Controller owns the transcript of one conversation view.
type Controller struct {
	viewID   string
	identity models.ConversationIdentity
	local    models.LocalUser

	loader  Loader
	channel Channel
	journal Journal
	metrics Metrics
	logger  zerolog.Logger
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc

	events    chan event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	sub       transport.Subscription

	record *models.SessionRecord

	mu   sync.RWMutex
	view Update

	watchMu  sync.Mutex
	watchers []chan Update
	closed   bool
}

// Open validates the identity, starts the view's event loop and kicks off the
// history fetch, the profile fetch and the connect+join sequence concurrently.
// Failures of those are absorbed; Open only fails on bad input.
func Open(ctx context.Context, deps Deps, identity models.ConversationIdentity, local models.LocalUser) (*Controller, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if local.ID != identity.LocalUserID {
		return nil, errors.Wrapf(models.ErrInvalidIdentity, "local user %q does not own the conversation", local.ID)
	}
	if deps.Loader == nil || deps.Channel == nil {
		return nil, errors.New("session needs a loader and a channel")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Options.OutboxSize <= 0 {
		deps.Options.OutboxSize = 32
	}

	viewID := uuid.NewString()
	sctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		viewID:   viewID,
		identity: identity,
		local:    local,
		loader:   deps.Loader,
		channel:  deps.Channel,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		logger: deps.Logger.With().
			Str(logging.FieldViewID, viewID).
			Str(logging.FieldUserID, identity.LocalUserID).
			Str(logging.FieldCounterpartID, identity.CounterpartUserID).
			Logger(),
		opts:   deps.Options,
		ctx:    sctx,
		cancel: cancel,
		events: make(chan event, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		record: &models.SessionRecord{
			ViewID:            viewID,
			LocalUserID:       identity.LocalUserID,
			CounterpartUserID: identity.CounterpartUserID,
			OpenedAt:          time.Now().UTC(),
		},
		view: Update{
			ViewID:     viewID,
			Title:      models.Title(nil),
			Transcript: []models.ChatMessage{},
			State:      transport.Disconnected,
		},
	}

	sub, err := c.channel.Subscribe(func(m models.ChatMessage) { c.post(messageIn{msg: m}) })
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "subscribe to channel")
	}
	c.sub = sub
	c.channel.Watch(func(s transport.State) { c.post(stateChanged{state: s}) })

	if c.journal != nil {
		if err := c.journal.Begin(sctx, c.record); err != nil {
			c.logger.Warn().Err(err).Msg("session journal begin failed")
		}
	}
	c.metrics.SessionOpened()

	go c.run()
	go c.loadHistory()
	go c.loadProfile()
	go c.connect(firstAttempt)

	c.logger.Info().Msg("conversation view opened")
	return c, nil
}

// ViewID identifies this view in logs and the journal.
func (c *Controller) ViewID() string {
	return c.viewID
}

// Identity returns the conversation identity, or the zero value after Close.
func (c *Controller) Identity() models.ConversationIdentity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.view.Closed {
		return models.ConversationIdentity{}
	}
	return c.identity
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Transcript returns a copy of the transcript.
func (c *Controller) Transcript() []models.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ChatMessage, len(c.view.Transcript))
	copy(out, c.view.Transcript)
	return out
}

// Profile returns the counterpart profile, or nil while unknown.
func (c *Controller) Profile() *models.CounterpartProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.view.Profile == nil {
		return nil
	}
	p := *c.view.Profile
	return &p
}

// Title returns the view title.
func (c *Controller) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.Title
}

// State returns the channel state as last seen by the view.
func (c *Controller) State() transport.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.State
}

// SubmitText sends text as the local user. The message is not added to the
// transcript; it shows up only if the backend echoes it. Text that is empty or
// only whitespace is dropped without a send and without an error, whichever
// adapter key or button produced it.
func (c *Controller) SubmitText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	select {
	case <-c.quit:
		return ErrClosed
	default:
	}
	select {
	case c.events <- submit{text: text}:
		return nil
	case <-c.quit:
		return ErrClosed
	}
}

// Close stops the view: pending fetches are canceled, the loop exits, the
// channel is disconnected and the transcript is discarded. Results arriving
// afterwards are ignored. Calling Close more than once is safe.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.quit)
		<-c.done

		if c.sub != nil {
			c.sub.Cancel()
		}
		c.channel.Disconnect()

		now := time.Now().UTC()
		c.record.ClosedAt = &now
		if c.journal != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.journal.Finish(ctx, c.record); err != nil {
				c.logger.Warn().Err(err).Msg("session journal finish failed")
			}
			cancel()
		}
		c.metrics.SessionClosed()

		c.mu.Lock()
		c.view = Update{
			ViewID:     c.viewID,
			Title:      models.Title(nil),
			Transcript: []models.ChatMessage{},
			State:      transport.Disconnected,
			Closed:     true,
		}
		final := c.view
		c.mu.Unlock()
		c.closeWatchers(final)

		c.logger.Info().Msg("conversation view closed")
	})
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()      {}
func (nopMetrics) SessionClosed()      {}
func (nopMetrics) MessageReceived()    {}
func (nopMetrics) MessageSent()        {}
func (nopMetrics) Failure(FailureKind) {}
