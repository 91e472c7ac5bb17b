package session

import (
	"github.com/pkg/errors"

	"devchat/client/internal/logging"
	"devchat/client/internal/models"
	"devchat/client/internal/transport"
)

type event interface{}

type (
	historyLoaded struct {
		messages []models.ChatMessage
		err      error
	}
	profileLoaded struct {
		profile *models.CounterpartProfile
		err     error
	}
	connectDone struct {
		attempt int
		err     error
	}
	messageIn struct {
		msg models.ChatMessage
	}
	stateChanged struct {
		state transport.State
	}
	submit struct {
		text string
	}
)

// loopState is owned by the run goroutine.
type loopState struct {
	transcript   []models.ChatMessage
	profile      *models.CounterpartProfile
	loaded       bool
	state        transport.State
	reconnecting bool
	// pending is set while a connect+join sequence is running; attempt numbers
	// that sequence so a late result of an earlier one is recognized.
	pending bool
	attempt int
	outbox  []models.OutgoingChatMessage
}

// post hands an event to the loop. Events posted after Close are dropped.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *Controller) run() {
	defer close(c.done)

	st := &loopState{
		transcript: []models.ChatMessage{},
		state:      transport.Disconnected,
		pending:    true,
		attempt:    firstAttempt,
	}
	for {
		select {
		case <-c.quit:
			return
		case ev := <-c.events:
			if c.handle(st, ev) {
				c.publish(st)
			}
		}
	}
}

// handle applies one event and reports whether the view changed.
func (c *Controller) handle(st *loopState, ev event) bool {
	switch ev := ev.(type) {
	case historyLoaded:
		if ev.err != nil {
			c.absorb(FailureHistoryUnavailable, ev.err)
			st.transcript = []models.ChatMessage{}
		} else if ev.messages == nil {
			st.transcript = []models.ChatMessage{}
		} else {
			st.transcript = ev.messages
		}
		st.loaded = true
		c.record.HistorySize = len(ev.messages)
		c.logger.Debug().Int("messages", len(ev.messages)).Msg("history loaded")
		return true

	case profileLoaded:
		if ev.err != nil {
			c.absorb(FailureProfileUnavailable, ev.err)
			return false
		}
		st.profile = ev.profile
		return true

	case messageIn:
		st.transcript = append(st.transcript, ev.msg)
		c.record.LiveMessages++
		c.metrics.MessageReceived()
		return true

	case submit:
		msg := models.NewOutgoingChatMessage(c.local, c.identity, ev.text)
		if st.state == transport.Joined {
			c.send(msg)
			return false
		}
		if !st.pending {
			c.absorb(FailureSend, errors.Wrap(transport.ErrNotJoined, "conversation is not active"))
			return false
		}
		if len(st.outbox) >= c.opts.OutboxSize {
			c.absorb(FailureSend, errors.Wrap(transport.ErrSendQueueFull, "outbox full before join"))
			return false
		}
		st.outbox = append(st.outbox, msg)
		return false

	case stateChanged:
		return c.onState(st, ev.state)

	case connectDone:
		if ev.attempt != st.attempt {
			c.logger.Debug().Int("attempt", ev.attempt).Err(ev.err).Msg("ignoring superseded connect result")
			return false
		}
		st.pending = false
		st.reconnecting = false
		if ev.err != nil {
			c.absorb(FailureConnect, ev.err)
			c.discardOutbox(st)
		}
		return true
	}
	return false
}

func (c *Controller) onState(st *loopState, next transport.State) bool {
	prev := st.state
	if prev == next {
		return false
	}
	st.state = next
	c.logger.Debug().Str(logging.FieldState, next.String()).Msg("channel state")

	switch next {
	case transport.Joined:
		queued := st.outbox
		st.outbox = nil
		for _, msg := range queued {
			c.send(msg)
		}
	case transport.Disconnected:
		c.discardOutbox(st)
		if prev == transport.Joined && c.opts.RejoinOnDrop {
			st.pending = true
			st.reconnecting = true
			st.attempt++
			c.logger.Info().Int("attempt", st.attempt).Msg("channel dropped, rejoining")
			go c.connect(st.attempt)
		}
	}
	return true
}

func (c *Controller) discardOutbox(st *loopState) {
	if len(st.outbox) == 0 {
		return
	}
	c.absorb(FailureSend, errors.Wrapf(transport.ErrNotJoined, "discarded %d queued messages", len(st.outbox)))
	st.outbox = nil
}

func (c *Controller) send(msg models.OutgoingChatMessage) {
	if err := c.channel.Send(msg); err != nil {
		c.absorb(FailureSend, err)
		return
	}
	c.metrics.MessageSent()
}

// absorb logs, counts and journals a failure the view keeps running through.
func (c *Controller) absorb(kind FailureKind, err error) {
	c.logger.Warn().Err(err).Str(logging.FieldFailure, string(kind)).Msg("absorbed failure")
	c.metrics.Failure(kind)
	c.record.Failures = append(c.record.Failures, string(kind))
}

func (c *Controller) publish(st *loopState) {
	u := Update{
		ViewID:        c.viewID,
		Title:         models.Title(st.profile),
		Profile:       st.profile,
		Transcript:    st.transcript[:len(st.transcript):len(st.transcript)],
		State:         st.state,
		Reconnecting:  st.reconnecting,
		HistoryLoaded: st.loaded,
	}
	c.mu.Lock()
	c.view = u
	c.mu.Unlock()
	c.broadcast(u)
}

func (c *Controller) loadHistory() {
	messages, err := c.loader.FetchMessages(c.ctx, c.identity)
	c.post(historyLoaded{messages: messages, err: err})
}

func (c *Controller) loadProfile() {
	profile, err := c.loader.FetchCounterpartProfile(c.ctx, c.identity.CounterpartUserID)
	c.post(profileLoaded{profile: profile, err: err})
}

// firstAttempt numbers the connect+join sequence Open starts.
const firstAttempt = 1

func (c *Controller) connect(attempt int) {
	err := c.ctx.Err()
	if err == nil {
		err = c.channel.Connect(c.ctx)
	}
	if err == nil {
		err = c.ctx.Err()
	}
	if err == nil {
		err = c.channel.Join(c.identity, c.local.DisplayName())
	}
	c.post(connectDone{attempt: attempt, err: err})
}
