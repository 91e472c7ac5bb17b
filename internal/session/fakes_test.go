package session_test

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"

	"devchat/client/internal/models"
	"devchat/client/internal/session"
	"devchat/client/internal/transport"
)

type MockLoader struct {
	mock.Mock
}

func (m *MockLoader) FetchMessages(ctx context.Context, identity models.ConversationIdentity) ([]models.ChatMessage, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatMessage), args.Error(1)
}

func (m *MockLoader) FetchCounterpartProfile(ctx context.Context, userID string) (*models.CounterpartProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CounterpartProfile), args.Error(1)
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Begin(ctx context.Context, rec *models.SessionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockJournal) Finish(ctx context.Context, rec *models.SessionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// fakeChannel is an in-memory Channel. Connect succeeds at once unless gate is
// set, in which case it waits for a value from gate (nil means success).
type fakeChannel struct {
	mu          sync.Mutex
	handler     transport.MessageHandler
	listener    transport.StateListener
	state       transport.State
	sent        []models.OutgoingChatMessage
	joins       []string
	connects    int
	disconnects int
	gate        chan error
	// afterJoin runs once, on the joining goroutine, right after the next join.
	afterJoin func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (f *fakeChannel) setState(s transport.State) {
	f.mu.Lock()
	if f.state == s {
		f.mu.Unlock()
		return
	}
	f.state = s
	listener := f.listener
	f.mu.Unlock()
	if listener != nil {
		listener(s)
	}
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	gate := f.gate
	f.mu.Unlock()

	f.setState(transport.Connecting)
	if gate == nil {
		return nil
	}
	select {
	case err := <-gate:
		if err != nil {
			f.setState(transport.Disconnected)
			return errors.Wrap(transport.ErrConnectFailure, err.Error())
		}
		return nil
	case <-ctx.Done():
		f.setState(transport.Disconnected)
		return errors.Wrap(transport.ErrConnectFailure, ctx.Err().Error())
	}
}

func (f *fakeChannel) Join(identity models.ConversationIdentity, localDisplayName string) error {
	f.mu.Lock()
	if f.state != transport.Connecting {
		f.mu.Unlock()
		return transport.ErrNotConnected
	}
	f.joins = append(f.joins, localDisplayName+"@"+identity.Room())
	hook := f.afterJoin
	f.afterJoin = nil
	f.mu.Unlock()
	f.setState(transport.Joined)
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeChannel) Send(msg models.OutgoingChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.Joined {
		return transport.ErrNotJoined
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Subscribe(handler transport.MessageHandler) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handler != nil {
		return nil, transport.ErrAlreadySubscribed
	}
	f.handler = handler
	return fakeSubscription{f}, nil
}

func (f *fakeChannel) Watch(listener transport.StateListener) {
	f.mu.Lock()
	f.listener = listener
	f.mu.Unlock()
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	f.setState(transport.Disconnected)
}

func (f *fakeChannel) setGate(gate chan error) {
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
}

func (f *fakeChannel) onNextJoin(hook func()) {
	f.mu.Lock()
	f.afterJoin = hook
	f.mu.Unlock()
}

func (f *fakeChannel) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

// deliver plays one inbound messageReceived event.
func (f *fakeChannel) deliver(msg models.ChatMessage) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

// drop simulates the server going away.
func (f *fakeChannel) drop() {
	f.setState(transport.Disconnected)
}

func (f *fakeChannel) sentMessages() []models.OutgoingChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OutgoingChatMessage(nil), f.sent...)
}

func (f *fakeChannel) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func (f *fakeChannel) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

type fakeSubscription struct {
	f *fakeChannel
}

func (s fakeSubscription) Cancel() {
	s.f.mu.Lock()
	s.f.handler = nil
	s.f.mu.Unlock()
}

// countingMetrics records every call.
type countingMetrics struct {
	mu       sync.Mutex
	opened   int
	closed   int
	received int
	sent     int
	failures map[session.FailureKind]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{failures: map[session.FailureKind]int{}}
}

func (m *countingMetrics) SessionOpened()   { m.mu.Lock(); m.opened++; m.mu.Unlock() }
func (m *countingMetrics) SessionClosed()   { m.mu.Lock(); m.closed++; m.mu.Unlock() }
func (m *countingMetrics) MessageReceived() { m.mu.Lock(); m.received++; m.mu.Unlock() }
func (m *countingMetrics) MessageSent()     { m.mu.Lock(); m.sent++; m.mu.Unlock() }

func (m *countingMetrics) Failure(kind session.FailureKind) {
	m.mu.Lock()
	m.failures[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) failureCount(kind session.FailureKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[kind]
}
