package transport_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devchat/client/internal/models"
	"devchat/client/internal/transport"
)

var (
	amy      = models.LocalUser{ID: "u1", FirstName: "Amy", LastName: "Lee"}
	identity = models.ConversationIdentity{LocalUserID: "u1", CounterpartUserID: "u2"}
)

type stateRecorder struct {
	mu     sync.Mutex
	states []transport.State
}

func (r *stateRecorder) record(s transport.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []transport.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.State(nil), r.states...)
}

func (r *stateRecorder) count(s transport.State) int {
	n := 0
	for _, got := range r.snapshot() {
		if got == s {
			n++
		}
	}
	return n
}

func newChannel(t *testing.T, url string) *transport.Channel {
	t.Helper()
	ch, err := transport.New(transport.Config{
		URL:             url,
		ConnectTimeout:  2 * time.Second,
		MaxElapsed:      0,
		InitialInterval: 10 * time.Millisecond,
		WriteWait:       time.Second,
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(ch.Disconnect)
	return ch
}

func connectAndJoin(t *testing.T, b *fakeBackend, ch *transport.Channel) *serverConn {
	t.Helper()
	require.NoError(t, ch.Connect(context.Background()))
	sc := b.accept()
	require.NoError(t, ch.Join(identity, amy.DisplayName()))
	return sc
}

func TestChannel_ConnectJoinSend(t *testing.T) {
	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())
	rec := &stateRecorder{}
	ch.Watch(rec.record)

	sc := connectAndJoin(t, b, ch)
	assert.Equal(t, transport.Joined, ch.State())

	name, payload := event(t, sc.next(t))
	assert.Equal(t, "joinChat", name)
	assert.JSONEq(t, `{"firstName":"Amy","userId":"u1","targetUserId":"u2"}`, payload)

	require.NoError(t, ch.Send(models.NewOutgoingChatMessage(amy, identity, "hello")))
	name, payload = event(t, sc.next(t))
	assert.Equal(t, "sendMessage", name)
	assert.JSONEq(t, `{"firstName":"Amy","lastName":"Lee","userId":"u1","targetUserId":"u2","text":"hello"}`, payload)

	assert.Equal(t, []transport.State{transport.Connecting, transport.Joined}, rec.snapshot())
}

func TestChannel_SendBeforeJoin(t *testing.T) {
	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())

	err := ch.Send(models.NewOutgoingChatMessage(amy, identity, "too early"))
	assert.True(t, errors.Is(err, transport.ErrNotJoined))
	assert.True(t, errors.Is(err, transport.ErrSendFailure))

	require.NoError(t, ch.Connect(context.Background()))
	b.accept()
	assert.Equal(t, transport.Connecting, ch.State(), "transport-ready but not yet joined")

	err = ch.Send(models.NewOutgoingChatMessage(amy, identity, "still early"))
	assert.True(t, errors.Is(err, transport.ErrNotJoined))
}

func TestChannel_JoinBeforeConnect(t *testing.T) {
	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())

	err := ch.Join(identity, amy.DisplayName())
	assert.True(t, errors.Is(err, transport.ErrNotConnected))
	assert.True(t, errors.Is(err, transport.ErrConnectFailure))
	assert.Equal(t, transport.Disconnected, ch.State())
}

func TestChannel_ReceiveExactlyOncePerEvent(t *testing.T) {
	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())

	var (
		mu       sync.Mutex
		received []models.ChatMessage
	)
	sub, err := ch.Subscribe(func(m models.ChatMessage) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Cancel()

	sc := connectAndJoin(t, b, ch)

	const n = 1000
	for i := 0; i < n; i++ {
		sc.emit(t, "messageReceived", map[string]string{"firstName": "Bo", "lastName": "Ng", "text": fmt.Sprintf("m%d", i)})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= n
	}, 5*time.Second, 10*time.Millisecond)

	// Give a duplicate delivery the chance to show up.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, n)
	for i, m := range received {
		assert.Equal(t, models.ChatMessage{SenderFirstName: "Bo", SenderLastName: "Ng", Text: fmt.Sprintf("m%d", i)}, m)
	}
}

func TestChannel_IgnoresUnknownAndMalformedEvents(t *testing.T) {
	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())

	got := make(chan models.ChatMessage, 4)
	_, err := ch.Subscribe(func(m models.ChatMessage) { got <- m })
	require.NoError(t, err)
	sc := connectAndJoin(t, b, ch)

	sc.write(`42["typing",{"userId":"u2"}]`)
	sc.write(`42["messageReceived",`)
	sc.write(`42["messageReceived","not an object"]`)
	sc.emit(t, "messageReceived", map[string]string{"firstName": "Bo", "lastName": "Ng", "text": "yo"})

	select {
	case m := <-got:
		assert.Equal(t, "yo", m.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.Equal(t, transport.Joined, ch.State())
	assert.Empty(t, got)
}

func TestChannel_SingleSubscription(t *testing.T) {
	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())

	first, err := ch.Subscribe(func(models.ChatMessage) {})
	require.NoError(t, err)

	_, err = ch.Subscribe(func(models.ChatMessage) {})
	assert.True(t, errors.Is(err, transport.ErrAlreadySubscribed))

	first.Cancel()
	first.Cancel()

	second, err := ch.Subscribe(func(models.ChatMessage) {})
	require.NoError(t, err)
	second.Cancel()

	_, err = ch.Subscribe(nil)
	assert.Error(t, err)
}

func TestChannel_DisconnectIsIdempotent(t *testing.T) {
	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())
	rec := &stateRecorder{}
	ch.Watch(rec.record)

	// Disconnecting a channel that never connected is a no-op.
	ch.Disconnect()
	assert.Empty(t, rec.snapshot())

	sc := connectAndJoin(t, b, ch)
	require.NoError(t, ch.Send(models.NewOutgoingChatMessage(amy, identity, "bye")))

	ch.Disconnect()
	ch.Disconnect()

	frames := sc.rest(t)
	disconnects := 0
	for _, f := range frames {
		if f == "41" {
			disconnects++
		}
	}
	assert.Equal(t, 1, disconnects, "exactly one socket.io disconnect packet")
	assert.Equal(t, "41", frames[len(frames)-1])
	name, _ := event(t, frames[len(frames)-2])
	assert.Equal(t, "sendMessage", name, "queued sends are flushed before the goodbye")

	assert.Equal(t, 1, rec.count(transport.Disconnected))
	assert.Equal(t, transport.Disconnected, ch.State())
}

func TestChannel_ConnectFailure(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	ch, err := transport.New(transport.Config{
		URL:             down.URL,
		ConnectTimeout:  time.Second,
		MaxElapsed:      200 * time.Millisecond,
		InitialInterval: 20 * time.Millisecond,
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	rec := &stateRecorder{}
	ch.Watch(rec.record)

	err = ch.Connect(context.Background())
	assert.True(t, errors.Is(err, transport.ErrConnectFailure))
	assert.Equal(t, transport.Disconnected, ch.State())
	assert.Equal(t, []transport.State{transport.Connecting, transport.Disconnected}, rec.snapshot())
}

func TestChannel_ConnectRejected(t *testing.T) {
	b := newFakeBackend(t)
	b.connectError = true
	ch := newChannel(t, b.URL())

	err := ch.Connect(context.Background())
	assert.True(t, errors.Is(err, transport.ErrConnectFailure))
	assert.Contains(t, err.Error(), "unauthorized")
	assert.Equal(t, transport.Disconnected, ch.State())
}

func TestChannel_ConnectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())

	err := ch.Connect(ctx)
	assert.True(t, errors.Is(err, transport.ErrConnectFailure))
	assert.Equal(t, transport.Disconnected, ch.State())
}

func TestChannel_AnswersEngineIOPing(t *testing.T) {
	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())
	sc := connectAndJoin(t, b, ch)
	sc.next(t) // joinChat

	sc.write("2")
	assert.Equal(t, "3", sc.next(t))
}

func TestChannel_ServerDrop(t *testing.T) {
	b := newFakeBackend(t)
	ch := newChannel(t, b.URL())
	rec := &stateRecorder{}
	ch.Watch(rec.record)

	sc := connectAndJoin(t, b, ch)
	sc.write("41")

	require.Eventually(t, func() bool {
		return ch.State() == transport.Disconnected
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rec.count(transport.Disconnected))

	err := ch.Send(models.NewOutgoingChatMessage(amy, identity, "into the void"))
	assert.True(t, errors.Is(err, transport.ErrNotJoined))

	// Dropped channels can run the full sequence again.
	sc = connectAndJoin(t, b, ch)
	name, _ := event(t, sc.next(t))
	assert.Equal(t, "joinChat", name)
}
