package history_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"devchat/client/internal/history"
	"devchat/client/internal/models"
)

var identity = models.ConversationIdentity{LocalUserID: "u1", CounterpartUserID: "u2"}

type MockProfileCache struct {
	mock.Mock
}

func (m *MockProfileCache) Get(ctx context.Context, userID string) (*models.CounterpartProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CounterpartProfile), args.Error(1)
}

func (m *MockProfileCache) Set(ctx context.Context, profile *models.CounterpartProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func newClient(t *testing.T, handler http.Handler, opts ...history.Option) *history.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := history.NewClient(history.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, opts...)
	require.NoError(t, err)
	return c
}

func TestFetchMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/u2", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(history.SessionCookie)
		if err != nil || ck.Value != "session-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[{"senderId":{"firstName":"Amy","lastName":"Lee"},"text":"hi"},{"senderId":null,"text":"ghost"}]}`))
	})
	c := newClient(t, mux)
	c.SetSessionToken("session-token")

	messages, err := c.FetchMessages(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, []models.ChatMessage{
		{SenderFirstName: "Amy", SenderLastName: "Lee", Text: "hi"},
		{Text: "ghost"},
	}, messages)
}

func TestFetchMessages_Empty(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[]}`))
	}))

	messages, err := c.FetchMessages(context.Background(), identity)
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
}

func TestFetchMessages_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{name: "unauthorized", handler: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Please login", http.StatusUnauthorized)
		}},
		{name: "garbage body", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, tt.handler)
			messages, err := c.FetchMessages(context.Background(), identity)
			assert.Nil(t, messages)
			assert.True(t, errors.Is(err, history.ErrHistoryUnavailable), "got %v", err)
		})
	}
}

func TestFetchMessages_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := history.NewClient(history.Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.FetchMessages(context.Background(), identity)
	assert.True(t, errors.Is(err, history.ErrHistoryUnavailable))
}

func TestFetchCounterpartProfile(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/u2", r.URL.Path)
		w.Write([]byte(`{"user":{"firstName":"Bo","lastName":"Ng"}}`))
	}))

	profile, err := c.FetchCounterpartProfile(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, &models.CounterpartProfile{UserID: "u2", FirstName: "Bo", LastName: "Ng"}, profile)
}

func TestFetchCounterpartProfile_Failures(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		"no user":   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{}`)) },
	} {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, handler)
			profile, err := c.FetchCounterpartProfile(context.Background(), "u2")
			assert.Nil(t, profile)
			assert.True(t, errors.Is(err, history.ErrProfileUnavailable))
		})
	}
}

func TestFetchCounterpartProfile_Cache(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"user":{"firstName":"Bo","lastName":"Ng"}}`))
	})

	t.Run("hit skips the backend", func(t *testing.T) {
		cache := new(MockProfileCache)
		cached := &models.CounterpartProfile{UserID: "u2", FirstName: "Cached", LastName: "Bo"}
		cache.On("Get", mock.Anything, "u2").Return(cached, nil)
		c := newClient(t, handler, history.WithProfileCache(cache))

		before := hits.Load()
		profile, err := c.FetchCounterpartProfile(context.Background(), "u2")
		require.NoError(t, err)
		assert.Equal(t, "Cached", profile.FirstName)
		assert.Equal(t, before, hits.Load())
		cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
	})

	t.Run("miss fetches and stores", func(t *testing.T) {
		cache := new(MockProfileCache)
		cache.On("Get", mock.Anything, "u2").Return(nil, history.ErrCacheMiss)
		cache.On("Set", mock.Anything, mock.MatchedBy(func(p *models.CounterpartProfile) bool {
			return p.UserID == "u2" && p.FirstName == "Bo"
		})).Return(nil)
		c := newClient(t, handler, history.WithProfileCache(cache))

		profile, err := c.FetchCounterpartProfile(context.Background(), "u2")
		require.NoError(t, err)
		assert.Equal(t, "Bo Ng", profile.FullName())
		cache.AssertExpectations(t)
	})

	t.Run("broken cache degrades to the backend", func(t *testing.T) {
		cache := new(MockProfileCache)
		cache.On("Get", mock.Anything, "u2").Return(nil, errors.New("connection refused"))
		cache.On("Set", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
		c := newClient(t, handler, history.WithProfileCache(cache))

		profile, err := c.FetchCounterpartProfile(context.Background(), "u2")
		require.NoError(t, err)
		assert.Equal(t, "Bo", profile.FirstName)
	})
}

func TestFetchCounterpartProfile_CollapsesConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(`{"user":{"firstName":"Bo","lastName":"Ng"}}`))
	}))

	var wg sync.WaitGroup
	profiles := make([]*models.CounterpartProfile, 5)
	for i := range profiles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.FetchCounterpartProfile(context.Background(), "u2")
			assert.NoError(t, err)
			profiles[i] = p
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, p := range profiles {
		require.NotNil(t, p)
		assert.Equal(t, "Bo", p.FirstName)
	}
	assert.NotSame(t, profiles[0], profiles[1])
}

func TestFetchCounterpartProfile_CallerCancelDoesNotEndSharedFetch(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(`{"user":{"firstName":"Bo","lastName":"Ng"}}`))
	}))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.FetchCounterpartProfile(ctxA, "u2")
		errA <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	type result struct {
		profile *models.CounterpartProfile
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		p, err := c.FetchCounterpartProfile(context.Background(), "u2")
		resB <- result{p, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.True(t, errors.Is(err, history.ErrProfileUnavailable), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Equal(t, "Bo", r.profile.FirstName)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.EmailID != "amy@example.test" || req.Password != "secret" {
			http.Error(w, "Invalid credentials", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: history.SessionCookie, Value: "jwt-from-login", Path: "/"})
		w.Write([]byte(`{"message":"Login successful","data":{"_id":"u1","firstName":"Amy","lastName":"Lee"}}`))
	})
	mux.HandleFunc("/user/connections", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(history.SessionCookie); err != nil {
			http.Error(w, "Please login", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"user":[{"_id":"u2","firstName":"Bo","lastName":"Ng"}]}`))
	})
	c := newClient(t, mux)

	_, err := c.Login(context.Background(), "amy@example.test", "wrong")
	assert.True(t, errors.Is(err, history.ErrLoginFailed))
	assert.Empty(t, c.SessionToken())

	user, err := c.Login(context.Background(), "amy@example.test", "secret")
	require.NoError(t, err)
	assert.Equal(t, &models.LocalUser{ID: "u1", FirstName: "Amy", LastName: "Lee"}, user)
	assert.Equal(t, "jwt-from-login", c.SessionToken())

	connections, err := c.FetchConnections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.CounterpartProfile{{UserID: "u2", FirstName: "Bo", LastName: "Ng"}}, connections)
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := history.NewClient(history.Config{BaseURL: "ftp://example.test"})
	assert.Error(t, err)
}
