// Package history is the one-shot REST side of a conversation: prior messages,
// the counterpart's profile, plus the login and connections calls a client needs
// to open a conversation at all.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"devchat/client/internal/models"
)

// SessionCookie is the cookie the backend keeps the session token in.
const SessionCookie = "token"

const maxBodySize = 4 << 20

// defaultFlightTimeout bounds a shared profile fetch when Config.Timeout is unset.
const defaultFlightTimeout = 30 * time.Second

// ProfileCache stores counterpart profiles between views.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (*models.CounterpartProfile, error)
	Set(ctx context.Context, profile *models.CounterpartProfile) error
}

// Config points the client at the backend.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithProfileCache enables profile caching.
func WithProfileCache(cache ProfileCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client talks to the backend REST API with the session's credentials.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	cache   ProfileCache
	sf      singleflight.Group
	logger  zerolog.Logger
}

// NewClient builds a client with its own cookie jar.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url %q", cfg.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("unsupported base url scheme %q", base.Scheme)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create cookie jar")
	}
	c := &Client{
		base:    base,
		http:    &http.Client{Jar: jar, Timeout: cfg.Timeout},
		timeout: cfg.Timeout,
		logger:  zerolog.Nop(),
	}
	if c.timeout <= 0 {
		c.timeout = defaultFlightTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SessionToken returns the session cookie value, or "" when not logged in.
func (c *Client) SessionToken() string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == SessionCookie {
			return ck.Value
		}
	}
	return ""
}

// SetSessionToken installs an existing session token instead of logging in.
func (c *Client) SetSessionToken(token string) {
	c.http.Jar.SetCookies(c.base, []*http.Cookie{{Name: SessionCookie, Value: token, Path: "/"}})
}

// FetchMessages returns the stored messages of the conversation, oldest first.
func (c *Client) FetchMessages(ctx context.Context, identity models.ConversationIdentity) ([]models.ChatMessage, error) {
	var resp models.HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(identity.CounterpartUserID), nil, &resp); err != nil {
		return nil, errors.Wrap(ErrHistoryUnavailable, err.Error())
	}

	messages := make([]models.ChatMessage, 0, len(resp.Messages))
	for _, rec := range resp.Messages {
		messages = append(messages, rec.ChatMessage())
	}
	return messages, nil
}

// FetchCounterpartProfile returns the counterpart's profile. Concurrent calls for
// the same user share one request.
func (c *Client) FetchCounterpartProfile(ctx context.Context, userID string) (*models.CounterpartProfile, error) {
	if c.cache != nil {
		profile, err := c.cache.Get(ctx, userID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("counterpart_id", userID).Msg("profile cache get error")
		}
	}

	flight := c.sf.DoChan(userID, func() (interface{}, error) {
		// The flight is shared, so no single caller's cancellation may end it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		var resp models.UserResponse
		if err := c.do(fctx, http.MethodGet, "/user/"+url.PathEscape(userID), nil, &resp); err != nil {
			return nil, err
		}
		if resp.User == nil {
			return nil, errors.New("response has no user")
		}
		profile := *resp.User
		profile.UserID = userID
		return &profile, nil
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return nil, errors.Wrap(ErrProfileUnavailable, ctx.Err().Error())
	}
	if res.Err != nil {
		return nil, errors.Wrap(ErrProfileUnavailable, res.Err.Error())
	}

	profile := res.Val.(*models.CounterpartProfile)
	if c.cache != nil {
		if err := c.cache.Set(ctx, profile); err != nil {
			c.logger.Warn().Err(err).Str("counterpart_id", userID).Msg("profile cache set error")
		}
	}
	// Callers sharing a flight must not share the pointer.
	out := *profile
	return &out, nil
}

// Login authenticates with email and password. The session cookie lands in the
// client's jar.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LocalUser, error) {
	var resp models.LoginResponse
	req := models.LoginRequest{EmailID: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/login", req, &resp); err != nil {
		return nil, errors.Wrap(ErrLoginFailed, err.Error())
	}
	user := resp.User()
	if user.ID == "" {
		return nil, errors.Wrap(ErrLoginFailed, "response has no user id")
	}
	return &user, nil
}

// FetchConnections lists the users the local user may chat with.
func (c *Client) FetchConnections(ctx context.Context) ([]models.CounterpartProfile, error) {
	var resp models.ConnectionsResponse
	if err := c.do(ctx, http.MethodGet, "/user/connections", nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s %s", method, path)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return errors.Wrapf(err, "read %s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}
