// Package app assembles a logged-in client from configuration. Both the bridge
// server and the terminal client start from an App.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"devchat/client/internal/auth"
	"devchat/client/internal/config"
	"devchat/client/internal/history"
	"devchat/client/internal/logging"
	"devchat/client/internal/metrics"
	"devchat/client/internal/models"
	"devchat/client/internal/session"
	"devchat/client/internal/storage"
	"devchat/client/internal/transport"
)

// ErrNoCredentials means neither a session token nor email and password are configured.
var ErrNoCredentials = errors.New("no backend credentials configured")

// App holds the collaborators shared by every view of one logged-in user.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Client  *history.Client
	Local   models.LocalUser
	Metrics *metrics.Metrics
	// Store is nil when no database is configured.
	Store   *storage.Service
	Factory *session.Factory

	closers []func() error
}

// New connects the optional stores, authenticates with the backend and prepares
// the view factory.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	opts := []history.Option{history.WithLogger(logging.Component(logger, "history"))}
	if cfg.Redis.Address != "" {
		rdb, err := storage.DialRedis(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		cache := storage.NewRedisProfileCache(rdb, cfg.Redis.Prefix, cfg.Redis.ProfileTTL)
		opts = append(opts, history.WithProfileCache(cache))
	}

	client, err := history.NewClient(history.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.RequestTimeout,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Client = client

	local, err := a.authenticate(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Local = *local
	logger.Info().Str(logging.FieldUserID, local.ID).Msg("authenticated with backend")

	if cfg.Database.DSN != "" {
		db, err := storage.Connect(cfg.Database.DSN, logging.Component(logger, "storage"))
		if err != nil {
			a.Close()
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		a.Store = storage.NewStorageService(db)
	}

	deps := session.Deps{
		Loader:  client,
		Metrics: a.Metrics,
		Logger:  logging.Component(logger, "session"),
		Options: session.Options{
			OutboxSize:   cfg.Session.OutboxSize,
			RejoinOnDrop: cfg.Session.RejoinOnDrop,
		},
	}
	if a.Store != nil {
		deps.Journal = a.Store
	}
	a.Factory = &session.Factory{Local: a.Local, NewChannel: a.NewChannel, Deps: deps}
	return a, nil
}

func (a *App) authenticate(ctx context.Context) (*models.LocalUser, error) {
	b := a.Config.Backend
	switch {
	case b.Token != "":
		claims, err := auth.DecodeSession(b.Token, time.Now())
		if err != nil {
			return nil, errors.Wrap(err, "configured session token")
		}
		a.Client.SetSessionToken(b.Token)
		// The backend has no "me" endpoint; the public profile carries the names.
		profile, err := a.Client.FetchCounterpartProfile(ctx, claims.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "load own profile")
		}
		return &models.LocalUser{ID: claims.UserID, FirstName: profile.FirstName, LastName: profile.LastName}, nil
	case b.Email != "" && b.Password != "":
		return a.Client.Login(ctx, b.Email, b.Password)
	default:
		return nil, ErrNoCredentials
	}
}

// NewChannel creates a disconnected realtime channel carrying the current
// session cookie.
func (a *App) NewChannel() (session.Channel, error) {
	t := a.Config.Transport
	header := http.Header{}
	if token := a.Client.SessionToken(); token != "" {
		header.Set("Cookie", (&http.Cookie{Name: history.SessionCookie, Value: token}).String())
	}
	ch, err := transport.New(transport.Config{
		URL:             a.Config.Backend.SocketURL,
		Header:          header,
		ConnectTimeout:  t.ConnectTimeout,
		MaxElapsed:      t.MaxElapsed,
		InitialInterval: t.InitialInterval,
		WriteWait:       t.WriteWait,
		PongWait:        t.PongWait,
		MaxMessageSize:  t.MaxMessageSize,
		SendBuffer:      t.SendBuffer,
	}, nil, logging.Component(a.Logger, "transport"))
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Close releases the stores. It is safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn().Err(err).Msg("error closing store")
		}
	}
	a.closers = nil
}
