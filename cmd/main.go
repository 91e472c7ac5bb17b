package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"devchat/client/internal/api/handler"
	"devchat/client/internal/app"
	"devchat/client/internal/auth"
	"devchat/client/internal/config"
	"devchat/client/internal/localization"
	"devchat/client/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "directory holding config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Log, os.Stderr)
	logger := logging.L()
	logger.Info().Msg("starting devchat bridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	secret := cfg.Server.BridgeSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn().Msg("server.bridge_secret not set, bridge tokens will not survive a restart")
	}
	issuer, err := auth.NewIssuer(secret, cfg.Server.TokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token issuer")
	}
	token, expires, err := issuer.Issue(a.Local.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to issue bridge token")
	}
	logger.Info().Time("expires_at", expires).Msg("bridge token issued")
	fmt.Fprintf(os.Stdout, "BRIDGE_TOKEN=%s\n", token)

	h := &handler.Handler{
		Local:        a.Local,
		SessionToken: a.Client.SessionToken,
		Views:        handler.FactoryOpener(a.Factory),
		Directory:    a.Client,
		Issuer:       issuer,
		Metrics:      a.Metrics.Handler(),
		Labels:       localization.Default().For(cfg.Locale),
		Logger:       logging.Component(logger, "bridge"),
	}
	if a.Store != nil {
		h.Sessions = a.Store
	}

	// Views are long-lived websockets, so no read or write timeout.
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("bridge listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("bridge stopped with error")
		return
	}
	logger.Info().Msg("bridge stopped")
}
