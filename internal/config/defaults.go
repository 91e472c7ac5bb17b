package config

import "time"

const (
	// Backend
	DefaultBaseURL        = "http://localhost:7777"
	DefaultRequestTimeout = 10 * time.Second

	// Transport
	DefaultConnectTimeout  = 10 * time.Second
	DefaultMaxElapsed      = 30 * time.Second
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultWriteWait       = 10 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultMaxMessageSize  = 64 * 1024
	DefaultSendBuffer      = 64

	// Session
	DefaultOutboxSize = 32

	// Profile cache
	DefaultProfileTTL    = 10 * time.Minute
	DefaultProfilePrefix = "chat:profile"

	// Bridge
	DefaultServerPort     = 8090
	DefaultBridgeTokenTTL = 12 * time.Hour
)
