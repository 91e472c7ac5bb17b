package transport

import "github.com/pkg/errors"

var (
	// ErrConnectFailure covers dial, handshake and join failures.
	ErrConnectFailure = errors.New("connect failure")
	// ErrSendFailure covers every reason an outbound event was not queued.
	ErrSendFailure = errors.New("send failure")

	ErrNotConnected      = errors.Wrap(ErrConnectFailure, "channel is not connected")
	ErrNotJoined         = errors.Wrap(ErrSendFailure, "channel has not joined a conversation")
	ErrSendQueueFull     = errors.Wrap(ErrSendFailure, "send queue is full")
	ErrAlreadySubscribed = errors.New("channel already has an active subscription")
)

var errServerClosed = errors.New("server closed the connection")
