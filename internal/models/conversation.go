package models

import "github.com/pkg/errors"

// ErrInvalidIdentity is returned when a conversation cannot be keyed.
var ErrInvalidIdentity = errors.New("invalid conversation identity")

// ConversationIdentity identifies a 1:1 conversation from the local user's side.
// It is constructed when a conversation view opens and is never mutated.
type ConversationIdentity struct {
	// LocalUserID is the backend id (`_id`) of the logged-in user.
	LocalUserID string
	// CounterpartUserID is the backend id of the other participant.
	CounterpartUserID string
}

// NewConversationIdentity builds and validates an identity.
func NewConversationIdentity(localUserID, counterpartUserID string) (ConversationIdentity, error) {
	id := ConversationIdentity{LocalUserID: localUserID, CounterpartUserID: counterpartUserID}
	if err := id.Validate(); err != nil {
		return ConversationIdentity{}, err
	}
	return id, nil
}

// Validate rejects empty ids and conversations with oneself.
func (c ConversationIdentity) Validate() error {
	if c.LocalUserID == "" {
		return errors.Wrap(ErrInvalidIdentity, "local user id is empty")
	}
	if c.CounterpartUserID == "" {
		return errors.Wrap(ErrInvalidIdentity, "counterpart user id is empty")
	}
	if c.LocalUserID == c.CounterpartUserID {
		return errors.Wrap(ErrInvalidIdentity, "counterpart is the local user")
	}
	return nil
}

// Room returns the room key used by the channel. The backend derives the actual
// room from the (userId, targetUserId) pair, so the key is only used client side
// for logging and journaling.
func (c ConversationIdentity) Room() string {
	return c.LocalUserID + ":" + c.CounterpartUserID
}
