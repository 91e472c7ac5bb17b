package session

import (
	"context"

	"github.com/pkg/errors"

	"devchat/client/internal/models"
)

// Factory opens views for one logged-in user. Every view gets its own channel;
// Deps.Channel is ignored.
type Factory struct {
	Local      models.LocalUser
	NewChannel func() (Channel, error)
	Deps       Deps
}

// Open starts a view of the conversation with counterpartID.
func (f *Factory) Open(ctx context.Context, counterpartID string) (*Controller, error) {
	identity, err := models.NewConversationIdentity(f.Local.ID, counterpartID)
	if err != nil {
		return nil, err
	}
	ch, err := f.NewChannel()
	if err != nil {
		return nil, errors.Wrap(err, "create channel")
	}

	deps := f.Deps
	deps.Channel = ch
	c, err := Open(ctx, deps, identity, f.Local)
	if err != nil {
		ch.Disconnect()
		return nil, err
	}
	return c, nil
}
