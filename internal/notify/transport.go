package notify

import (
	"context"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/roster"
)

// Transport delivers messages over one external channel.
// Implementations must honor ctx cancellation; the dispatcher bounds every
// Send with the configured channel timeout.
type Transport interface {
	Channel() database.Channel
	// Address returns where to reach c on this channel, or "" if c has no
	// address for it
	Address(c *roster.Contact) string
	Send(ctx context.Context, to string, msg *Message) error
}
