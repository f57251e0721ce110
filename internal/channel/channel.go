package channel

import "context"

const (
	SMS   = "sms"
	Email = "email"
	Push  = "push"
)

// Sender delivers one message over one medium and returns the provider's
// opaque message id.
type Sender interface {
	Send(ctx context.Context, recipient, message, priority string) (string, error)
}

// Registry maps channel names to their senders.
type Registry map[string]Sender
