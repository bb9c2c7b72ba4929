package interfaces

import (
	"context"

	"anonchat/pkg/types"
)

// Transport delivers envelopes to users. Implementations must be safe
// for concurrent use; failures are returned, never panicked.
type Transport interface {
	Send(ctx context.Context, user int64, envelope *types.Envelope) error
}

// Notifier queues best-effort envelopes. It never blocks the caller and
// never reports delivery failures back to it.
type Notifier interface {
	Notify(user int64, envelope *types.Envelope)
}
