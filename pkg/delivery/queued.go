package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/exploopio/sentinel/pkg/alert"
	"github.com/exploopio/sentinel/pkg/core"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/retry"
)

// Queued puts failed sends onto a retry queue for background redelivery.
// The send still reports failure to the dispatcher, so the pass carries a
// DeliveryFailure warning either way.
type Queued struct {
	next   alert.Sender
	queue  retry.RetryQueue
	logger core.Logger
}

// NewQueued wraps next so its failures are queued on q.
func NewQueued(next alert.Sender, q retry.RetryQueue, logger core.Logger) *Queued {
	return &Queued{next: next, queue: q, logger: core.OrNop(logger)}
}

// Channel returns the wrapped sender's channel.
func (q *Queued) Channel() model.Channel { return q.next.Channel() }

// Send forwards to the wrapped sender and queues the notification on failure.
func (q *Queued) Send(ctx context.Context, n *model.Notification) error {
	sendErr := q.next.Send(ctx, n)
	if sendErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return sendErr
	}

	id, err := q.queue.Enqueue(ctx, &retry.QueueItem{Notification: n, LastError: sendErr.Error()})
	switch {
	case errors.Is(err, retry.ErrDuplicateItem):
		return fmt.Errorf("%w (already queued as %s)", sendErr, id)
	case err != nil:
		q.logger.Error("queue notification %s for retry: %v", n.ID, err)
		return fmt.Errorf("%w (not queued: %v)", sendErr, err)
	}
	q.logger.Debug("notification %s queued for retry as %s", n.ID, id)
	return fmt.Errorf("%w (queued for retry as %s)", sendErr, id)
}

// Unwrap returns the wrapped sender.
func (q *Queued) Unwrap() alert.Sender { return q.next }

var _ alert.Sender = (*Queued)(nil)
