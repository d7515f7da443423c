package retry

import (
	"context"
	"errors"
	"time"

	"github.com/exploopio/sentinel/pkg/model"
)

// Common errors for retry queue operations.
var (
	// ErrQueueFull is returned when the queue has reached its maximum capacity.
	ErrQueueFull = errors.New("retry queue is full")

	// ErrQueueClosed is returned when operations are attempted on a closed queue.
	ErrQueueClosed = errors.New("retry queue is closed")

	// ErrItemNotFound is returned when the requested item doesn't exist.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrDuplicateItem is returned when the same delivery is already queued.
	ErrDuplicateItem = errors.New("duplicate item already in queue")

	// ErrInvalidItem is returned when the queue item is invalid.
	ErrInvalidItem = errors.New("invalid queue item")
)

// RetryQueue stores notifications awaiting redelivery.
// Implementations must be safe for concurrent use.
type RetryQueue interface {
	// Enqueue adds an item and returns its ID.
	// Returns ErrQueueFull at capacity and ErrDuplicateItem (with the existing
	// ID) when the fingerprint is already queued.
	Enqueue(ctx context.Context, item *QueueItem) (string, error)

	// Peek returns up to limit items ready for retry, oldest NextRetry first.
	Peek(ctx context.Context, limit int) ([]*QueueItem, error)

	// Get retrieves an item by ID.
	Get(ctx context.Context, id string) (*QueueItem, error)

	// Delete removes an item, typically after a successful redelivery.
	Delete(ctx context.Context, id string) error

	// MarkFailed marks an item as permanently failed.
	MarkFailed(ctx context.Context, id string, lastError string) error

	// Requeue records a failed attempt and schedules the next one.
	Requeue(ctx context.Context, id string, lastError string, nextRetry time.Time) error

	// Size returns the total number of items in the queue.
	Size(ctx context.Context) (int, error)

	// Stats returns detailed statistics about the queue.
	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup removes expired and permanently failed items and returns the
	// number removed.
	Cleanup(ctx context.Context, ttl time.Duration) (int, error)

	// List returns items matching the filter.
	List(ctx context.Context, filter ListFilter) ([]*QueueItem, error)

	// Close releases resources; later calls return ErrQueueClosed.
	Close() error
}

// ListFilter defines options for filtering queue items.
type ListFilter struct {
	// Status filters by item status. Empty means all statuses.
	Status ItemStatus

	// Channel filters by notification channel. Empty means all channels.
	Channel model.Channel

	// Limit is the maximum number of items to return. 0 means no limit.
	Limit int
}

// Redeliverer sends a queued notification again.
type Redeliverer interface {
	Redeliver(ctx context.Context, n *model.Notification) error
}

// RedelivererFunc adapts a function to Redeliverer.
type RedelivererFunc func(ctx context.Context, n *model.Notification) error

// Redeliver calls f.
func (f RedelivererFunc) Redeliver(ctx context.Context, n *model.Notification) error {
	return f(ctx, n)
}
