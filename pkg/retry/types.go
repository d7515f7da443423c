// Package retry redelivers notifications whose channel send failed.
//
// Delivery failures are stored in a durable queue and retried in the
// background with backoff. The alert dispatcher never retries itself; a
// queued sender (see pkg/delivery) puts failures here and the worker hands
// them back to the channel sender.
//
// Example usage:
//
//	queue, _ := retry.NewFileRetryQueue(&retry.FileQueueConfig{
//	    Dir: "/var/lib/sentinel/retry-queue",
//	})
//
//	worker := retry.NewRetryWorker(&retry.RetryWorkerConfig{
//	    Interval: 30 * time.Second,
//	}, queue, redeliverer)
//
//	worker.Start(ctx)
//	defer worker.Stop(ctx)
package retry

import (
	"time"

	"github.com/exploopio/sentinel/pkg/model"
)

// ItemStatus represents the status of a queue item.
type ItemStatus string

const (
	// ItemStatusPending indicates the item is waiting for retry.
	ItemStatusPending ItemStatus = "pending"

	// ItemStatusProcessing indicates the item is currently being processed.
	ItemStatusProcessing ItemStatus = "processing"

	// ItemStatusFailed indicates the item has exhausted all retry attempts.
	ItemStatusFailed ItemStatus = "failed"
)

// QueueItem is one notification awaiting redelivery.
type QueueItem struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"` // (finding, recipient, channel) key
	Status      ItemStatus `json:"status"`

	Notification *model.Notification `json:"notification"`

	// Retry tracking
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt"`
	NextRetry   time.Time `json:"next_retry"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired checks if the item is older than ttl at now.
func (item *QueueItem) IsExpired(ttl time.Duration, now time.Time) bool {
	return now.Sub(item.CreatedAt) > ttl
}

// IsReadyForRetry checks if the item is pending and due at now.
func (item *QueueItem) IsReadyForRetry(now time.Time) bool {
	return item.Status == ItemStatusPending && !now.Before(item.NextRetry)
}

// HasExhaustedRetries checks if the item has used all retry attempts.
func (item *QueueItem) HasExhaustedRetries() bool {
	return item.Attempts >= item.MaxAttempts
}

// clone returns a deep enough copy that callers cannot mutate queue state.
func (item *QueueItem) clone() *QueueItem {
	c := *item
	if item.Notification != nil {
		n := *item.Notification
		c.Notification = &n
	}
	return &c
}

// QueueStats provides statistics about the retry queue.
type QueueStats struct {
	TotalItems      int       `json:"total_items"`
	PendingItems    int       `json:"pending_items"`
	ProcessingItems int       `json:"processing_items"`
	FailedItems     int       `json:"failed_items"`
	OldestItem      time.Time `json:"oldest_item"`
	NewestItem      time.Time `json:"newest_item"`
}

// RetryResult represents the result of one redelivery attempt.
type RetryResult struct {
	ItemID    string        `json:"item_id"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Attempt   int           `json:"attempt"`
	Timestamp time.Time     `json:"timestamp"`
}

// DefaultMaxAttempts is the default maximum number of redelivery attempts.
const DefaultMaxAttempts = 6

// DefaultTTL is the default time-to-live for queue items.
const DefaultTTL = 24 * time.Hour

// DefaultRetryInterval is the default interval between queue checks and the
// base backoff interval.
const DefaultRetryInterval = 30 * time.Second

// DefaultBatchSize is the default number of items to process per batch.
const DefaultBatchSize = 20

// DefaultMaxQueueSize is the default maximum number of items in the queue.
const DefaultMaxQueueSize = 1000
