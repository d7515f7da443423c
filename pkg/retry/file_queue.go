package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/exploopio/sentinel/pkg/compress"
	"github.com/exploopio/sentinel/pkg/core"
	"github.com/exploopio/sentinel/pkg/shared/fingerprint"
)

const itemFileExt = ".item"

// FileRetryQueue implements RetryQueue with one file per item in a directory.
// Items are indexed in memory and written through on every change, so a
// restarted daemon picks up undelivered notifications. Item files larger than
// the compression threshold are stored zstd-compressed.
type FileRetryQueue struct {
	dir           string
	maxSize       int
	deduplication bool
	threshold     int
	logger        core.Logger
	clock         core.Clock

	mu     sync.RWMutex
	closed bool
	items  map[string]*QueueItem
	byKey  map[string]string // fingerprint -> item ID
}

// FileQueueConfig configures the file-based retry queue.
type FileQueueConfig struct {
	// Dir is the directory to store queue files (required).
	Dir string

	// MaxSize is the maximum number of items in the queue.
	// Default: 1000
	MaxSize int

	// Deduplication rejects a second item for the same
	// (finding, recipient, channel) while the first is queued.
	Deduplication bool

	// CompressThreshold is the encoded size above which item files are
	// compressed. Default: compress.DefaultThreshold.
	CompressThreshold int

	Logger core.Logger
	Clock  core.Clock
}

// NewFileRetryQueue opens (or creates) a queue directory and loads its items.
// Unreadable item files are skipped with a warning.
func NewFileRetryQueue(cfg *FileQueueConfig) (*FileRetryQueue, error) {
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("retry queue directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	fq := &FileRetryQueue{
		dir:           cfg.Dir,
		maxSize:       cfg.MaxSize,
		deduplication: cfg.Deduplication,
		threshold:     cfg.CompressThreshold,
		logger:        core.OrNop(cfg.Logger),
		clock:         cfg.Clock,
		items:         make(map[string]*QueueItem),
		byKey:         make(map[string]string),
	}
	if fq.maxSize <= 0 {
		fq.maxSize = DefaultMaxQueueSize
	}
	if fq.threshold <= 0 {
		fq.threshold = compress.DefaultThreshold
	}
	if fq.clock == nil {
		fq.clock = core.SystemClock
	}

	if err := fq.load(); err != nil {
		return nil, err
	}
	return fq, nil
}

func (fq *FileRetryQueue) load() error {
	entries, err := os.ReadDir(fq.dir)
	if err != nil {
		return fmt.Errorf("failed to read queue directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), itemFileExt) {
			continue
		}
		item, err := fq.readFile(filepath.Join(fq.dir, e.Name()))
		if err != nil {
			fq.logger.Warn("skipping unreadable queue file %s: %v", e.Name(), err)
			continue
		}
		fq.items[item.ID] = item
		if item.Fingerprint != "" && item.Status != ItemStatusFailed {
			fq.byKey[item.Fingerprint] = item.ID
		}
	}
	if len(fq.items) > 0 {
		fq.logger.Info("loaded %d queued deliveries from %s", len(fq.items), fq.dir)
	}
	return nil
}

// Enqueue adds an item to the queue.
func (fq *FileRetryQueue) Enqueue(_ context.Context, item *QueueItem) (string, error) {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return "", ErrQueueClosed
	}
	if item == nil || item.Notification == nil {
		return "", ErrInvalidItem
	}
	if len(fq.items) >= fq.maxSize {
		return "", ErrQueueFull
	}

	if item.Fingerprint == "" {
		n := item.Notification
		item.Fingerprint = fingerprint.NotificationKey(n.FindingID, n.RecipientID, string(n.Channel))
	}
	if fq.deduplication {
		if existing, ok := fq.byKey[item.Fingerprint]; ok {
			return existing, ErrDuplicateItem
		}
	}

	now := fq.clock()
	if item.ID == "" {
		item.ID = core.NewID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = ItemStatusPending
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = DefaultMaxAttempts
	}
	if item.NextRetry.IsZero() {
		item.NextRetry = now
	}

	stored := item.clone()
	if err := fq.writeFile(stored); err != nil {
		return "", err
	}
	fq.items[stored.ID] = stored
	fq.byKey[stored.Fingerprint] = stored.ID
	return stored.ID, nil
}

// Peek returns items ready for retry, oldest NextRetry first.
func (fq *FileRetryQueue) Peek(_ context.Context, limit int) ([]*QueueItem, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return nil, ErrQueueClosed
	}
	now := fq.clock()
	var ready []*QueueItem
	for _, item := range fq.items {
		if item.IsReadyForRetry(now) {
			ready = append(ready, item.clone())
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].NextRetry.Equal(ready[j].NextRetry) {
			return ready[i].NextRetry.Before(ready[j].NextRetry)
		}
		return ready[i].ID < ready[j].ID
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

// Get retrieves an item by ID.
func (fq *FileRetryQueue) Get(_ context.Context, id string) (*QueueItem, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return nil, ErrQueueClosed
	}
	item, ok := fq.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return item.clone(), nil
}

// Delete removes an item.
func (fq *FileRetryQueue) Delete(_ context.Context, id string) error {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return ErrQueueClosed
	}
	return fq.deleteLocked(id)
}

// MarkFailed marks an item as permanently failed. Its fingerprint is released
// so the same delivery can be queued again by a later pass.
func (fq *FileRetryQueue) MarkFailed(_ context.Context, id string, lastError string) error {
	return fq.update(id, func(item *QueueItem) {
		item.Status = ItemStatusFailed
		item.LastError = lastError
		if fq.byKey[item.Fingerprint] == item.ID {
			delete(fq.byKey, item.Fingerprint)
		}
	})
}

// Requeue records a failed attempt and schedules the next one.
func (fq *FileRetryQueue) Requeue(_ context.Context, id string, lastError string, nextRetry time.Time) error {
	return fq.update(id, func(item *QueueItem) {
		item.Status = ItemStatusPending
		item.Attempts++
		item.LastError = lastError
		item.LastAttempt = fq.clock()
		item.NextRetry = nextRetry
	})
}

func (fq *FileRetryQueue) update(id string, fn func(*QueueItem)) error {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return ErrQueueClosed
	}
	item, ok := fq.items[id]
	if !ok {
		return ErrItemNotFound
	}
	next := item.clone()
	fn(next)
	next.UpdatedAt = fq.clock()
	if err := fq.writeFile(next); err != nil {
		return err
	}
	fq.items[id] = next
	return nil
}

// Size returns the total number of items in the queue.
func (fq *FileRetryQueue) Size(_ context.Context) (int, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return 0, ErrQueueClosed
	}
	return len(fq.items), nil
}

// Stats returns detailed statistics about the queue.
func (fq *FileRetryQueue) Stats(_ context.Context) (*QueueStats, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return nil, ErrQueueClosed
	}
	stats := &QueueStats{TotalItems: len(fq.items)}
	for _, item := range fq.items {
		switch item.Status {
		case ItemStatusPending:
			stats.PendingItems++
		case ItemStatusProcessing:
			stats.ProcessingItems++
		case ItemStatusFailed:
			stats.FailedItems++
		}
		if stats.OldestItem.IsZero() || item.CreatedAt.Before(stats.OldestItem) {
			stats.OldestItem = item.CreatedAt
		}
		if item.CreatedAt.After(stats.NewestItem) {
			stats.NewestItem = item.CreatedAt
		}
	}
	return stats, nil
}

// Cleanup removes expired items and permanently failed items.
func (fq *FileRetryQueue) Cleanup(_ context.Context, ttl time.Duration) (int, error) {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return 0, ErrQueueClosed
	}
	now := fq.clock()
	removed := 0
	for id, item := range fq.items {
		if item.Status == ItemStatusFailed || item.IsExpired(ttl, now) {
			if err := fq.deleteLocked(id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// List returns items matching the filter, oldest first.
func (fq *FileRetryQueue) List(_ context.Context, filter ListFilter) ([]*QueueItem, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return nil, ErrQueueClosed
	}
	var out []*QueueItem
	for _, item := range fq.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && item.Notification.Channel != filter.Channel {
			continue
		}
		out = append(out, item.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close closes the queue.
func (fq *FileRetryQueue) Close() error {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.closed = true
	return nil
}

// Dir returns the queue directory.
func (fq *FileRetryQueue) Dir() string {
	return fq.dir
}

func (fq *FileRetryQueue) deleteLocked(id string) error {
	item, ok := fq.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if err := os.Remove(fq.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete queue file: %w", err)
	}
	delete(fq.items, id)
	if fq.byKey[item.Fingerprint] == id {
		delete(fq.byKey, item.Fingerprint)
	}
	return nil
}

func (fq *FileRetryQueue) path(id string) string {
	return filepath.Join(fq.dir, id+itemFileExt)
}

func (fq *FileRetryQueue) readFile(path string) (*QueueItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := compress.Unpack(raw)
	if err != nil {
		return nil, err
	}
	var item QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	if item.ID == "" || item.Notification == nil {
		return nil, ErrInvalidItem
	}
	return &item, nil
}

// writeFile replaces the item file atomically.
func (fq *FileRetryQueue) writeFile(item *QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode queue item: %w", err)
	}
	data, err = compress.Pack(data, fq.threshold)
	if err != nil {
		return fmt.Errorf("failed to compress queue item: %w", err)
	}

	tmp := fq.path(item.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	if err := os.Rename(tmp, fq.path(item.ID)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	return nil
}

var _ RetryQueue = (*FileRetryQueue)(nil)
