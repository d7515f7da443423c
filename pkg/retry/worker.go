package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/exploopio/sentinel/pkg/core"
	"github.com/exploopio/sentinel/pkg/metrics"
)

// RetryWorker processes the retry queue in the background.
// It periodically takes the items that are due and hands them back to the
// redeliverer, rescheduling failures with backoff until they are exhausted.
type RetryWorker struct {
	queue       RetryQueue
	redeliverer Redeliverer
	backoff     *BackoffConfig

	interval    time.Duration
	batchSize   int
	maxAttempts int
	ttl         time.Duration

	logger  core.Logger
	metrics metrics.Collector
	clock   core.Clock

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex

	onSuccess func(item *QueueItem, result *RetryResult)
	onExhaust func(item *QueueItem)

	stats   WorkerStats
	statsMu sync.RWMutex
}

// WorkerStats contains statistics about the retry worker.
type WorkerStats struct {
	TotalAttempts   int64         `json:"total_attempts"`
	Redelivered     int64         `json:"redelivered"`
	FailedAttempts  int64         `json:"failed_attempts"`
	ExhaustedItems  int64         `json:"exhausted_items"`
	TotalDuration   time.Duration `json:"total_duration"`
	LastProcessedAt time.Time     `json:"last_processed_at"`

	IsRunning   bool      `json:"is_running"`
	StartedAt   time.Time `json:"started_at"`
	LastCheckAt time.Time `json:"last_check_at"`
}

// RetryWorkerConfig configures the retry worker.
type RetryWorkerConfig struct {
	// Interval is how often to check the queue.
	// Default: 30 seconds
	Interval time.Duration `yaml:"interval" json:"interval"`

	// BatchSize is the maximum number of items to process per check.
	// Default: 20
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxAttempts is the maximum number of redelivery attempts per item.
	// Default: 6
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// TTL is how long to keep items before expiring them.
	// Default: 24 hours
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// Backoff configures the retry schedule.
	Backoff *BackoffConfig `yaml:"backoff" json:"backoff"`

	Logger  core.Logger       `yaml:"-" json:"-"`
	Metrics metrics.Collector `yaml:"-" json:"-"`
	Clock   core.Clock        `yaml:"-" json:"-"`
}

// DefaultRetryWorkerConfig returns a configuration with default values.
func DefaultRetryWorkerConfig() *RetryWorkerConfig {
	return &RetryWorkerConfig{
		Interval:    DefaultRetryInterval,
		BatchSize:   DefaultBatchSize,
		MaxAttempts: DefaultMaxAttempts,
		TTL:         DefaultTTL,
		Backoff:     DefaultBackoffConfig(),
	}
}

// NewRetryWorker creates a new retry worker.
func NewRetryWorker(cfg *RetryWorkerConfig, queue RetryQueue, redeliverer Redeliverer) *RetryWorker {
	if cfg == nil {
		cfg = DefaultRetryWorkerConfig()
	}

	w := &RetryWorker{
		queue:       queue,
		redeliverer: redeliverer,
		backoff:     cfg.Backoff,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		ttl:         cfg.TTL,
		logger:      core.OrNop(cfg.Logger),
		metrics:     metrics.OrNop(cfg.Metrics),
		clock:       cfg.Clock,
		stopCh:      make(chan struct{}),
	}
	if w.interval <= 0 {
		w.interval = DefaultRetryInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = DefaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = DefaultMaxAttempts
	}
	if w.ttl <= 0 {
		w.ttl = DefaultTTL
	}
	if w.backoff == nil {
		w.backoff = DefaultBackoffConfig()
	}
	if w.clock == nil {
		w.clock = core.SystemClock
	}
	return w
}

// Start starts the background retry worker.
// It returns immediately and processes the queue in a goroutine.
func (w *RetryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker is already running")
	}

	w.running = true
	w.stopCh = make(chan struct{})

	w.statsMu.Lock()
	w.stats.IsRunning = true
	w.stats.StartedAt = w.clock()
	w.statsMu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("retry worker started (interval: %v, batch: %d, max attempts: %d)",
		w.interval, w.batchSize, w.maxAttempts)
	return nil
}

// Stop stops the background retry worker gracefully.
// It waits for the current batch to complete or ctx to expire.
func (w *RetryWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("retry worker stopped")
	case <-ctx.Done():
		return fmt.Errorf("stop timed out: %w", ctx.Err())
	}

	w.statsMu.Lock()
	w.stats.IsRunning = false
	w.statsMu.Unlock()
	return nil
}

// IsRunning returns true if the worker is currently running.
func (w *RetryWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns the current worker statistics.
func (w *RetryWorker) Stats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}

// ProcessNow synchronously processes one batch.
func (w *RetryWorker) ProcessNow(ctx context.Context) error {
	return w.processBatch(ctx)
}

// OnSuccess sets a callback run after each successful redelivery.
func (w *RetryWorker) OnSuccess(fn func(item *QueueItem, result *RetryResult)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSuccess = fn
}

// OnExhaust sets a callback run when an item exhausts all retries.
func (w *RetryWorker) OnExhaust(fn func(item *QueueItem)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onExhaust = fn
}

func (w *RetryWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	if err := w.processBatch(ctx); err != nil {
		w.logger.Warn("retry batch: %v", err)
	}

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Warn("retry batch: %v", err)
			}
		case <-cleanupTicker.C:
			if removed, err := w.queue.Cleanup(ctx, w.ttl); err != nil {
				w.logger.Warn("retry cleanup: %v", err)
			} else if removed > 0 {
				w.logger.Info("retry cleanup removed %d items", removed)
			}
		}
	}
}

func (w *RetryWorker) processBatch(ctx context.Context) error {
	w.statsMu.Lock()
	w.stats.LastCheckAt = w.clock()
	w.statsMu.Unlock()

	defer w.reportDepth(ctx)

	items, err := w.queue.Peek(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to peek queue: %w", err)
	}

	w.mu.Lock()
	onSuccess, onExhaust := w.onSuccess, w.onExhaust
	w.mu.Unlock()

	for _, item := range items {
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result := w.processItem(ctx, item)
		channel := string(item.Notification.Channel)

		w.statsMu.Lock()
		w.stats.TotalAttempts++
		w.stats.TotalDuration += result.Duration
		w.statsMu.Unlock()

		if result.Success {
			if err := w.queue.Delete(ctx, item.ID); err != nil {
				w.logger.Warn("delete redelivered item %s: %v", item.ID, err)
			}
			w.statsMu.Lock()
			w.stats.Redelivered++
			w.stats.LastProcessedAt = result.Timestamp
			w.statsMu.Unlock()
			metrics.RecordDelivery(w.metrics, channel, "redelivered")
			w.logger.Debug("redelivered %s (attempt %d)", item.Notification.ID, result.Attempt)
			if onSuccess != nil {
				onSuccess(item, result)
			}
			continue
		}

		w.statsMu.Lock()
		w.stats.FailedAttempts++
		w.statsMu.Unlock()

		if result.Attempt >= item.MaxAttempts || result.Attempt >= w.maxAttempts {
			if err := w.queue.MarkFailed(ctx, item.ID, result.Error); err != nil {
				w.logger.Warn("mark item %s failed: %v", item.ID, err)
			}
			item.Attempts = result.Attempt
			item.LastError = result.Error
			item.Status = ItemStatusFailed

			w.statsMu.Lock()
			w.stats.ExhaustedItems++
			w.statsMu.Unlock()
			metrics.RecordDelivery(w.metrics, channel, "exhausted")
			w.logger.Warn("notification %s exhausted %d attempts: %s", item.Notification.ID, result.Attempt, result.Error)
			if onExhaust != nil {
				onExhaust(item)
			}
			continue
		}

		next := w.backoff.NextRetryFrom(result.Timestamp, result.Attempt)
		if err := w.queue.Requeue(ctx, item.ID, result.Error, next); err != nil {
			w.logger.Warn("requeue item %s: %v", item.ID, err)
		}
		metrics.RecordDelivery(w.metrics, channel, "retry_scheduled")
	}
	return nil
}

func (w *RetryWorker) processItem(ctx context.Context, item *QueueItem) *RetryResult {
	start := w.clock()
	result := &RetryResult{
		ItemID:    item.ID,
		Attempt:   item.Attempts + 1,
		Timestamp: start,
	}

	err := w.redeliverer.Redeliver(ctx, item.Notification)
	result.Duration = w.clock().Sub(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

func (w *RetryWorker) reportDepth(ctx context.Context) {
	if size, err := w.queue.Size(ctx); err == nil {
		w.metrics.GaugeSet(metrics.RetryQueueDepth.Name, float64(size))
	}
}

// TriggerCleanup manually removes expired and failed items.
func (w *RetryWorker) TriggerCleanup(ctx context.Context) (int, error) {
	return w.queue.Cleanup(ctx, w.ttl)
}

// QueueStats returns the current queue statistics.
func (w *RetryWorker) QueueStats(ctx context.Context) (*QueueStats, error) {
	return w.queue.Stats(ctx)
}
