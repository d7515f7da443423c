package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/exploopio/sentinel/pkg/core"
	serrors "github.com/exploopio/sentinel/pkg/errors"
)

// Passer runs a single pass. *Analyzer implements it.
type Passer interface {
	Analyze(ctx context.Context, req Request) (*Report, error)
}

// Persister resumes saving a pass that failed with a *PersistError.
// *Analyzer implements it.
type Persister interface {
	Persist(ctx context.Context, rep *Report) error
}

// QueueConfig configures the async pass queue.
type QueueConfig struct {
	// QueueSize is the maximum number of pending requests.
	// Default: 1000
	QueueSize int

	// Workers is the number of passes running at once.
	// Default: 3
	Workers int

	// RetryAttempts is how many more times the results of a pass that
	// failed on storage are saved again. The pass itself is never re-run,
	// and other failures are final.
	// Default: 2
	RetryAttempts int

	// RetryDelay is the base delay between retries (doubled per attempt).
	// Default: 2 seconds
	RetryDelay time.Duration

	// PassTimeout bounds each pass attempt.
	// Default: 2 minutes
	PassTimeout time.Duration

	// OnCompleted is called with every finished pass.
	OnCompleted func(item *QueueItem, rep *Report)

	// OnFailed is called when a pass fails for good.
	OnFailed func(item *QueueItem, err error)

	Logger core.Logger
	NewID  core.IDGenerator
	Clock  core.Clock
}

// DefaultQueueConfig returns sensible defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		QueueSize:     1000,
		Workers:       3,
		RetryAttempts: 2,
		RetryDelay:    2 * time.Second,
		PassTimeout:   2 * time.Minute,
	}
}

// QueueItem is a pending pass.
type QueueItem struct {
	ID          string    `json:"id"`
	Request     Request   `json:"-"`
	SubmittedAt time.Time `json:"submitted_at"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
}

// Queue runs passes in the background so a caller can submit a batch of
// units without waiting on the classifier for each one.
type Queue struct {
	config *QueueConfig
	passer Passer
	logger core.Logger

	queue chan *QueueItem

	mu      sync.RWMutex
	running bool
	runCtx  context.Context
	stopCh  chan struct{}
	wg      sync.WaitGroup

	submitted  int64
	completed  int64
	failed     int64
	inProgress int32
	pending    int64
}

// NewQueue creates a pass queue over passer.
func NewQueue(config *QueueConfig, passer Passer) *Queue {
	if config == nil {
		config = DefaultQueueConfig()
	}
	defaults := DefaultQueueConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.PassTimeout <= 0 {
		config.PassTimeout = defaults.PassTimeout
	}
	if config.NewID == nil {
		config.NewID = core.NewID
	}
	if config.Clock == nil {
		config.Clock = core.SystemClock
	}

	return &Queue{
		config: config,
		passer: passer,
		logger: core.OrNop(config.Logger),
		queue:  make(chan *QueueItem, config.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start begins the workers.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.runCtx = ctx
	q.stopCh = make(chan struct{})
	q.mu.Unlock()

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info("pass queue started with %d workers, queue size %d", q.config.Workers, q.config.QueueSize)
}

// Stop drains queued passes and waits for the workers, or for ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("pass queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues a pass and returns its item ID without waiting for it.
func (q *Queue) Submit(req Request) (string, error) {
	const op = "pipeline.Queue.Submit"

	q.mu.RLock()
	running, runCtx := q.running, q.runCtx
	q.mu.RUnlock()
	if !running {
		return "", serrors.E(serrors.KindInternal, op, "queue not running")
	}
	if err := runCtx.Err(); err != nil {
		return "", serrors.E(serrors.KindCanceled, op, err)
	}
	if req.Unit == nil {
		return "", serrors.E(serrors.KindInvalidInput, op, "unit is required")
	}

	item := &QueueItem{
		ID:          q.config.NewID(),
		Request:     req,
		SubmittedAt: q.config.Clock(),
	}

	atomic.AddInt64(&q.pending, 1)
	select {
	case q.queue <- item:
		atomic.AddInt64(&q.submitted, 1)
		q.logger.Debug("queued pass %s for %s %s", item.ID, req.Unit.Kind(), req.Unit.SourceID())
		return item.ID, nil
	default:
		atomic.AddInt64(&q.pending, -1)
		return "", serrors.E(serrors.KindInternal, op, fmt.Sprintf("queue full (size=%d)", q.config.QueueSize))
	}
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Submitted   int64 `json:"submitted"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	InProgress  int   `json:"in_progress"`
	QueueLength int   `json:"queue_length"`
}

// Stats returns current queue statistics.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Submitted:   atomic.LoadInt64(&q.submitted),
		Completed:   atomic.LoadInt64(&q.completed),
		Failed:      atomic.LoadInt64(&q.failed),
		InProgress:  int(atomic.LoadInt32(&q.inProgress)),
		QueueLength: len(q.queue),
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.abandon(ctx.Err())
			return
		case <-q.stopCh:
			for {
				select {
				case item := <-q.queue:
					q.process(ctx, item)
				default:
					return
				}
			}
		case item := <-q.queue:
			q.process(ctx, item)
		}
	}
}

func (q *Queue) process(ctx context.Context, item *QueueItem) {
	atomic.AddInt32(&q.inProgress, 1)
	defer func() {
		atomic.AddInt32(&q.inProgress, -1)
		atomic.AddInt64(&q.pending, -1)
	}()

	item.Attempts = 1
	passCtx, cancel := context.WithTimeout(ctx, q.config.PassTimeout)
	rep, err := q.passer.Analyze(passCtx, item.Request)
	cancel()

	var pe *PersistError
	if errors.As(err, &pe) {
		rep, err = pe.Report, q.resumePersist(ctx, item, pe)
	}
	if err != nil {
		item.LastError = err.Error()
		q.fail(item, err)
		return
	}

	atomic.AddInt64(&q.completed, 1)
	if q.config.OnCompleted != nil {
		q.config.OnCompleted(item, rep)
	}
}

// resumePersist retries saving a pass whose notifications already went out.
func (q *Queue) resumePersist(ctx context.Context, item *QueueItem, pe *PersistError) error {
	p, ok := q.passer.(Persister)
	if !ok || serrors.GetKind(pe) != serrors.KindStorage {
		return pe
	}

	var err error = pe
	for attempt := 1; attempt <= q.config.RetryAttempts; attempt++ {
		q.logger.Warn("pass %s failed on storage (attempt %d/%d): %v", item.ID, attempt, q.config.RetryAttempts+1, err)

		shift := min(attempt-1, 30)
		backoff := q.config.RetryDelay * time.Duration(1<<shift) //nolint:gosec // shift is capped
		select {
		case <-ctx.Done():
			return serrors.E(serrors.KindCanceled, "pipeline.Queue", ctx.Err())
		case <-time.After(backoff):
		}

		item.Attempts = attempt + 1
		persistCtx, cancel := context.WithTimeout(ctx, q.config.PassTimeout)
		err = p.Persist(persistCtx, pe.Report)
		cancel()
		if err == nil || serrors.GetKind(err) != serrors.KindStorage {
			return err
		}
	}
	return err
}

func (q *Queue) fail(item *QueueItem, err error) {
	atomic.AddInt64(&q.failed, 1)
	q.logger.Error("pass %s failed after %d attempts: %v", item.ID, item.Attempts, err)
	if q.config.OnFailed != nil {
		q.config.OnFailed(item, err)
	}
}

// abandon fails every item still queued once the workers' context is done.
func (q *Queue) abandon(cause error) {
	for {
		select {
		case item := <-q.queue:
			item.LastError = cause.Error()
			q.fail(item, serrors.E(serrors.KindCanceled, "pipeline.Queue", cause))
			atomic.AddInt64(&q.pending, -1)
		default:
			return
		}
	}
}

// Flush blocks until the queue is empty and no pass is running. It returns
// a Canceled error once the context the queue was started with is done.
func (q *Queue) Flush(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var runDone <-chan struct{}
	q.mu.RLock()
	if q.runCtx != nil {
		runDone = q.runCtx.Done()
	}
	q.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-runDone:
			if atomic.LoadInt64(&q.pending) == 0 {
				return nil
			}
			return serrors.E(serrors.KindCanceled, "pipeline.Queue.Flush", "queue context done")
		case <-ticker.C:
			if atomic.LoadInt64(&q.pending) == 0 {
				return nil
			}
		}
	}
}

var (
	_ Passer    = (*Analyzer)(nil)
	_ Persister = (*Analyzer)(nil)
)
