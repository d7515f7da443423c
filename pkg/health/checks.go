package health

import (
	"context"
	"fmt"
	"runtime"

	"github.com/exploopio/sentinel/pkg/retry"
)

// Pinger is satisfied by the result store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck checks that the result store answers.
type StoreCheck struct {
	Store Pinger
}

func (c *StoreCheck) Name() string { return "store" }
func (c *StoreCheck) Check(ctx context.Context) CheckResult {
	if c.Store == nil {
		return CheckResult{Status: StatusUnknown, Message: "no store configured"}
	}
	if err := c.Store.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

// ClassifierCheck reports whether prompt-based detection is available.
// Without a classifier only rule detectors run, so the service is degraded
// rather than down.
type ClassifierCheck struct {
	// Backend describes the configured classifier; empty means none.
	Backend string
}

func (c *ClassifierCheck) Name() string { return "classifier" }
func (c *ClassifierCheck) Check(ctx context.Context) CheckResult {
	if c.Backend == "" {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "no classifier configured; prompt detectors disabled",
		}
	}
	return CheckResult{
		Status:   StatusHealthy,
		Message:  "classifier configured",
		Metadata: map[string]any{"backend": c.Backend},
	}
}

// RetryQueueCheck watches the redelivery backlog.
type RetryQueueCheck struct {
	Queue retry.RetryQueue

	// MaxPending marks the check degraded above this many pending items.
	// Zero disables the threshold.
	MaxPending int
}

func (c *RetryQueueCheck) Name() string { return "retry_queue" }
func (c *RetryQueueCheck) Check(ctx context.Context) CheckResult {
	if c.Queue == nil {
		return CheckResult{Status: StatusUnknown, Message: "redelivery disabled"}
	}
	stats, err := c.Queue.Stats(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	result := CheckResult{
		Metadata: map[string]any{
			"total":   stats.TotalItems,
			"pending": stats.PendingItems,
			"failed":  stats.FailedItems,
		},
	}
	if c.MaxPending > 0 && stats.PendingItems > c.MaxPending {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d notifications awaiting redelivery (threshold %d)", stats.PendingItems, c.MaxPending)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("%d notifications awaiting redelivery", stats.PendingItems)
	return result
}

// MemoryCheck checks Go runtime memory usage.
type MemoryCheck struct {
	// MaxHeapBytes is the heap size above which the check fails.
	MaxHeapBytes uint64
}

func (c *MemoryCheck) Name() string { return "memory" }
func (c *MemoryCheck) Check(ctx context.Context) CheckResult {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	result := CheckResult{
		Metadata: map[string]any{
			"heap_alloc_bytes": m.HeapAlloc,
			"heap_inuse_bytes": m.HeapInuse,
			"num_gc":           m.NumGC,
			"goroutines":       runtime.NumGoroutine(),
		},
	}
	if c.MaxHeapBytes > 0 && m.HeapAlloc > c.MaxHeapBytes {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("heap usage %d bytes exceeds threshold %d bytes", m.HeapAlloc, c.MaxHeapBytes)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("heap: %d MB, goroutines: %d", m.HeapAlloc/1024/1024, runtime.NumGoroutine())
	return result
}

var (
	_ Checker = (*StoreCheck)(nil)
	_ Checker = (*ClassifierCheck)(nil)
	_ Checker = (*RetryQueueCheck)(nil)
	_ Checker = (*MemoryCheck)(nil)
	_ Checker = (*DiskCheck)(nil)
	_ Checker = (*SystemMemoryCheck)(nil)
	_ Checker = CheckFunc(nil)
)
