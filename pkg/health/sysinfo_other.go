//go:build !linux

package health

import (
	"context"
	"runtime"
)

// DiskCheck is a no-op outside Linux.
type DiskCheck struct {
	Path           string
	MinFreePercent float64
	MinFreeBytes   uint64
}

func (c *DiskCheck) Name() string { return "disk" }

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Status:   StatusUnknown,
		Message:  "disk stats only available on Linux",
		Metadata: map[string]any{"platform": runtime.GOOS},
	}
}

// SystemMemoryCheck falls back to Go runtime stats outside Linux.
type SystemMemoryCheck struct {
	MaxUsagePercent float64
}

func (c *SystemMemoryCheck) Name() string { return "system_memory" }

func (c *SystemMemoryCheck) Check(ctx context.Context) CheckResult {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return CheckResult{
		Status:  StatusHealthy,
		Message: "system memory check (limited on " + runtime.GOOS + ")",
		Metadata: map[string]any{
			"heap_alloc_bytes": m.HeapAlloc,
			"sys_bytes":        m.Sys,
			"platform":         runtime.GOOS,
		},
	}
}
