//go:build linux

package health

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskCheck checks free space on the volume holding the database and the
// retry queue.
type DiskCheck struct {
	Path string

	// MinFreePercent takes precedence over MinFreeBytes when set.
	MinFreePercent float64
	MinFreeBytes   uint64
}

func (c *DiskCheck) Name() string { return "disk" }

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	path := c.Path
	if path == "" {
		path = "/"
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("failed to get disk stats: %v", err)}
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize) //nolint:gosec // Bsize is positive on Linux
	freeBytes := stat.Bavail * uint64(stat.Bsize)  //nolint:gosec // Bsize is positive on Linux
	freePercent := 0.0
	if totalBytes > 0 {
		freePercent = float64(freeBytes) / float64(totalBytes) * 100
	}

	result := CheckResult{
		Metadata: map[string]any{
			"path":         path,
			"total_bytes":  totalBytes,
			"free_bytes":   freeBytes,
			"free_percent": fmt.Sprintf("%.2f%%", freePercent),
		},
	}
	switch {
	case c.MinFreePercent > 0 && freePercent < c.MinFreePercent:
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("disk free space %.2f%% is below threshold %.2f%%", freePercent, c.MinFreePercent)
	case c.MinFreePercent <= 0 && c.MinFreeBytes > 0 && freeBytes < c.MinFreeBytes:
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("disk free space %d bytes is below threshold %d bytes", freeBytes, c.MinFreeBytes)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("disk has %.2f%% free space", freePercent)
	}
	return result
}

// SystemMemoryCheck checks system-wide memory usage.
type SystemMemoryCheck struct {
	MaxUsagePercent float64
}

func (c *SystemMemoryCheck) Name() string { return "system_memory" }

func (c *SystemMemoryCheck) Check(ctx context.Context) CheckResult {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("failed to get system memory info: %v", err)}
	}

	totalMem := info.Totalram * uint64(info.Unit)
	freeMem := info.Freeram * uint64(info.Unit)
	usagePercent := 0.0
	if totalMem > 0 {
		usagePercent = float64(totalMem-freeMem) / float64(totalMem) * 100
	}

	result := CheckResult{
		Metadata: map[string]any{
			"total_bytes":   totalMem,
			"free_bytes":    freeMem,
			"usage_percent": fmt.Sprintf("%.2f%%", usagePercent),
		},
	}
	if c.MaxUsagePercent > 0 && usagePercent > c.MaxUsagePercent {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("memory usage %.2f%% exceeds threshold %.2f%%", usagePercent, c.MaxUsagePercent)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("memory usage: %.2f%%", usagePercent)
	return result
}
