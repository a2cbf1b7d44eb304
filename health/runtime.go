package health

import (
	"context"
	"fmt"
	"runtime"
)

// RuntimeCheckerConfig bounds process resources. A gateway whose callers
// leak goroutines while waiting for permits shows up here first.
type RuntimeCheckerConfig struct {
	// MaxGoroutines is the goroutine count at which the process is
	// unhealthy. It is degraded from 80% of that.
	// Default: 10000
	MaxGoroutines int

	// MaxHeapBytes is the live heap size at which the process is unhealthy.
	// It is degraded from 80% of that. Zero disables the heap check.
	// Default: 0
	MaxHeapBytes uint64
}

// RuntimeChecker watches goroutine count and heap size.
type RuntimeChecker struct {
	config     RuntimeCheckerConfig
	goroutines func() int
	heap       func() (alloc uint64, numGC uint32)
}

// NewRuntimeChecker creates a RuntimeChecker.
func NewRuntimeChecker(config RuntimeCheckerConfig) *RuntimeChecker {
	if config.MaxGoroutines <= 0 {
		config.MaxGoroutines = 10000
	}
	return &RuntimeChecker{
		config:     config,
		goroutines: runtime.NumGoroutine,
		heap: func() (uint64, uint32) {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc, ms.NumGC
		},
	}
}

func (c *RuntimeChecker) Name() string { return "runtime" }

func (c *RuntimeChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("check cancelled", err)
	}

	goroutines := c.goroutines()
	heapAlloc, numGC := c.heap()
	details := map[string]any{
		"goroutines":       goroutines,
		"max_goroutines":   c.config.MaxGoroutines,
		"heap_alloc_bytes": heapAlloc,
		"num_gc":           numGC,
	}

	status := level(float64(goroutines) / float64(c.config.MaxGoroutines))
	msg := fmt.Sprintf("%d goroutines", goroutines)
	if c.config.MaxHeapBytes > 0 {
		details["max_heap_bytes"] = c.config.MaxHeapBytes
		if hs := level(float64(heapAlloc) / float64(c.config.MaxHeapBytes)); hs > status {
			status = hs
			msg = fmt.Sprintf("heap at %d of %d bytes", heapAlloc, c.config.MaxHeapBytes)
		}
	}

	var r Result
	switch status {
	case StatusUnhealthy:
		r = Unhealthy(msg, ErrCheckFailed)
	case StatusDegraded:
		r = Degraded(msg)
	default:
		r = Healthy(msg)
	}
	return r.WithDetails(details)
}

func level(ratio float64) Status {
	switch {
	case ratio >= 1:
		return StatusUnhealthy
	case ratio >= 0.8:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
