package orchestrator

import (
	"context"
	"runtime"
)

// Guard decides whether the host can take on another query.
type Guard interface {
	// Check returns an error when new work should be refused.
	Check(ctx context.Context) error
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(ctx context.Context) error

// Check calls f.
func (f GuardFunc) Check(ctx context.Context) error { return f(ctx) }

// MemoryGuard refuses work while the Go heap is above a ceiling.
type MemoryGuard struct {
	limit    uint64
	heapSize func() uint64
}

// NewMemoryGuard creates a guard with a ceiling of maxMB megabytes.
func NewMemoryGuard(maxMB int) *MemoryGuard {
	return &MemoryGuard{limit: uint64(maxMB) << 20, heapSize: heapInUse}
}

// Check returns a *ResourceError when the heap is over the ceiling.
func (g *MemoryGuard) Check(context.Context) error {
	if g.limit == 0 {
		return nil
	}
	if used := g.heapSize(); used > g.limit {
		return &ResourceError{Resource: "heap", Used: used, Limit: g.limit}
	}
	return nil
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
