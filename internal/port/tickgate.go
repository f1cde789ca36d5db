package port

import (
	"context"
	"time"
)

// TickGate coordinates the next scheduled tick across processes.
// Reserve returns false when another holder already owns a pending wake-up
// and replace is false.
type TickGate interface {
	Reserve(ctx context.Context, due time.Time, replace bool) (bool, error)
	Release(ctx context.Context) error
}
