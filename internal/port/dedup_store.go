package port

import (
	"context"
	"time"
)

// ClaimState is the outcome of claiming a unit of work.
type ClaimState int

const (
	// ClaimAcquired means the caller holds the lease and should do the work
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another attempt holds an unexpired lease
	ClaimInFlight
	// ClaimDone means the work already completed
	ClaimDone
)

type DedupStore interface {
	// SetIdempotency leases key for the given duration. An abandoned lease
	// expires on its own, so a crashed attempt never blocks a retry for long.
	SetIdempotency(ctx context.Context, key string, lease time.Duration) (ClaimState, error)

	// MarkIdempotencyDone turns the lease into a completion marker kept for retention
	MarkIdempotencyDone(ctx context.Context, key string, retention time.Duration) error

	// ClearIdempotency releases a lease so the work can be retried; completion markers stay
	ClearIdempotency(ctx context.Context, key string) error
}
