package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/locad/locad-payments/pkg/redis"
)

// GuardScope namespaces claimed Stripe event ids in Redis.
const GuardScope = "stripe_webhook"

var errEventIDRequired = errors.New("event id is required")

// EventGuard records which Stripe event ids were handed to the reconciler.
// A redelivery of a claimed event is answered without touching the ledger.
// The ledger stays correct without it since outbox rows are deduplicated.
type EventGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

func NewEventGuard(store redis.IdempotencyStore, ttl time.Duration) (*EventGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl <= 0:
		return nil, errors.New("ttl must be positive")
	}
	return &EventGuard{store: store, ttl: ttl, now: time.Now}, nil
}

// Claim reports whether this delivery owns eventID. The claim stores when it
// was taken and expires after the guard's ttl.
func (g *EventGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEventIDRequired
	}
	claimedAt := g.now().UTC().Format(time.RFC3339)
	ok, err := g.store.SetNX(ctx, g.key(eventID), claimedAt, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim stripe event %s: %w", eventID, err)
	}
	return ok, nil
}

// Release drops the claim so the processor's next delivery is reconciled.
func (g *EventGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errEventIDRequired
	}
	return g.store.Del(ctx, g.key(eventID))
}

func (g *EventGuard) key(eventID string) string {
	return g.store.IdempotencyKey(GuardScope, eventID)
}
