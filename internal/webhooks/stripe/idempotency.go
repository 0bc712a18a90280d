package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/safetransit/pkg/redis"
)

// ClaimState describes what a delivery should do with a Stripe event id.
type ClaimState int

const (
	// ClaimAcquired means this delivery owns the event and must process it.
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another delivery is processing the event right now.
	ClaimInFlight
	// ClaimDone means the event was already applied.
	ClaimDone
)

const (
	markerProcessing = "processing"
	markerDone       = "done"

	defaultProcessingTTL = 2 * time.Minute
)

// IdempotencyGuard tracks Stripe event ids so every event is applied to a
// deposit at most once, even when Stripe redelivers it concurrently.
type IdempotencyGuard struct {
	store         redis.IdempotencyStore
	ttl           time.Duration
	processingTTL time.Duration
	scope         string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case scope == "":
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, processingTTL: defaultProcessingTTL, scope: scope}, nil
}

// WithProcessingTTL bounds how long a crashed delivery can block redelivery.
func (g *IdempotencyGuard) WithProcessingTTL(ttl time.Duration) *IdempotencyGuard {
	if ttl > 0 {
		g.processingTTL = ttl
	}
	return g
}

// Claim marks eventID as processing unless a marker already exists.
func (g *IdempotencyGuard) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	key, err := g.key(eventID)
	if err != nil {
		return ClaimInFlight, err
	}
	acquired, err := g.store.SetNX(ctx, key, markerProcessing, g.processingTTL)
	if err != nil {
		return ClaimInFlight, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if acquired {
		return ClaimAcquired, nil
	}

	marker, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// the marker expired between SETNX and GET; let Stripe retry
		return ClaimInFlight, nil
	case err != nil:
		return ClaimInFlight, fmt.Errorf("read event marker %s: %w", eventID, err)
	case marker == markerDone:
		return ClaimDone, nil
	default:
		return ClaimInFlight, nil
	}
}

// Complete records eventID as applied for the retention ttl.
func (g *IdempotencyGuard) Complete(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("clear processing marker %s: %w", eventID, err)
	}
	if _, err := g.store.SetNX(ctx, key, markerDone, g.ttl); err != nil {
		return fmt.Errorf("mark event %s done: %w", eventID, err)
	}
	return nil
}

// Release drops the claim so a later redelivery can retry the event.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *IdempotencyGuard) key(eventID string) (string, error) {
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(g.scope, eventID), nil
}
