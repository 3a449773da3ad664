package webhooks

import (
	"context"
	"time"

	"github.com/stagepass/stagepass-backend/pkg/redis"
)

const (
	guardScope = "paypal-webhook"
	guardTTL   = 24 * time.Hour
)

// Guard deduplicates webhook deliveries by event id. The mark is released
// when processing fails so the provider's retry gets another attempt.
type Guard struct {
	store redis.IdempotencyStore
}

func NewGuard(store redis.IdempotencyStore) *Guard {
	return &Guard{store: store}
}

// CheckAndMark claims the event id. It returns true when this delivery is the
// first one seen.
func (g *Guard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key := g.store.IdempotencyKey(guardScope, eventID)
	return g.store.SetNX(ctx, key, "1", guardTTL)
}

// Release drops the claim so a retried delivery can be processed.
func (g *Guard) Release(ctx context.Context, eventID string) error {
	key := g.store.IdempotencyKey(guardScope, eventID)
	return g.store.Del(ctx, key)
}
