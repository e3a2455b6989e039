package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Keeper holds one host lease for the lifetime of a scheduler, renewing it
// once a third of the TTL has passed.
type Keeper struct {
	manager  Manager
	host     string
	instance string
	ttl      time.Duration
	now      func() time.Time

	held      Lease
	renewedAt time.Time
}

func NewKeeper(manager Manager, host string, ttl time.Duration) *Keeper {
	return &Keeper{
		manager:  manager,
		host:     host,
		instance: uuid.NewString(),
		ttl:      normalizeTTL(ttl),
		now:      time.Now,
	}
}

func (k *Keeper) Instance() string {
	return k.instance
}

func (k *Keeper) Acquire(ctx context.Context) error {
	granted, ok, err := k.manager.Acquire(ctx, k.host, k.instance, k.ttl)
	if err != nil {
		return fmt.Errorf("acquire lease for %s: %w", k.host, err)
	}
	if !ok {
		return k.refused(ctx)
	}
	k.held = granted
	k.renewedAt = k.now()
	return nil
}

// refused names the resident instance when the manager can still see it.
func (k *Keeper) refused(ctx context.Context) error {
	claim, held, err := k.manager.Holder(ctx, k.host)
	if err != nil || !held {
		return fmt.Errorf("%w: host %s", ErrHeld, k.host)
	}
	return fmt.Errorf("%w: host %s by instance %s (token %d, until %s)",
		ErrHeld, k.host, claim.Instance, claim.Token, claim.ExpiresAt.Format(time.RFC3339))
}

func (k *Keeper) Renew(ctx context.Context) error {
	if k.held.Token == 0 {
		return ErrLeaseLost
	}
	if k.now().Sub(k.renewedAt) < k.ttl/3 {
		return nil
	}
	renewed, ok, err := k.manager.Renew(ctx, k.host, k.instance, k.held.Token, k.ttl)
	if err != nil {
		return fmt.Errorf("renew lease for %s: %w", k.host, err)
	}
	if !ok {
		k.held = Lease{}
		return fmt.Errorf("%w: host %s", ErrLeaseLost, k.host)
	}
	k.held = renewed
	k.renewedAt = k.now()
	return nil
}

func (k *Keeper) Release(ctx context.Context) error {
	if k.held.Token == 0 {
		return nil
	}
	err := k.manager.Release(ctx, k.host, k.instance, k.held.Token)
	k.held = Lease{}
	return err
}
