package lease

import (
	"context"
	"sync"
	"time"
)

// hostSlot keeps a host's fencing sequence across claims, so a token handed
// out after an expiry is always larger than the one it replaces.
type hostSlot struct {
	seq   uint64
	claim Claim
	held  bool
}

func (s *hostSlot) live(now time.Time) bool {
	if s.held && !now.Before(s.claim.ExpiresAt) {
		s.held = false
		s.claim = Claim{}
	}
	return s.held
}

// InMemoryManager serves a single process, where it guards against the same
// binary starting two schedulers for one host.
type InMemoryManager struct {
	mu    sync.Mutex
	hosts map[string]*hostSlot
	now   func() time.Time
}

func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{
		hosts: make(map[string]*hostSlot),
		now:   time.Now,
	}
}

func (m *InMemoryManager) slot(host string) *hostSlot {
	s, ok := m.hosts[host]
	if !ok {
		s = &hostSlot{}
		m.hosts[host] = s
	}
	return s
}

func (m *InMemoryManager) Acquire(_ context.Context, host, instance string, ttl time.Duration) (Lease, bool, error) {
	host, instance, err := normalize(host, instance)
	if err != nil {
		return Lease{}, false, err
	}
	ttl = normalizeTTL(ttl)

	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slot(host)
	if s.live(now) {
		return Lease{}, false, nil
	}
	s.seq++
	s.claim = Claim{Instance: instance, Token: s.seq, ExpiresAt: now.Add(ttl)}
	s.held = true
	return Lease{Token: s.claim.Token, ExpiresAt: s.claim.ExpiresAt}, true, nil
}

func (m *InMemoryManager) Renew(_ context.Context, host, instance string, token uint64, ttl time.Duration) (Lease, bool, error) {
	host, instance, err := normalizeClaim(host, instance, token)
	if err != nil {
		return Lease{}, false, err
	}
	ttl = normalizeTTL(ttl)

	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.hosts[host]
	if !ok || !s.live(now) || !s.claim.owns(instance, token) {
		return Lease{}, false, nil
	}
	s.claim.ExpiresAt = now.Add(ttl)
	return Lease{Token: token, ExpiresAt: s.claim.ExpiresAt}, true, nil
}

func (m *InMemoryManager) Release(_ context.Context, host, instance string, token uint64) error {
	host, instance, err := normalizeClaim(host, instance, token)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.hosts[host]; ok && s.held && s.claim.owns(instance, token) {
		s.held = false
		s.claim = Claim{}
	}
	return nil
}

func (m *InMemoryManager) Holder(_ context.Context, host string) (Claim, bool, error) {
	host, err := normalizeHost(host)
	if err != nil {
		return Claim{}, false, err
	}

	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.hosts[host]
	if !ok || !s.live(now) {
		return Claim{}, false, nil
	}
	return s.claim, true, nil
}
