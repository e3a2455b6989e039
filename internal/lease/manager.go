package lease

import (
	"context"
	"errors"
	"strings"
	"time"
)

const DefaultTTL = 30 * time.Second

var (
	ErrHeld      = errors.New("another scheduler holds the lease")
	ErrLeaseLost = errors.New("scheduler lease lost")
)

// Lease is a fenced claim on a GPU host. Tokens grow monotonically per host.
type Lease struct {
	Token     uint64
	ExpiresAt time.Time
}

// Claim describes the scheduler instance currently resident on a host.
type Claim struct {
	Instance  string
	Token     uint64
	ExpiresAt time.Time
}

func (c Claim) owns(instance string, token uint64) bool {
	return c.Instance == instance && c.Token == token
}

// Manager arbitrates which scheduler instance is resident for a host.
type Manager interface {
	Acquire(ctx context.Context, host, instance string, ttl time.Duration) (Lease, bool, error)
	Renew(ctx context.Context, host, instance string, token uint64, ttl time.Duration) (Lease, bool, error)
	Release(ctx context.Context, host, instance string, token uint64) error
	// Holder reports the live claim on host, if any.
	Holder(ctx context.Context, host string) (Claim, bool, error)
}

var (
	errNoHost     = errors.New("host is required")
	errNoInstance = errors.New("instance is required")
	errNoToken    = errors.New("token is required")
)

func normalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", errNoHost
	}
	return host, nil
}

func normalize(host, instance string) (string, string, error) {
	host, err := normalizeHost(host)
	if err != nil {
		return "", "", err
	}
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return "", "", errNoInstance
	}
	return host, instance, nil
}

func normalizeClaim(host, instance string, token uint64) (string, string, error) {
	host, instance, err := normalize(host, instance)
	if err != nil {
		return "", "", err
	}
	if token == 0 {
		return "", "", errNoToken
	}
	return host, instance, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
