package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisManager lets schedulers on different shells or machines that share a
// Redis agree on a single resident instance per GPU host.
//
// Each host owns two keys that share the {host} hash tag:
//
//	<prefix>:{host}:claim  hash of instance and token, expiring with the lease
//	<prefix>:{host}:seq    fencing counter, never expires
type RedisManager struct {
	client redis.Cmdable
	prefix string
}

func NewRedisManager(client redis.Cmdable, prefix string) *RedisManager {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = "gpureserve:lease"
	}
	return &RedisManager{client: client, prefix: normalized}
}

func (m *RedisManager) Acquire(ctx context.Context, host, instance string, ttl time.Duration) (Lease, bool, error) {
	host, instance, err := normalize(host, instance)
	if err != nil {
		return Lease{}, false, err
	}
	ttl = normalizeTTL(ttl)

	token, err := acquireScript.Run(ctx, m.client, m.keys(host), instance, ttl.Milliseconds()).Uint64()
	if err != nil {
		return Lease{}, false, fmt.Errorf("lease acquire %s: %w", host, err)
	}
	if token == 0 {
		return Lease{}, false, nil
	}
	return Lease{Token: token, ExpiresAt: time.Now().UTC().Add(ttl)}, true, nil
}

func (m *RedisManager) Renew(ctx context.Context, host, instance string, token uint64, ttl time.Duration) (Lease, bool, error) {
	host, instance, err := normalizeClaim(host, instance, token)
	if err != nil {
		return Lease{}, false, err
	}
	ttl = normalizeTTL(ttl)

	renewed, err := renewScript.Run(ctx, m.client, m.keys(host)[:1], instance, token, ttl.Milliseconds()).Int()
	if err != nil {
		return Lease{}, false, fmt.Errorf("lease renew %s: %w", host, err)
	}
	if renewed == 0 {
		return Lease{}, false, nil
	}
	return Lease{Token: token, ExpiresAt: time.Now().UTC().Add(ttl)}, true, nil
}

func (m *RedisManager) Release(ctx context.Context, host, instance string, token uint64) error {
	host, instance, err := normalizeClaim(host, instance, token)
	if err != nil {
		return err
	}

	if err := releaseScript.Run(ctx, m.client, m.keys(host)[:1], instance, token).Err(); err != nil {
		return fmt.Errorf("lease release %s: %w", host, err)
	}
	return nil
}

func (m *RedisManager) Holder(ctx context.Context, host string) (Claim, bool, error) {
	host, err := normalizeHost(host)
	if err != nil {
		return Claim{}, false, err
	}

	reply, err := holderScript.Run(ctx, m.client, m.keys(host)[:1]).Slice()
	if errors.Is(err, redis.Nil) {
		return Claim{}, false, nil
	}
	if err != nil {
		return Claim{}, false, fmt.Errorf("lease holder %s: %w", host, err)
	}
	claim, err := parseClaim(reply)
	if err != nil {
		return Claim{}, false, fmt.Errorf("lease holder %s: %w", host, err)
	}
	return claim, true, nil
}

// keys returns the claim key followed by the sequence key.
func (m *RedisManager) keys(host string) []string {
	base := m.prefix + ":{" + host + "}"
	return []string{base + ":claim", base + ":seq"}
}

func parseClaim(reply []interface{}) (Claim, error) {
	if len(reply) != 3 {
		return Claim{}, fmt.Errorf("unexpected claim reply %v", reply)
	}
	instance, _ := reply[0].(string)
	raw, _ := reply[1].(string)
	token, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return Claim{}, fmt.Errorf("parse claim token %q: %w", raw, err)
	}
	remaining, _ := reply[2].(int64)
	return Claim{
		Instance:  instance,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(time.Duration(remaining) * time.Millisecond),
	}, nil
}

// acquireScript only advances the fencing counter when the claim is granted.
var acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local token = redis.call("INCR", KEYS[2])
redis.call("HSET", KEYS[1], "instance", ARGV[1], "token", token)
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return token
`)

var renewScript = redis.NewScript(`
local held = redis.call("HMGET", KEYS[1], "instance", "token")
if held[1] == ARGV[1] and held[2] == ARGV[2] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return 0
`)

var releaseScript = redis.NewScript(`
local held = redis.call("HMGET", KEYS[1], "instance", "token")
if held[1] == ARGV[1] and held[2] == ARGV[2] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var holderScript = redis.NewScript(`
local held = redis.call("HMGET", KEYS[1], "instance", "token")
if not held[1] then
  return false
end
return {held[1], held[2], redis.call("PTTL", KEYS[1])}
`)
