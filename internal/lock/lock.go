// Package lock provides cross-process lease locks backed by the memory store
// and an in-process per-user lock table. The locking order is: per-user
// in-process lock first, then DB row locks, then memory-store counters —
// never in reverse.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrLockTimeout is returned when the lease could not be acquired within the
// wait timeout.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Key prefixes under ecom:lock:*; other components must not touch them.
const keyPrefix = "ecom:lock:"

// Key builds a lock key, e.g. Key("pt", "42") -> "ecom:lock:pt:42".
func Key(domain, id string) string {
	return keyPrefix + domain + ":" + id
}

// releaseScript deletes the lease only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the lease only when the caller still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Manager acquires per-key lease locks with set-if-absent, a random owner
// token, background renewal, and compare-and-delete release.
type Manager struct {
	client      redis.UniversalClient
	ttl         time.Duration
	waitTimeout time.Duration
}

// NewManager creates a lock Manager.
func NewManager(client redis.UniversalClient, ttl, waitTimeout time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Second
	}
	return &Manager{client: client, ttl: ttl, waitTimeout: waitTimeout}
}

// WithLock runs fn while holding the lease for key. Acquisition waits up to
// the configured timeout with jittered exponential backoff; failure returns
// ErrLockTimeout. The lease is renewed in the background for long-running
// sections and released only when the owner token still matches.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := m.acquire(ctx, key, token); err != nil {
		return err
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	done := make(chan struct{})
	go m.renewLoop(renewCtx, key, token, done)

	defer func() {
		stopRenew()
		<-done
		m.release(key, token)
	}()

	return fn(ctx)
}

func (m *Manager) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(m.waitTimeout)
	backoff := 10 * time.Millisecond

	for {
		ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock %s: %w", key, ErrLockTimeout)
		}

		// Jittered exponential backoff, capped at 200ms.
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

func (m *Manager) renewLoop(ctx context.Context, key, token string, done chan<- struct{}) {
	defer close(done)

	interval := m.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := renewScript.Run(ctx, m.client, []string{key}, token, m.ttl.Milliseconds()).Err(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("lock renewal failed")
			}
		}
	}
}

// release uses a fresh context: the caller's context may already be
// cancelled, and leaving the lease to expire blocks other workers for a TTL.
func (m *Manager) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("lock release failed, lease will expire by ttl")
	}
}
