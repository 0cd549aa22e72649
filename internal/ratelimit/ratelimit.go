// Package ratelimit implements per-(ip, rule) token buckets with gradual
// time-based refill.
//
// The bucket map is sharded so updates on distinct keys never serialize; each
// key's read-modify-write happens under its shard lock, making check-and-spend
// linearisable per key. The observable contract: after exhausting N tokens,
// waiting the full window yields exactly N new admissions.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/half-blood-labs/route-shield/internal/model"
)

const shardCount = 64

// bucket is the refill state for one (ip, rule) key. Tokens are integral;
// partial refill adds floor(elapsed * cap / window) and a full window restores
// the cap. lastRefill only advances when a request is admitted.
type bucket struct {
	tokens     int64
	lastRefill int64 // unix seconds
	window     int64
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter is the process-wide token bucket store.
type Limiter struct {
	shards [shardCount]*shard
	clock  func() time.Time

	// TTLSeconds drops buckets idle longer than this during Cleanup. Zero
	// means twice the bucket's own window.
	TTLSeconds int64
}

// New creates a limiter on the wall clock.
func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock creates a limiter with an injected clock, for tests.
func NewWithClock(clock func() time.Time) *Limiter {
	l := &Limiter{clock: clock}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket, 64)}
	}
	return l
}

// Check spends one token for (ip, ruleID) under cfg. It returns
// ReasonRateLimitExceeded when the bucket is empty, leaving lastRefill
// untouched so a denied burst does not push the refill horizon forward.
func (l *Limiter) Check(ip string, ruleID int64, cfg model.RateLimitConfig) model.Reason {
	if cfg.RequestsPerWindow <= 0 || cfg.WindowSeconds <= 0 {
		return model.ReasonAllowed
	}

	key := bucketKey(ip, ruleID)
	now := l.clock().Unix()

	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok {
		sh.buckets[key] = &bucket{
			tokens:     cfg.RequestsPerWindow - 1,
			lastRefill: now,
			window:     cfg.WindowSeconds,
		}
		return model.ReasonAllowed
	}

	elapsed := now - b.lastRefill
	if elapsed < 0 {
		elapsed = 0
	}

	tokens := b.tokens
	if elapsed >= cfg.WindowSeconds {
		tokens = cfg.RequestsPerWindow
	} else {
		tokens += elapsed * cfg.RequestsPerWindow / cfg.WindowSeconds
		if tokens > cfg.RequestsPerWindow {
			tokens = cfg.RequestsPerWindow
		}
	}

	if tokens < 1 {
		return model.ReasonRateLimitExceeded
	}

	b.tokens = tokens - 1
	b.lastRefill = now
	b.window = cfg.WindowSeconds
	return model.ReasonAllowed
}

// Cleanup removes buckets idle past their TTL. Each shard is locked briefly
// on its own; active checks on other shards proceed.
func (l *Limiter) Cleanup() {
	now := l.clock().Unix()
	for _, sh := range l.shards {
		sh.mu.Lock()
		for key, b := range sh.buckets {
			ttl := l.TTLSeconds
			if ttl <= 0 {
				ttl = b.window * 2
			}
			if now-b.lastRefill > ttl {
				delete(sh.buckets, key)
			}
		}
		sh.mu.Unlock()
	}
}

// Len reports the live bucket count across all shards.
func (l *Limiter) Len() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}
	return n
}

func (l *Limiter) shard(key string) *shard {
	return l.shards[hashKey(key)%shardCount]
}

func bucketKey(ip string, ruleID int64) string {
	return ip + "|" + strconv.FormatInt(ruleID, 10)
}

// hashKey is the same cheap string hash the rest of the plane uses for shard
// selection. No alloc.
func hashKey(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
