// Package conlimit tracks in-flight requests per (ip, rule) key and caps
// them at a rule-configured maximum.
//
// Acquire is the only admission path: it checks and increments under one
// shard lock, so two racing requests can never both slip under the cap.
// Release is idempotent per token; a duplicate release never double-decrements.
package conlimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/half-blood-labs/route-shield/internal/model"
)

const shardCount = 64

// DefaultStaleTTL bounds the lifetime of an acquisition whose release guard
// never ran (a handler that panicked past recovery, a torn-down connection).
const DefaultStaleTTL = 5 * time.Minute

type shard struct {
	mu     sync.Mutex
	active map[string]map[string]int64 // key → token → acquired-at unix
}

// Limiter is the process-wide active-connection store.
type Limiter struct {
	shards   [shardCount]*shard
	clock    func() time.Time
	StaleTTL time.Duration
}

// New creates a limiter on the wall clock.
func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock creates a limiter with an injected clock, for tests.
func NewWithClock(clock func() time.Time) *Limiter {
	l := &Limiter{clock: clock, StaleTTL: DefaultStaleTTL}
	for i := range l.shards {
		l.shards[i] = &shard{active: make(map[string]map[string]int64, 64)}
	}
	return l
}

// Check reports whether an acquisition would currently be admitted. It takes
// no slot; callers racing between Check and Acquire must rely on Acquire's
// own verdict.
func (l *Limiter) Check(ip string, ruleID int64, max int) model.Reason {
	if max <= 0 {
		return model.ReasonAllowed
	}
	if l.Active(ip, ruleID) >= max {
		return model.ReasonConcurrentLimitExceeded
	}
	return model.ReasonAllowed
}

// Acquire claims one in-flight slot for (ip, ruleID). The returned token
// releases exactly that claim. Check-and-increment is atomic: at the moment
// of increment the count never exceeds max.
func (l *Limiter) Acquire(ip string, ruleID int64, max int) (string, model.Reason) {
	key := conKey(ip, ruleID)
	sh := l.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	tokens := sh.active[key]
	if max > 0 && len(tokens) >= max {
		return "", model.ReasonConcurrentLimitExceeded
	}
	if tokens == nil {
		tokens = make(map[string]int64, 4)
		sh.active[key] = tokens
	}
	token := uuid.NewString()
	tokens[token] = l.clock().Unix()
	return token, model.ReasonAllowed
}

// Release returns the slot held by token. Unknown or already-released tokens
// are ignored.
func (l *Limiter) Release(ip string, ruleID int64, token string) {
	if token == "" {
		return
	}
	key := conKey(ip, ruleID)
	sh := l.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	tokens, ok := sh.active[key]
	if !ok {
		return
	}
	delete(tokens, token)
	if len(tokens) == 0 {
		delete(sh.active, key)
	}
}

// Active reports the current in-flight count for (ip, ruleID).
func (l *Limiter) Active(ip string, ruleID int64) int {
	key := conKey(ip, ruleID)
	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.active[key])
}

// Sweep drops acquisitions older than StaleTTL.
func (l *Limiter) Sweep() {
	cutoff := l.clock().Add(-l.StaleTTL).Unix()
	for _, sh := range l.shards {
		sh.mu.Lock()
		for key, tokens := range sh.active {
			for token, acquiredAt := range tokens {
				if acquiredAt < cutoff {
					delete(tokens, token)
				}
			}
			if len(tokens) == 0 {
				delete(sh.active, key)
			}
		}
		sh.mu.Unlock()
	}
}

// Len reports the total in-flight count across all keys.
func (l *Limiter) Len() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		for _, tokens := range sh.active {
			n += len(tokens)
		}
		sh.mu.Unlock()
	}
	return n
}

func (l *Limiter) shard(key string) *shard {
	return l.shards[hashKey(key)%shardCount]
}

func conKey(ip string, ruleID int64) string {
	return ip + "|" + strconv.FormatInt(ruleID, 10)
}

func hashKey(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
