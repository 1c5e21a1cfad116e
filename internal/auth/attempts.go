package auth

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	attemptShardCount = 32
	attemptShardSoft  = 1024
)

type attemptEntry struct {
	count     int
	expiresAt time.Time
}

type attemptShard struct {
	mu      sync.Mutex
	entries map[string]*attemptEntry
}

// AttemptTracker counts failed login attempts per identity. Entries carry a
// TTL fixed at creation (not extended by later failures), so a lockout ends
// at most one window after the first failure even without a successful login.
// The key space is sharded so parallel brute-force traffic against different
// identities never serializes on one lock.
type AttemptTracker struct {
	maxAttempts int
	window      time.Duration
	now         func() time.Time
	shards      [attemptShardCount]attemptShard
}

func NewAttemptTracker(maxAttempts int, window time.Duration) *AttemptTracker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}

	t := &AttemptTracker{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*attemptEntry)
	}
	return t
}

// RecordFailure increments the counter for identity, creating the entry with
// count=1 and a fresh TTL if absent or expired. Returns the new count.
func (t *AttemptTracker) RecordFailure(identity string) int {
	now := t.now()
	shard := t.shardFor(identity)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry := shard.entries[identity]
	if entry == nil || now.After(entry.expiresAt) {
		entry = &attemptEntry{count: 1, expiresAt: now.Add(t.window)}
		shard.entries[identity] = entry
	} else {
		entry.count++
	}

	if len(shard.entries) > attemptShardSoft {
		for key, e := range shard.entries {
			if now.After(e.expiresAt) {
				delete(shard.entries, key)
			}
		}
	}

	return entry.count
}

// RecordSuccess deletes the identity's counter unconditionally.
func (t *AttemptTracker) RecordSuccess(identity string) {
	shard := t.shardFor(identity)
	shard.mu.Lock()
	delete(shard.entries, identity)
	shard.mu.Unlock()
}

func (t *AttemptTracker) IsLocked(identity string) bool {
	return t.currentCount(identity) >= t.maxAttempts
}

// RemainingAttempts reports how many failures are left before lockout,
// clamped to [0, maxAttempts]. An absent or expired entry means the full
// allowance.
func (t *AttemptTracker) RemainingAttempts(identity string) int {
	remaining := t.maxAttempts - t.currentCount(identity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *AttemptTracker) currentCount(identity string) int {
	now := t.now()
	shard := t.shardFor(identity)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry := shard.entries[identity]
	if entry == nil {
		return 0
	}
	if now.After(entry.expiresAt) {
		delete(shard.entries, identity)
		return 0
	}
	return entry.count
}

func (t *AttemptTracker) shardFor(identity string) *attemptShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &t.shards[h.Sum32()%attemptShardCount]
}
