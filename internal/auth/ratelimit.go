package auth

import (
	"container/list"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type PolicyClass string

const (
	// PolicyAuth covers the credential endpoints: small capacity, slow refill.
	PolicyAuth PolicyClass = "auth"
	// PolicyGeneral covers everything else.
	PolicyGeneral PolicyClass = "general"
)

// Policy describes one token-bucket configuration: Capacity tokens, fully
// replenished over RefillInterval.
type Policy struct {
	Capacity       int
	RefillInterval time.Duration
}

func (p Policy) normalized() Policy {
	if p.Capacity <= 0 {
		p.Capacity = 10
	}
	if p.RefillInterval <= 0 {
		p.RefillInterval = time.Minute
	}
	return p
}

func (p Policy) limit() rate.Limit {
	return rate.Limit(float64(p.Capacity) / p.RefillInterval.Seconds())
}

const limiterShardCount = 16

type bucketEntry struct {
	key     string
	limiter *rate.Limiter
}

type limiterShard struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	cap     int
}

// RateLimiter keeps one token bucket per (client key, policy class) pair.
// Buckets are created lazily at full capacity and evicted least-recently-used
// once a shard reaches its cap, so the map stays bounded under high client
// address cardinality.
type RateLimiter struct {
	policies map[PolicyClass]Policy
	now      func() time.Time
	shards   [limiterShardCount]*limiterShard
}

func NewRateLimiter(authPolicy, generalPolicy Policy, maxKeys int) *RateLimiter {
	if maxKeys <= 0 {
		maxKeys = 10000
	}

	l := &RateLimiter{
		policies: map[PolicyClass]Policy{
			PolicyAuth:    authPolicy.normalized(),
			PolicyGeneral: generalPolicy.normalized(),
		},
		now: time.Now,
	}
	perShard := maxKeys / limiterShardCount
	if perShard < 1 {
		perShard = 1
	}
	for i := range l.shards {
		l.shards[i] = &limiterShard{
			entries: make(map[string]*list.Element),
			lru:     list.New(),
			cap:     perShard,
		}
	}
	return l
}

// TryConsume deducts one token from the bucket for (clientKey, class),
// reporting whether the request is admitted. Refill-and-consume is atomic per
// bucket; concurrent callers on the same key cannot both spend the last token.
func (l *RateLimiter) TryConsume(clientKey string, class PolicyClass) bool {
	policy, ok := l.policies[class]
	if !ok {
		policy = l.policies[PolicyGeneral]
	}

	key := string(class) + "|" + clientKey
	shard := l.shardFor(key)

	shard.mu.Lock()
	element, exists := shard.entries[key]
	if exists {
		shard.lru.MoveToFront(element)
	} else {
		if shard.lru.Len() >= shard.cap {
			oldest := shard.lru.Back()
			if oldest != nil {
				delete(shard.entries, oldest.Value.(*bucketEntry).key)
				shard.lru.Remove(oldest)
			}
		}
		entry := &bucketEntry{
			key:     key,
			limiter: rate.NewLimiter(policy.limit(), policy.Capacity),
		}
		element = shard.lru.PushFront(entry)
		shard.entries[key] = element
	}
	limiter := element.Value.(*bucketEntry).limiter
	shard.mu.Unlock()

	return limiter.AllowN(l.now(), 1)
}

// RetryAfter is the wait the caller must advertise on rejection: the policy's
// full refill interval.
func (l *RateLimiter) RetryAfter(class PolicyClass) time.Duration {
	policy, ok := l.policies[class]
	if !ok {
		policy = l.policies[PolicyGeneral]
	}
	return policy.RefillInterval
}

func (l *RateLimiter) shardFor(key string) *limiterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%limiterShardCount]
}

// ClientIP derives the rate-limit client key: the first entry of
// X-Forwarded-For when present and meaningful, else the direct connection
// address. Trusting the header is only safe behind a reverse proxy that
// overwrites it.
func ClientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" && !strings.EqualFold(forwarded, "unknown") {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
