package simulator

import (
	"sync"
	"time"

	"github.com/nebulablock/rpdprobe/common/helper"
)

type Verdict int

const (
	VerdictAllowed Verdict = iota
	VerdictUnknownKey
	VerdictRateLimited
	VerdictForcedFailure
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllowed:
		return "allowed"
	case VerdictUnknownKey:
		return "unknown_key"
	case VerdictRateLimited:
		return "rate_limited"
	case VerdictForcedFailure:
		return "forced_failure"
	default:
		return "unknown"
	}
}

// Quota counts admitted requests per key within the current UTC day.
// Rejected requests do not consume quota.
type Quota struct {
	mu   sync.Mutex
	keys map[string]KeyPolicy
	used map[string]int
	day  string
	now  func() time.Time
}

func NewQuota(keys map[string]KeyPolicy) *Quota {
	q := &Quota{
		keys: make(map[string]KeyPolicy, len(keys)),
		used: make(map[string]int),
		now:  time.Now,
	}
	for k, p := range keys {
		q.keys[k] = p
	}
	q.day = helper.UTCDay(q.now())
	return q
}

// SetKey adds or replaces a key without touching its usage.
func (q *Quota) SetKey(key string, p KeyPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys[key] = p
}

// Admit decides one request for key and returns the key's policy.
func (q *Quota) Admit(key string) (Verdict, KeyPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()

	p, ok := q.keys[key]
	switch {
	case !ok:
		return VerdictUnknownKey, KeyPolicy{}
	case p.FailStatus != 0:
		return VerdictForcedFailure, p
	}
	if n, finite := p.Limit.Value(); finite && q.used[key] >= n {
		return VerdictRateLimited, p
	}
	q.used[key]++
	return VerdictAllowed, p
}

// Used returns how many requests key has been granted today.
func (q *Quota) Used(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.used[key]
}

// Usage snapshots today's counters.
func (q *Quota) Usage() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	out := make(map[string]int, len(q.used))
	for k, v := range q.used {
		out[k] = v
	}
	return out
}

// Reset clears every counter, as if a new day had started.
func (q *Quota) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used = make(map[string]int)
	q.day = helper.UTCDay(q.now())
}

// caller holds mu
func (q *Quota) rollover() {
	if today := helper.UTCDay(q.now()); today != q.day {
		q.used = make(map[string]int)
		q.day = today
	}
}
