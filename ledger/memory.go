package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nebulablock/rpdprobe/common/helper"
)

// MemoryLedger keeps counts in process. Entries expire at the next UTC midnight.
type MemoryLedger struct {
	mu    sync.Mutex
	store *cache.Cache
	now   func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		store: cache.New(cache.NoExpiration, 10*time.Minute),
		now:   time.Now,
	}
}

func (m *MemoryLedger) Add(_ context.Context, credential string, n int64) error {
	now := m.now()
	key := dailyKey(credential, now)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.store.IncrementInt64(key, n); err == nil {
		return nil
	}
	m.store.Set(key, n, helper.NextUTCMidnight(now).Sub(now))
	return nil
}

func (m *MemoryLedger) Count(_ context.Context, credential string) (int64, error) {
	v, ok := m.store.Get(dailyKey(credential, m.now()))
	if !ok {
		return 0, nil
	}
	return v.(int64), nil
}
