package seq

import (
	"context"
	"sync"
	"time"
)

// In-memory Cache/Store used by tests and local runs, mirroring the Redis
// and Postgres semantics closely enough to exercise every coordinator path.
// Both count operations and support per-op fault injection.

type memCache struct {
	mu     sync.Mutex
	vals   map[string]int64
	expiry map[string]time.Time // counter/lock key -> deadline (zero = none)
	locks  map[string]string    // lock key -> token
	ops    map[string]int
	fail   map[string]error
}

func NewMemCache() *memCache {
	return &memCache{
		vals:   make(map[string]int64),
		expiry: make(map[string]time.Time),
		locks:  make(map[string]string),
		ops:    make(map[string]int),
		fail:   make(map[string]error),
	}
}

// FailOp makes every subsequent call of op return err; nil clears it.
func (c *memCache) FailOp(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, op)
		return
	}
	c.fail[op] = err
}

func (c *memCache) Ops(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ops[op]
}

func (c *memCache) TotalOps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.ops {
		n += v
	}
	return n
}

func (c *memCache) HasKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	_, okV := c.vals[key]
	_, okL := c.locks[key]
	return okV || okL
}

func (c *memCache) sweepLocked() {
	now := time.Now()
	for k, dl := range c.expiry {
		if !dl.IsZero() && now.After(dl) {
			delete(c.expiry, k)
			delete(c.vals, k)
			delete(c.locks, k)
		}
	}
}

func (c *memCache) begin(op string) error {
	c.ops[op]++
	c.sweepLocked()
	return c.fail[op]
}

func (c *memCache) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("IncrBy"); err != nil {
		return 0, err
	}
	c.vals[key] += n
	return c.vals[key], nil
}

func (c *memCache) Get(ctx context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("Get"); err != nil {
		return 0, false, err
	}
	v, ok := c.vals[key]
	return v, ok, nil
}

func (c *memCache) RaiseFloor(ctx context.Context, key string, floor int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("RaiseFloor"); err != nil {
		return err
	}
	if v, ok := c.vals[key]; !ok || v < floor {
		c.vals[key] = floor
	}
	return nil
}

func (c *memCache) ReconcileIncr(ctx context.Context, key string, floor, n int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("ReconcileIncr"); err != nil {
		return 0, err
	}
	if v, ok := c.vals[key]; !ok || v < floor {
		c.vals[key] = floor
	}
	c.vals[key] += n
	return c.vals[key], nil
}

func (c *memCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("Del"); err != nil {
		return err
	}
	for _, k := range keys {
		delete(c.vals, k)
		delete(c.locks, k)
		delete(c.expiry, k)
	}
	return nil
}

func (c *memCache) PExpire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("PExpire"); err != nil {
		return err
	}
	if _, ok := c.vals[key]; ok {
		c.expiry[key] = time.Now().Add(ttl)
	}
	return nil
}

func (c *memCache) Persist(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("Persist"); err != nil {
		return err
	}
	if _, ok := c.vals[key]; ok {
		delete(c.expiry, key)
	}
	return nil
}

func (c *memCache) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("SetNX"); err != nil {
		return false, err
	}
	if _, held := c.locks[key]; held {
		return false, nil
	}
	c.locks[key] = val
	if ttl > 0 {
		c.expiry[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (c *memCache) ReleaseToken(ctx context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("ReleaseToken"); err != nil {
		return err
	}
	if c.locks[key] == token {
		delete(c.locks, key)
		delete(c.expiry, key)
	}
	return nil
}

type memStore struct {
	mu     sync.Mutex
	rows   map[string]int64 // tenant|conv -> last_seq
	msgMax map[string]int64 // tenant|conv -> highest persisted message seq
	ops    map[string]int
	fail   map[string]error
}

func NewMemStore() *memStore {
	return &memStore{
		rows:   make(map[string]int64),
		msgMax: make(map[string]int64),
		ops:    make(map[string]int),
		fail:   make(map[string]error),
	}
}

func storeKey(tenantID, conversationID string) string { return tenantID + "|" + conversationID }

func (s *memStore) FailOp(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *memStore) Ops(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops[op]
}

func (s *memStore) TotalOps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.ops {
		n += v
	}
	return n
}

// SeedRow plants a counter row, SeedMsgMax plants persisted-message history
// without a counter row. Test setup only.
func (s *memStore) SeedRow(tenantID, conversationID string, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[storeKey(tenantID, conversationID)] = v
}

func (s *memStore) SeedMsgMax(tenantID, conversationID string, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgMax[storeKey(tenantID, conversationID)] = v
}

func (s *memStore) IncrBy(ctx context.Context, tenantID, conversationID string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops["IncrBy"]++
	if err := s.fail["IncrBy"]; err != nil {
		return 0, err
	}
	k := storeKey(tenantID, conversationID)
	s.rows[k] += n
	return s.rows[k], nil
}

func (s *memStore) Get(ctx context.Context, tenantID, conversationID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops["Get"]++
	if err := s.fail["Get"]; err != nil {
		return 0, false, err
	}
	v, ok := s.rows[storeKey(tenantID, conversationID)]
	return v, ok, nil
}

func (s *memStore) RaiseFloor(ctx context.Context, tenantID, conversationID string, floor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops["RaiseFloor"]++
	if err := s.fail["RaiseFloor"]; err != nil {
		return err
	}
	k := storeKey(tenantID, conversationID)
	if v, ok := s.rows[k]; !ok || v < floor {
		s.rows[k] = floor
	}
	return nil
}

func (s *memStore) MaxMessageSeq(ctx context.Context, tenantID, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops["MaxMessageSeq"]++
	if err := s.fail["MaxMessageSeq"]; err != nil {
		return 0, err
	}
	return s.msgMax[storeKey(tenantID, conversationID)], nil
}

func (s *memStore) Reset(ctx context.Context, tenantID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops["Reset"]++
	if err := s.fail["Reset"]; err != nil {
		return err
	}
	s.rows[storeKey(tenantID, conversationID)] = 0
	return nil
}
