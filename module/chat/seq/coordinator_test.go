package seq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	cerrs "github.com/fightlightdiamond/chemchat/tools/errs"
)

func errsIs(err error, code int) bool {
	var ce *cerrs.CodeError
	return errors.As(err, &ce) && ce.Code == code
}

const (
	testTenant = "t1"
	testConv   = "grp:42"
)

func testOptions() Options {
	return Options{
		Lock: LockOptions{
			TTL:        time.Second,
			Retries:    100,
			RetryDelay: time.Millisecond,
		},
	}
}

func newTestCoordinator() (*Coordinator, *memCache, *memStore) {
	cache := NewMemCache()
	store := NewMemStore()
	return New(cache, store, testOptions()), cache, store
}

func TestNextSequential(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator()

	for want := int64(1); want <= 50; want++ {
		got, err := c.Next(ctx, testTenant, testConv)
		if err != nil {
			t.Fatalf("Next #%d failed: %v", want, err)
		}
		if got != want {
			t.Fatalf("Next #%d = %d, want %d", want, got, want)
		}
	}
}

func TestNextIsolatesConversations(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator()

	if _, err := c.Next(ctx, testTenant, "conv-a"); err != nil {
		t.Fatalf("Next conv-a: %v", err)
	}
	got, err := c.Next(ctx, testTenant, "conv-b")
	if err != nil {
		t.Fatalf("Next conv-b: %v", err)
	}
	if got != 1 {
		t.Fatalf("conv-b first seq = %d, want 1 (no cross-conversation state)", got)
	}
}

func TestNextBatchThenNext(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator()

	rng, err := c.NextBatch(ctx, testTenant, testConv, 10)
	if err != nil {
		t.Fatalf("NextBatch failed: %v", err)
	}
	if rng.End-rng.Start+1 != 10 {
		t.Fatalf("batch length = %d, want 10 (range %+v)", rng.End-rng.Start+1, rng)
	}
	if rng.Start != 1 {
		t.Fatalf("first batch start = %d, want 1", rng.Start)
	}

	next, err := c.Next(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("Next after batch failed: %v", err)
	}
	if next != rng.End+1 {
		t.Fatalf("Next after batch = %d, want %d", next, rng.End+1)
	}
}

func TestNextBatchValidationNoIO(t *testing.T) {
	ctx := context.Background()
	c, cache, store := newTestCoordinator()

	for _, count := range []int64{0, -1} {
		if _, err := c.NextBatch(ctx, testTenant, testConv, count); err == nil {
			t.Fatalf("NextBatch(%d) succeeded, want validation error", count)
		}
	}
	if n := cache.TotalOps(); n != 0 {
		t.Fatalf("cache saw %d ops during validation failures, want 0", n)
	}
	if n := store.TotalOps(); n != 0 {
		t.Fatalf("store saw %d ops during validation failures, want 0", n)
	}
}

func TestCurrentSurvivesCacheOutage(t *testing.T) {
	ctx := context.Background()
	c, cache, _ := newTestCoordinator()

	issued, err := c.Next(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	cache.FailOp("Get", errors.New("connection refused"))

	got, err := c.Current(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("Current during cache outage failed: %v", err)
	}
	if got != issued {
		t.Fatalf("Current = %d, want last issued %d (regression)", got, issued)
	}
}

func TestCurrentNeverCreatesState(t *testing.T) {
	ctx := context.Background()
	c, cache, store := newTestCoordinator()

	got, err := c.Current(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("Current on empty conversation failed: %v", err)
	}
	if got != 0 {
		t.Fatalf("Current on empty conversation = %d, want 0", got)
	}
	if cache.HasKey(c.seqKey(testTenant, testConv)) {
		t.Fatal("Current created a cache key")
	}
	if n := store.Ops("IncrBy") + store.Ops("RaiseFloor") + store.Ops("Reset"); n != 0 {
		t.Fatalf("Current performed %d store writes, want 0", n)
	}
}

func TestResetThenNext(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator()

	for i := 0; i < 7; i++ {
		if _, err := c.Next(ctx, testTenant, testConv); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	if err := c.Reset(ctx, testTenant, testConv); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	got, err := c.Next(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("Next after reset failed: %v", err)
	}
	if got != 1 {
		t.Fatalf("Next after reset = %d, want 1", got)
	}
}

func TestResetCacheClearFailureNotFatal(t *testing.T) {
	ctx := context.Background()
	c, cache, store := newTestCoordinator()

	if _, err := c.Next(ctx, testTenant, testConv); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	cache.FailOp("Del", errors.New("timeout"))

	if err := c.Reset(ctx, testTenant, testConv); err != nil {
		t.Fatalf("Reset should not propagate cache clear failure: %v", err)
	}
	if v, ok, _ := store.Get(ctx, testTenant, testConv); !ok || v != 0 {
		t.Fatalf("durable counter after reset = %d (exists=%v), want 0", v, ok)
	}
}

func TestFallbackConcurrentDistinct(t *testing.T) {
	ctx := context.Background()
	c, cache, _ := newTestCoordinator()

	// Fast path down for everyone: all K callers funnel through the lock.
	cache.FailOp("IncrBy", errors.New("redis down"))

	const K = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		got  = make(map[int64]bool)
		errs []error
	)
	for i := 0; i < K; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Next(ctx, testTenant, testConv)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			got[v] = true
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("fallback Next errors: %v", errs)
	}
	if len(got) != K {
		t.Fatalf("got %d distinct values, want %d: %v", len(got), K, got)
	}
	for v := int64(1); v <= K; v++ {
		if !got[v] {
			t.Fatalf("value %d missing from fallback issuance %v", v, got)
		}
	}
}

func TestBootstrapNeverReissuesDurable(t *testing.T) {
	ctx := context.Background()

	t.Run("counter row present", func(t *testing.T) {
		c, _, store := newTestCoordinator()
		store.SeedRow(testTenant, testConv, 120)

		got, err := c.Next(ctx, testTenant, testConv)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got <= 120 {
			t.Fatalf("cold-cache Next = %d, must be > durable 120", got)
		}
	})

	t.Run("messages only, no counter row", func(t *testing.T) {
		c, _, store := newTestCoordinator()
		store.SeedMsgMax(testTenant, testConv, 64)

		got, err := c.Next(ctx, testTenant, testConv)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got <= 64 {
			t.Fatalf("cold-cache Next = %d, must be > persisted max 64", got)
		}
	})
}

func TestBootstrapBatchReconciles(t *testing.T) {
	ctx := context.Background()
	c, _, store := newTestCoordinator()
	store.SeedRow(testTenant, testConv, 30)

	rng, err := c.NextBatch(ctx, testTenant, testConv, 5)
	if err != nil {
		t.Fatalf("NextBatch failed: %v", err)
	}
	if rng.Start <= 30 {
		t.Fatalf("batch start = %d, must be > durable 30", rng.Start)
	}
	if rng.End-rng.Start+1 != 5 {
		t.Fatalf("batch length = %d, want 5", rng.End-rng.Start+1)
	}
}

func TestBootstrapKeepsFastValueWhenDurableBehind(t *testing.T) {
	ctx := context.Background()
	c, cache, _ := newTestCoordinator()

	got, err := c.Next(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got != 1 {
		t.Fatalf("first Next = %d, want 1 (durable was behind, fast value stands)", got)
	}
	if n := cache.Ops("ReconcileIncr"); n != 0 {
		t.Fatalf("ReconcileIncr ran %d times with durable behind, want 0", n)
	}
}

func TestFallbackMirrorsBackAndResumesFastPath(t *testing.T) {
	ctx := context.Background()
	c, cache, _ := newTestCoordinator()

	cache.FailOp("IncrBy", errors.New("redis down"))
	first, err := c.Next(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("fallback Next failed: %v", err)
	}
	cache.FailOp("IncrBy", nil)

	second, err := c.Next(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("fast Next after recovery failed: %v", err)
	}
	if second != first+1 {
		t.Fatalf("Next after mirror-back = %d, want %d", second, first+1)
	}
	// Mirror-back means the fast path resumed without another durable write.
	if n := cache.Ops("ReconcileIncr"); n != 0 {
		t.Fatalf("fast path re-bootstrapped after mirror-back (%d reconciles)", n)
	}
}

func TestMirrorBackFailureDoesNotAffectResult(t *testing.T) {
	ctx := context.Background()
	c, cache, store := newTestCoordinator()

	cache.FailOp("IncrBy", errors.New("redis down"))
	cache.FailOp("RaiseFloor", errors.New("still down"))

	res, err := c.alloc(ctx, testTenant, testConv, 1)
	if err != nil {
		t.Fatalf("fallback Next with failed mirror-back errored: %v", err)
	}
	if res.Range.End != 1 {
		t.Fatalf("primary result = %d, want 1", res.Range.End)
	}
	if res.Mirrored {
		t.Fatal("Mirrored = true although the cache write failed")
	}
	if v, ok, _ := store.Get(ctx, testTenant, testConv); !ok || v != 1 {
		t.Fatalf("durable counter = %d (exists=%v), want 1", v, ok)
	}
}

func TestLockReleasedWhenDurableIncrementFails(t *testing.T) {
	ctx := context.Background()
	c, cache, store := newTestCoordinator()

	cache.FailOp("IncrBy", errors.New("redis down"))
	store.FailOp("IncrBy", errors.New("pg down"))

	if _, err := c.Next(ctx, testTenant, testConv); err == nil {
		t.Fatal("Next succeeded although both stores were down")
	}
	if cache.HasKey(c.lockKey(testTenant, testConv)) {
		t.Fatal("fallback lock still held after durable failure")
	}
}

func TestDurableFailureIsTyped(t *testing.T) {
	ctx := context.Background()
	c, cache, store := newTestCoordinator()

	cache.FailOp("IncrBy", errors.New("redis down"))
	store.FailOp("IncrBy", errors.New("pg down"))

	_, err := c.Next(ctx, testTenant, testConv)
	if err == nil {
		t.Fatal("want durable store error")
	}
	if !errsIs(err, 3002) {
		t.Fatalf("error %v does not carry the durable store code", err)
	}
}

func TestProcessFirstUseTrigger(t *testing.T) {
	ctx := context.Background()
	cache := NewMemCache()
	store := NewMemStore()
	opts := testOptions()
	opts.Bootstrap = TriggerProcessFirstUse
	c := New(cache, store, opts)

	// Cache already warm (another process advanced it), durable ahead of a
	// hypothetical restart: this process must still reconcile its first call.
	cache.vals[c.seqKey(testTenant, testConv)] = 3
	store.SeedRow(testTenant, testConv, 40)

	got, err := c.Next(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got <= 40 {
		t.Fatalf("first-use Next = %d, must be > durable 40", got)
	}

	if n := store.Ops("Get"); n == 0 {
		t.Fatal("first-use trigger performed no durable read")
	}
	before := store.Ops("Get")
	if _, err := c.Next(ctx, testTenant, testConv); err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if store.Ops("Get") != before {
		t.Fatal("second call reconciled again; first-use guard not sticky")
	}
}

func TestCounterTTLNeverReissues(t *testing.T) {
	ctx := context.Background()
	cache := NewMemCache()
	store := NewMemStore()
	opts := testOptions()
	opts.CounterTTL = 20 * time.Millisecond
	c := New(cache, store, opts)

	issued := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		got, err := c.Next(ctx, testTenant, testConv)
		if err != nil {
			t.Fatalf("Next #%d failed: %v", i+1, err)
		}
		issued[got] = true
	}

	// Let the counter key expire, then allocate again: the re-created key
	// must bootstrap on top of everything already handed out.
	time.Sleep(40 * time.Millisecond)
	got, err := c.Next(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("Next after expiry failed: %v", err)
	}
	if issued[got] {
		t.Fatalf("sequence %d re-issued after counter expiry (already issued: %v)", got, issued)
	}
	if got != 6 {
		t.Fatalf("Next after expiry = %d, want 6", got)
	}
}

func TestCounterTTLAnchorFailureDropsExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemCache()
	store := NewMemStore()
	opts := testOptions()
	opts.CounterTTL = 20 * time.Millisecond
	c := New(cache, store, opts)

	if _, err := c.Next(ctx, testTenant, testConv); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}

	// Durable floor writes start failing: the key must stop expiring, or it
	// would vanish holding numbers the durable side never saw.
	store.FailOp("RaiseFloor", errors.New("pg down"))
	if _, err := c.Next(ctx, testTenant, testConv); err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if cache.Ops("Persist") == 0 {
		t.Fatal("anchor failure did not remove the counter expiry")
	}

	time.Sleep(40 * time.Millisecond)
	got, err := c.Next(ctx, testTenant, testConv)
	if err != nil {
		t.Fatalf("Next after anchor outage failed: %v", err)
	}
	if got != 3 {
		t.Fatalf("Next after anchor outage = %d, want 3 (key must have survived)", got)
	}
}

func TestDurableFailureCarriesCause(t *testing.T) {
	ctx := context.Background()
	c, cache, store := newTestCoordinator()

	cache.FailOp("IncrBy", errors.New("redis down"))
	store.FailOp("Get", errors.New("socket reset by peer"))

	_, err := c.Next(ctx, testTenant, testConv)
	if err == nil {
		t.Fatal("want durable store error")
	}
	if !errsIs(err, 3002) {
		t.Fatalf("error %v does not carry the durable store code", err)
	}
	if !strings.Contains(err.Error(), "socket reset by peer") {
		t.Fatalf("error %q lost the underlying store cause", err.Error())
	}
}
