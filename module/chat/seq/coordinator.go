package seq

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fightlightdiamond/chemchat/logger"
	"github.com/fightlightdiamond/chemchat/tools/errs"
)

// Per-call outcome tags. The fallback chain is a small state machine, not a
// nest of error handlers, so every path gets a name.
type outcome int

const (
	outcomeFastPathOk outcome = iota
	outcomeFastPathFailed
	outcomeLockAcquired
	outcomeLockExhausted
	outcomeDurableOk
	outcomeDurableFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeFastPathOk:
		return "FastPathOk"
	case outcomeFastPathFailed:
		return "FastPathFailed"
	case outcomeLockAcquired:
		return "LockAcquired"
	case outcomeLockExhausted:
		return "LockExhausted"
	case outcomeDurableOk:
		return "DurableOk"
	case outcomeDurableFailed:
		return "DurableFailed"
	}
	return "Unknown"
}

// BootstrapTrigger selects when a fast-path result is treated as a first
// touch that must be reconciled against the durable store. The counter
// source of truth is ambiguous on this, so it stays configurable.
type BootstrapTrigger int

const (
	// TriggerKeyCreated: the returned value equals the requested increment,
	// i.e. INCR created the key just now. The default.
	TriggerKeyCreated BootstrapTrigger = iota
	// TriggerProcessFirstUse: reconcile the first time this process touches a
	// conversation, whatever the counter returned.
	TriggerProcessFirstUse
)

type Options struct {
	KeyPrefix  string // counter keys, one per conversation
	LockPrefix string // distinct prefix over the same identifier
	// CounterTTL expires idle counter keys. 0 (the default) means no expiry.
	// When set, every issuance also raises the durable floor so an expired
	// key can never bootstrap below what was handed out.
	CounterTTL time.Duration
	Lock       LockOptions
	Bootstrap  BootstrapTrigger
}

func (o *Options) ensure() {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "chat:seq:"
	}
	if o.LockPrefix == "" {
		o.LockPrefix = "chat:seq:lock:"
	}
	o.Lock.ensure()
}

// SeqRange is an inclusive reserved range of sequence numbers.
type SeqRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Coordinator issues per-conversation sequence numbers: Redis INCR as the
// primary path, durable counter under a distributed lock as the fallback,
// first-touch reconciliation so the volatile side never falls behind. The
// struct itself is stateless apart from the first-use guard; instantiate one
// per process.
type Coordinator struct {
	cache Cache
	store Store
	opts  Options

	seen sync.Map // tenant|conv -> struct{}, TriggerProcessFirstUse only
}

func New(cache Cache, store Store, opts Options) *Coordinator {
	opts.ensure()
	return &Coordinator{cache: cache, store: store, opts: opts}
}

func (c *Coordinator) seqKey(tenantID, conversationID string) string {
	return c.opts.KeyPrefix + tenantID + ":" + conversationID
}

func (c *Coordinator) lockKey(tenantID, conversationID string) string {
	return c.opts.LockPrefix + tenantID + ":" + conversationID
}

// allocResult separates the primary result from the best-effort side effects
// so tests can assert a failed mirror-back leaves the issued range intact.
type allocResult struct {
	Range    SeqRange
	Outcome  outcome
	Mirrored bool // fallback value written back to the cache
}

// Next returns the next unused sequence number for the conversation.
func (c *Coordinator) Next(ctx context.Context, tenantID, conversationID string) (int64, error) {
	res, err := c.alloc(ctx, tenantID, conversationID, 1)
	if err != nil {
		return 0, err
	}
	return res.Range.End, nil
}

// NextBatch reserves an inclusive contiguous range of length count.
func (c *Coordinator) NextBatch(ctx context.Context, tenantID, conversationID string, count int64) (SeqRange, error) {
	if count <= 0 {
		return SeqRange{}, errs.ErrArgs.WrapMsg("batch count must be positive", "count", count)
	}
	res, err := c.alloc(ctx, tenantID, conversationID, count)
	if err != nil {
		return SeqRange{}, err
	}
	return res.Range, nil
}

func (c *Coordinator) alloc(ctx context.Context, tenantID, conversationID string, count int64) (allocResult, error) {
	key := c.seqKey(tenantID, conversationID)

	end, err := c.cache.IncrBy(ctx, key, count)
	if err != nil {
		// Never fatal here: the durable path takes over.
		logger.Warn("seq fast path failed, falling back",
			zap.String("outcome", outcomeFastPathFailed.String()),
			zap.String("conversation", conversationID), zap.Error(err))
		return c.allocDurable(ctx, tenantID, conversationID, count)
	}
	start := end - count + 1

	if c.isFirstTouch(tenantID, conversationID, start, count) {
		return c.bootstrap(ctx, tenantID, conversationID, key, start, end, count)
	}

	if c.opts.CounterTTL > 0 {
		// An expiring key must never run ahead of the durable floor, or the
		// re-created key would bootstrap stale-low and hand out numbers again.
		c.anchorCounter(ctx, tenantID, conversationID, key, end)
	}

	logger.Debug("seq issued", zap.String("outcome", outcomeFastPathOk.String()),
		zap.String("conversation", conversationID), zap.Int64("end", end))
	return allocResult{Range: SeqRange{Start: start, End: end}, Outcome: outcomeFastPathOk}, nil
}

func (c *Coordinator) isFirstTouch(tenantID, conversationID string, start, count int64) bool {
	switch c.opts.Bootstrap {
	case TriggerProcessFirstUse:
		_, seen := c.seen.LoadOrStore(tenantID+"|"+conversationID, struct{}{})
		return !seen
	default: // TriggerKeyCreated
		return start == 1 && count >= 1
	}
}

// bootstrap reconciles a freshly created counter key against the durable
// store before trusting it: a prior fallback episode may have advanced the
// durable side while this key was cold.
func (c *Coordinator) bootstrap(ctx context.Context, tenantID, conversationID, key string, start, end, count int64) (allocResult, error) {
	high, err := c.durableHigh(ctx, tenantID, conversationID)
	if err != nil {
		// Cannot validate the fresh key, so the fast value must not be used.
		// The locked durable path re-reads and decides.
		logger.Warn("seq bootstrap read failed, falling back",
			zap.String("conversation", conversationID), zap.Error(err))
		return c.allocDurable(ctx, tenantID, conversationID, count)
	}

	if high >= start {
		// Stale-low cache: jump it to the durable value and re-issue on top.
		newEnd, rerr := c.cache.ReconcileIncr(ctx, key, high, count)
		if rerr != nil {
			logger.Warn("seq reconcile failed, falling back",
				zap.String("conversation", conversationID), zap.Error(rerr))
			return c.allocDurable(ctx, tenantID, conversationID, count)
		}
		start, end = newEnd-count+1, newEnd
	}
	// Let the anchor learn what the fast path issued, so Current stays exact
	// across a cache outage right after first touch, and so an expiring key
	// never vanishes holding numbers the durable side has not seen.
	c.anchorCounter(ctx, tenantID, conversationID, key, end)

	logger.Debug("seq issued after bootstrap",
		zap.String("conversation", conversationID),
		zap.Int64("durableHigh", high), zap.Int64("end", end))
	return allocResult{Range: SeqRange{Start: start, End: end}, Outcome: outcomeFastPathOk}, nil
}

// durableHigh: counter row if present, else the highest persisted message
// seq, else 0.
func (c *Coordinator) durableHigh(ctx context.Context, tenantID, conversationID string) (int64, error) {
	cur, ok, err := c.store.Get(ctx, tenantID, conversationID)
	if err != nil {
		return 0, err
	}
	if ok {
		return cur, nil
	}
	return c.store.MaxMessageSeq(ctx, tenantID, conversationID)
}

// allocDurable is the fallback: serialize on the per-conversation lock,
// increment the durable counter, mirror back best-effort.
func (c *Coordinator) allocDurable(ctx context.Context, tenantID, conversationID string, count int64) (allocResult, error) {
	lock, err := acquireLock(ctx, c.cache, c.lockKey(tenantID, conversationID), c.opts.Lock)
	if err != nil {
		logger.Error("seq fallback lock exhausted",
			zap.String("outcome", outcomeLockExhausted.String()),
			zap.String("conversation", conversationID), zap.Error(err))
		return allocResult{Outcome: outcomeLockExhausted}, err
	}
	defer lock.Release(ctx)
	logger.Debug("seq fallback lock acquired",
		zap.String("outcome", outcomeLockAcquired.String()),
		zap.String("conversation", conversationID))

	var end int64
	_, ok, err := c.store.Get(ctx, tenantID, conversationID)
	if err != nil {
		return allocResult{Outcome: outcomeDurableFailed}, errs.ErrSeqStore.WrapMsg("counter read failed", "conversation", conversationID, "err", err)
	}
	if !ok {
		// No counter row yet: seed on top of already-persisted messages so a
		// pre-counter conversation can never be re-issued a used number.
		maxSeq, merr := c.store.MaxMessageSeq(ctx, tenantID, conversationID)
		if merr != nil {
			return allocResult{Outcome: outcomeDurableFailed}, errs.ErrSeqStore.WrapMsg("max message seq failed", "conversation", conversationID, "err", merr)
		}
		end, err = c.store.IncrBy(ctx, tenantID, conversationID, maxSeq+count)
	} else {
		end, err = c.store.IncrBy(ctx, tenantID, conversationID, count)
	}
	if err != nil {
		// Last line of defense, no further fallback.
		logger.Error("seq durable increment failed",
			zap.String("outcome", outcomeDurableFailed.String()),
			zap.String("conversation", conversationID), zap.Error(err))
		return allocResult{Outcome: outcomeDurableFailed}, errs.ErrSeqStore.WrapMsg("durable increment failed", "conversation", conversationID, "err", err)
	}

	res := allocResult{Range: SeqRange{Start: end - count + 1, End: end}, Outcome: outcomeDurableOk}

	// Mirror back so subsequent calls resume the fast path. Raise-only: a
	// live cache that is already ahead is left alone. Failure is logged, the
	// durable write is authoritative either way.
	key := c.seqKey(tenantID, conversationID)
	if merr := c.cache.RaiseFloor(ctx, key, end); merr != nil {
		logger.Warn("seq mirror-back failed, cache stays cold",
			zap.String("conversation", conversationID), zap.Error(merr))
	} else {
		res.Mirrored = true
		c.expireCounter(ctx, key)
	}

	logger.Debug("seq issued via fallback", zap.String("outcome", res.Outcome.String()),
		zap.String("conversation", conversationID), zap.Int64("end", end))
	return res, nil
}

// Current reads the last issued number without consuming one. Never creates
// state.
func (c *Coordinator) Current(ctx context.Context, tenantID, conversationID string) (int64, error) {
	v, ok, err := c.cache.Get(ctx, c.seqKey(tenantID, conversationID))
	if err == nil && ok {
		return v, nil
	}
	if err != nil {
		logger.Warn("seq current cache read failed, using durable",
			zap.String("conversation", conversationID), zap.Error(err))
	}
	high, derr := c.durableHigh(ctx, tenantID, conversationID)
	if derr != nil {
		return 0, errs.ErrSeqStore.WrapMsg("current read failed", "conversation", conversationID, "err", derr)
	}
	return high, nil
}

// Reset forces the durable counter to 0 and best-effort clears the cache
// key. Administrative/testing only.
func (c *Coordinator) Reset(ctx context.Context, tenantID, conversationID string) error {
	if err := c.store.Reset(ctx, tenantID, conversationID); err != nil {
		return errs.ErrSeqStore.WrapMsg("counter reset failed", "conversation", conversationID, "err", err)
	}
	if err := c.cache.Del(ctx, c.seqKey(tenantID, conversationID)); err != nil {
		// The durable reset is authoritative; the next first touch self-heals.
		logger.Warn("seq reset cache clear failed",
			zap.String("conversation", conversationID), zap.Error(err))
	}
	if c.opts.Bootstrap == TriggerProcessFirstUse {
		c.seen.Delete(tenantID + "|" + conversationID)
	}
	return nil
}

// anchorCounter raises the durable floor to the issued value, then applies
// or refreshes the counter expiry. A key may only carry a TTL while the
// durable side covers everything issued from it; when the floor write fails
// the expiry is removed instead, so the key cannot expire holding
// unanchored numbers. Without a TTL the floor raise stays best-effort and
// uniqueness never depends on it.
func (c *Coordinator) anchorCounter(ctx context.Context, tenantID, conversationID, key string, end int64) {
	if err := c.store.RaiseFloor(ctx, tenantID, conversationID, end); err != nil {
		logger.Warn("seq durable floor raise failed",
			zap.String("conversation", conversationID), zap.Error(err))
		if c.opts.CounterTTL > 0 {
			if perr := c.cache.Persist(ctx, key); perr != nil {
				logger.Warn("seq counter persist failed, expiry may linger",
					zap.String("conversation", conversationID), zap.Error(perr))
			}
		}
		return
	}
	c.expireCounter(ctx, key)
}

func (c *Coordinator) expireCounter(ctx context.Context, key string) {
	if c.opts.CounterTTL <= 0 {
		return
	}
	if err := c.cache.PExpire(ctx, key, c.opts.CounterTTL); err != nil {
		logger.Warnf("seq counter pexpire failed: key=%s err=%v", key, err)
	}
}
