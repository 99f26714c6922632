package seq

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/fightlightdiamond/chemchat/logger"
	"github.com/fightlightdiamond/chemchat/tools/errs"
)

// The fallback-path lock: one conversation, one short-lived key. Everything
// on the fast path runs lock-free; only durable increments are serialized.
type LockOptions struct {
	TTL        time.Duration // hard backstop if a holder crashes
	Retries    int
	RetryDelay time.Duration
}

func (o *LockOptions) ensure() {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
}

type Lock struct {
	cache Cache
	key   string
	token string
}

func randToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// acquireLock tries SETNX up to o.Retries times as a plain bounded loop.
// Exhaustion is fatal to the caller; the whole operation is safe to retry.
func acquireLock(ctx context.Context, cache Cache, key string, o LockOptions) (*Lock, error) {
	o.ensure()
	token := randToken(16)

	var lastErr error
	for i := 0; i < o.Retries; i++ {
		if i > 0 {
			timer := time.NewTimer(o.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, errs.Wrap(ctx.Err())
			case <-timer.C:
			}
		}
		ok, err := cache.SetNX(ctx, key, token, o.TTL)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return &Lock{cache: cache, key: key, token: token}, nil
		}
	}
	if lastErr != nil {
		return nil, errs.ErrSeqLockExhausted.WrapMsg("lock attempts failed", "key", key, "lastErr", lastErr)
	}
	return nil, errs.ErrSeqLockExhausted.WrapMsg("conversation busy", "key", key, "attempts", o.Retries)
}

// Release runs on every exit path of the locked section. A failed release is
// logged only; the TTL expires the key regardless.
func (l *Lock) Release(ctx context.Context) {
	if err := l.cache.ReleaseToken(ctx, l.key, l.token); err != nil {
		logger.Warnf("seq lock release failed, ttl will expire it: key=%s err=%v", l.key, err)
	}
}
