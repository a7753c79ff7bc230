package client

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/rosctl/internal/protocol/session"
	"github.com/jellydator/ttlcache/v3"
)

// Pool keeps at most one idle authenticated session per key. Sessions that
// sit idle past the TTL are closed.
type Pool struct {
	cache     *ttlcache.Cache[string, *session.Session]
	closeOnce sync.Once
}

func NewPool(idle time.Duration) *Pool {
	cache := ttlcache.New[string, *session.Session](
		ttlcache.WithTTL[string, *session.Session](idle),
		ttlcache.WithDisableTouchOnHit[string, *session.Session](),
	)
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *session.Session]) {
		// Deleted items were handed back to a caller by Acquire.
		if reason != ttlcache.EvictionReasonDeleted {
			_ = item.Value().Close()
		}
	})
	go cache.Start()
	return &Pool{cache: cache}
}

// Acquire takes the idle session for key, if one is still usable.
func (p *Pool) Acquire(key string) (*session.Session, bool) {
	item, ok := p.cache.GetAndDelete(key)
	if !ok {
		return nil, false
	}
	s := item.Value()
	if s.State() != session.StateAuthenticated {
		_ = s.Close()
		return nil, false
	}
	return s, true
}

// Release parks s for reuse. Unusable sessions, and sessions displaced by a
// newer one, are closed.
func (p *Pool) Release(key string, s *session.Session) {
	if s.State() != session.StateAuthenticated {
		_ = s.Close()
		return
	}
	if old, ok := p.cache.GetAndDelete(key); ok && old.Value() != s {
		_ = old.Value().Close()
	}
	p.cache.Set(key, s, ttlcache.DefaultTTL)
}

func (p *Pool) Len() int {
	return p.cache.Len()
}

// Close stops expiry and closes every idle session.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.cache.Stop()
		for _, item := range p.cache.Items() {
			_ = item.Value().Close()
		}
		p.cache.DeleteAll()
	})
}
