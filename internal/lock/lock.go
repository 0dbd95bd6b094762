// Package lock serializes work per key, in process or across replicas through Redis.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleetops/internal/fleeterr"
)

// Locker hands out exclusive per-key locks. The returned unlock func is idempotent.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Local is an in-process Locker. Entries are dropped once nobody holds or waits on them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: map[string]*entry{}}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, fleeterr.Transient("lock "+key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// held reports how many keys are tracked; used by tests.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Redis is a Locker backed by SET NX with a random token. A holder that outlives TTL
// loses the lock, so TTL must exceed the longest critical section.
type Redis struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Retry  time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{Client: client, Prefix: "fleetops:lock:", TTL: ttl, Retry: 25 * time.Millisecond}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if r.Client == nil {
		return nil, errors.New("redis client not initialized")
	}
	if r.TTL <= 0 {
		return nil, errors.New("ttl must be > 0")
	}
	k := r.Prefix + key
	token := uuid.NewString()
	for {
		ok, err := r.Client.SetNX(ctx, k, token, r.TTL).Result()
		if err != nil {
			return nil, fleeterr.Transient("lock "+key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fleeterr.Transient("lock "+key, ctx.Err())
		case <-time.After(r.Retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release even if the caller's context is already cancelled
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.Client.Eval(relCtx, releaseScript, []string{k}, token).Err(); err != nil {
				log.WithError(err).WithField("key", k).Warn("Failed to release lock")
			}
		})
	}, nil
}
