package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"brainfuel-session/internal/app"
	"brainfuel-session/internal/domain"
)

// RoomCache wraps a RoomService and caches room metadata with a TTL, so
// lobby refreshes and reconnect rejoins do not hammer the Room Service.
// Mutating calls pass through and drop the cached entry, since they change
// room state server-side.
type RoomCache struct {
	inner app.RoomService
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedRoom
}

type cachedRoom struct {
	room      domain.Room
	expiresAt time.Time
}

func NewRoomCache(inner app.RoomService, ttl time.Duration) *RoomCache {
	return &RoomCache{
		inner: inner,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedRoom),
	}
}

func (c *RoomCache) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[code]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.room, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(code, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[code]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.room, nil
		}
		c.mu.RUnlock()

		room, err := c.inner.GetRoom(ctx, code)
		if err != nil {
			return domain.Room{}, err
		}

		c.mu.Lock()
		c.cache[code] = cachedRoom{
			room:      room,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return room, nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return result.(domain.Room), nil
}

func (c *RoomCache) JoinRoom(ctx context.Context, code string, asSpectator bool) error {
	c.invalidate(code)
	return c.inner.JoinRoom(ctx, code, asSpectator)
}

func (c *RoomCache) StartMatch(ctx context.Context, code string) error {
	c.invalidate(code)
	return c.inner.StartMatch(ctx, code)
}

func (c *RoomCache) Rematch(ctx context.Context, code string) error {
	c.invalidate(code)
	return c.inner.Rematch(ctx, code)
}

func (c *RoomCache) invalidate(code string) {
	c.mu.Lock()
	delete(c.cache, code)
	c.mu.Unlock()
}

func (c *RoomCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
