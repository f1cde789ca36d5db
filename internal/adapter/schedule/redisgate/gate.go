package redisgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bnema/altq/internal/port"
)

const (
	DefaultKey = "altq:next-tick"

	// A reservation outlives its due time by this much so a dead holder
	// cannot block other processes for long.
	defaultGrace = time.Minute
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Gate stores the single next wake-up in a Redis key owned by one process.
type Gate struct {
	rdb   *redis.Client
	key   string
	owner string
	grace time.Duration
}

func New(rdb *redis.Client, key string) *Gate {
	if key == "" {
		key = DefaultKey
	}
	return &Gate{
		rdb:   rdb,
		key:   key,
		owner: uuid.NewString(),
		grace: defaultGrace,
	}
}

func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (g *Gate) Reserve(ctx context.Context, due time.Time, replace bool) (bool, error) {
	expireAt := due.Add(g.grace)

	if replace {
		if err := g.rdb.SetArgs(ctx, g.key, g.owner, redis.SetArgs{ExpireAt: expireAt}).Err(); err != nil {
			return false, fmt.Errorf("replace tick reservation: %w", err)
		}
		return true, nil
	}

	err := g.rdb.SetArgs(ctx, g.key, g.owner, redis.SetArgs{Mode: "NX", ExpireAt: expireAt}).Err()
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("reserve tick: %w", err)
	}

	holder, err := g.rdb.Get(ctx, g.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between the two calls.
			return g.Reserve(ctx, due, false)
		}
		return false, fmt.Errorf("read tick reservation: %w", err)
	}
	return holder == g.owner, nil
}

func (g *Gate) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, g.rdb, []string{g.key}, g.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release tick reservation: %w", err)
	}
	return nil
}

var _ port.TickGate = (*Gate)(nil)
