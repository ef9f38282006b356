package mint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockPrefix = "mintwidget:mint:inflight:"
	defaultLockTTL  = 10 * time.Minute
)

// releaseScript deletes the lock only if it still carries our token, so an
// expired lock re-taken by another shell is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisGuardConfig struct {
	Addr string
	TTL  time.Duration
}

// RedisGuard shares the in-flight slot between shells using one account.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(ctx context.Context, cfg RedisGuardConfig) (*RedisGuard, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultLockTTL
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisGuard{client: client, ttl: cfg.TTL}, nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

func (g *RedisGuard) Acquire(ctx context.Context, account common.Address) (func(), error) {
	token, err := lockToken()
	if err != nil {
		return nil, err
	}
	key := redisLockPrefix + strings.ToLower(account.Hex())

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMintInFlight
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
			slog.Warn("mint lock release failed", "account", account.Hex(), "error", err)
		}
	}, nil
}

func lockToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
