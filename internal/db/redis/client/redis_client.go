package client

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type RedisClient interface {
	// Ping checks that the server is reachable
	// https://redis.io/docs/latest/commands/ping/
	Ping(ctx context.Context) error
	// ScriptLoad loads a Lua script into the script cache and returns its SHA1 digest
	// https://redis.io/docs/latest/commands/script-load/
	ScriptLoad(ctx context.Context, script string) (string, error)
	// EvalSHA executes a previously loaded Lua script by its SHA1 digest
	// https://redis.io/docs/latest/commands/evalsha/
	EvalSHA(ctx context.Context, sha string, keys []string, args []interface{}) (interface{}, error)
	// Get retrieves a string value, returning redis.Nil through IsNotFound when the key is absent
	// https://redis.io/docs/latest/commands/get/
	Get(ctx context.Context, key string) (string, error)
	// ZCard returns the cardinality of a sorted set
	// https://redis.io/docs/latest/commands/zcard/
	ZCard(ctx context.Context, key string) (int64, error)
	Close() error
}

type RedisClientImpl struct {
	client *redis.Client
}

func NewRedisClientImpl(client *redis.Client) *RedisClientImpl {
	return &RedisClientImpl{client: client}
}

func (rc *RedisClientImpl) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisClientImpl) ScriptLoad(ctx context.Context, script string) (string, error) {
	return rc.client.ScriptLoad(ctx, script).Result()
}

func (rc *RedisClientImpl) EvalSHA(
	ctx context.Context,
	sha string,
	keys []string,
	args []interface{},
) (interface{}, error) {
	return rc.client.EvalSha(ctx, sha, keys, args...).Result()
}

func (rc *RedisClientImpl) Get(ctx context.Context, key string) (string, error) {
	return rc.client.Get(ctx, key).Result()
}

func (rc *RedisClientImpl) ZCard(ctx context.Context, key string) (int64, error) {
	return rc.client.ZCard(ctx, key).Result()
}

func (rc *RedisClientImpl) Close() error {
	return rc.client.Close()
}

type RedisClusterClientImpl struct {
	client *redis.ClusterClient
}

func NewRedisClusterClientImpl(client *redis.ClusterClient) *RedisClusterClientImpl {
	return &RedisClusterClientImpl{client: client}
}

func (rc *RedisClusterClientImpl) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisClusterClientImpl) ScriptLoad(ctx context.Context, script string) (string, error) {
	return rc.client.ScriptLoad(ctx, script).Result()
}

func (rc *RedisClusterClientImpl) EvalSHA(
	ctx context.Context,
	sha string,
	keys []string,
	args []interface{},
) (interface{}, error) {
	return rc.client.EvalSha(ctx, sha, keys, args...).Result()
}

func (rc *RedisClusterClientImpl) Get(ctx context.Context, key string) (string, error) {
	return rc.client.Get(ctx, key).Result()
}

func (rc *RedisClusterClientImpl) ZCard(ctx context.Context, key string) (int64, error) {
	return rc.client.ZCard(ctx, key).Result()
}

func (rc *RedisClusterClientImpl) Close() error {
	return rc.client.Close()
}

// IsNotFound reports whether err is the key-missing reply rather than a real failure.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
