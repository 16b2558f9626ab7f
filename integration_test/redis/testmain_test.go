package redis

import (
	"context"
	"os"
	"testing"

	"github.com/Avi18971911/Loom/internal/db/redis/client"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var rawClient *goredis.Client
var redisClient client.RedisClient
var logger, _ = zap.NewDevelopment()

func TestMain(m *testing.M) {
	ctx := context.Background()
	redisAddress, cleanup, err := startRedisContainer(ctx, logger)
	defer cleanup()
	if err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	rawClient = goredis.NewClient(&goredis.Options{Addr: redisAddress})
	redisClient = client.NewRedisClientImpl(rawClient)
	if err := redisClient.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping redis", zap.Error(err))
	}
	code := m.Run()
	os.Exit(code)
}
