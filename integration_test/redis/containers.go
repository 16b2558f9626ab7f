package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const Port = "6379"

func startRedisContainer(
	ctx context.Context,
	logger *zap.Logger,
) (
	redisAddress string,
	stopContainer func(),
	err error,
) {
	childCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	newNetwork, err := network.New(childCtx)
	if err != nil {
		logger.Fatal("Error while creating network", zap.Error(err))
	}
	networkName := newNetwork.Name
	logger.Info("Network Name", zap.String("networkName", networkName))

	req := testcontainers.ContainerRequest{
		Image:        "redis:7.2",
		ExposedPorts: []string{fmt.Sprintf("%s/tcp", Port)},
		WaitingFor:   wait.ForListeningPort(Port),
		Networks:     []string{networkName},
	}

	redisContainer, err := testcontainers.GenericContainer(childCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})

	if err != nil {
		return "", nil, fmt.Errorf("failed to start container: %w", err)
	}

	stopContainer = func() {
		redisContainer.Terminate(childCtx)
	}

	// Get the container IP
	host, err := redisContainer.Host(childCtx)
	if err != nil {
		stopContainer()
		return "", nil, fmt.Errorf("failed to get container host: %w", err)
	}

	// Get the mapped port
	p, err := redisContainer.MappedPort(childCtx, Port)
	if err != nil {
		stopContainer()
		return "", nil, fmt.Errorf("failed to get container port: %w", err)
	}

	redisAddress = fmt.Sprintf("%s:%s", host, p.Port())
	logger.Info("Redis address", zap.String("redisAddress", redisAddress))
	return redisAddress, stopContainer, nil
}
