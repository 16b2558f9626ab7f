package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	admissionService "github.com/Avi18971911/Loom/internal/admission/service"
	bufferService "github.com/Avi18971911/Loom/internal/buffer/service"
	"github.com/Avi18971911/Loom/internal/config"
	redisClient "github.com/Avi18971911/Loom/internal/db/redis/client"
	decodeService "github.com/Avi18971911/Loom/internal/pipeline/decode/service"
	flushService "github.com/Avi18971911/Loom/internal/pipeline/flush/service"
	orchestratorService "github.com/Avi18971911/Loom/internal/pipeline/orchestrator/service"
	"github.com/Avi18971911/Loom/internal/server/router"
	"github.com/Avi18971911/Loom/internal/stats"
	"github.com/IBM/sarama"
	"github.com/asaskevich/EventBus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Default()
	cfg.BindFlags(pflag.CommandLine)
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buffer := newSpanBuffer(ctx, cfg, logger)
	decoder := decodeService.NewSpanDecoder(newAdmissionPolicy(cfg, logger), logger)

	emitter := flushService.NewKafkaSegmentEmitter(
		newSyncProducer(cfg, logger),
		cfg.OutputTopic,
		logger,
	)
	defer emitter.Close()

	eventBus := EventBus.New()
	statsCollector := stats.NewFlushStatsCollector(eventBus, logger)
	if err := statsCollector.Start(); err != nil {
		logger.Fatal("Failed to start flush stats collector", zap.Error(err))
	}
	flusher := flushService.NewFlusher(
		buffer,
		emitter,
		eventBus,
		cfg.EmissionMaxElapsedTime,
		logger,
	)

	handler := orchestratorService.NewSpanConsumerGroupHandler(
		buffer,
		flusher,
		decoder,
		orchestratorService.PipelineSettings{
			MaxBatchSize:           cfg.MaxBatchSize,
			MaxBatchWait:           cfg.MaxBatchWait,
			DecodeWorkerCount:      cfg.DecodeWorkerCount,
			DecodeInputBufferSize:  cfg.DecodeInputBufferSize,
			DecodeOutputBufferSize: cfg.DecodeOutputBufferSize,
			MessageBufferSize:      cfg.MessageBufferSize,
			FlushInterval:          cfg.FlushInterval,
			DefaultShard:           cfg.DefaultShard,
		},
		logger,
	)

	group, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, cfg.ConsumerGroup, newConsumerConfig())
	if err != nil {
		logger.Fatal("Failed to create consumer group", zap.Error(err))
	}
	defer group.Close()

	go func() {
		r := router.CreateRouter(buffer, statsCollector, logger)
		logger.Info("Starting operational server", zap.String("address", cfg.HTTPListenAddress))
		if err := http.ListenAndServe(cfg.HTTPListenAddress, r); err != nil {
			logger.Error("Failed to serve operational endpoints", zap.Error(err))
		}
	}()

	runner := orchestratorService.NewConsumerRunner(group, handler, []string{cfg.InputTopic}, logger)
	logger.Info("Starting span buffer consumer",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("inputTopic", cfg.InputTopic),
		zap.String("outputTopic", cfg.OutputTopic),
		zap.String("backend", cfg.BufferBackend),
	)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("Failed to run consumer", zap.Error(err))
	}
	logger.Info("Span buffer consumer stopped")
}

func newSpanBuffer(ctx context.Context, cfg *config.Config, logger *zap.Logger) bufferService.SpanBuffer {
	var rc redisClient.RedisClient
	backend := bufferService.Backend(cfg.BufferBackend)
	if backend == bufferService.BackendRedis {
		if len(cfg.RedisAddresses) == 0 {
			logger.Fatal("Redis backend requires at least one redis address")
		}
		if cfg.RedisCluster {
			rc = redisClient.NewRedisClusterClientImpl(redis.NewClusterClient(&redis.ClusterOptions{
				Addrs: cfg.RedisAddresses,
			}))
		} else {
			rc = redisClient.NewRedisClientImpl(redis.NewClient(&redis.Options{
				Addr: cfg.RedisAddresses[0],
			}))
		}
		if err := rc.Ping(ctx); err != nil {
			logger.Fatal("Failed to ping redis", zap.Error(err))
		}
	}
	buffer, err := bufferService.NewSpanBuffer(ctx, backend, rc, cfg.LeaseTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to create span buffer", zap.Error(err))
	}
	return buffer
}

func newAdmissionPolicy(cfg *config.Config, logger *zap.Logger) admissionService.AdmissionPolicy {
	entries, err := admissionService.ParseDenyEntries(cfg.DenyEntries)
	if err != nil {
		logger.Fatal("Failed to parse deny entries", zap.Error(err))
	}
	policy, err := admissionService.NewCachedAdmissionPolicy(admissionService.NewDenyListPolicy(entries))
	if err != nil {
		logger.Fatal("Failed to create admission policy", zap.Error(err))
	}
	return policy
}

func newSyncProducer(cfg *config.Config, logger *zap.Logger) sarama.SyncProducer {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_1_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, saramaConfig)
	if err != nil {
		logger.Fatal("Failed to create segment producer", zap.Error(err))
	}
	return producer
}

func newConsumerConfig() *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_1_0_0
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	// progress is committed explicitly once a batch is durably buffered
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = false
	return saramaConfig
}
