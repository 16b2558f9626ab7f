package config

import (
	"time"

	"github.com/spf13/pflag"
)

const DefaultKafkaBrokers = "localhost:9092"
const DefaultInputTopic = "ingest-spans"
const DefaultOutputTopic = "buffered-segments"
const DefaultConsumerGroup = "loom-span-buffer"
const DefaultBufferBackend = "redis"
const DefaultRedisAddress = "localhost:6379"
const DefaultMaxBatchSize = 100
const DefaultMaxBatchWait = 1 * time.Second
const DefaultDecodeWorkerCount = 0
const DefaultDecodeBufferSize = 4
const DefaultMessageBufferSize = 1024
const DefaultFlushInterval = 1 * time.Second
const DefaultEmissionMaxElapsedTime = 30 * time.Second
const DefaultLeaseTimeout = 2 * time.Minute
const DefaultShard = 0
const DefaultHTTPListenAddress = ":8082"

// Config carries every knob the consumer binaries expose. Zero decode
// workers selects inline decode.
type Config struct {
	KafkaBrokers           []string
	InputTopic             string
	OutputTopic            string
	ConsumerGroup          string
	BufferBackend          string
	RedisAddresses         []string
	RedisCluster           bool
	MaxBatchSize           int
	MaxBatchWait           time.Duration
	DecodeWorkerCount      int
	DecodeInputBufferSize  int
	DecodeOutputBufferSize int
	MessageBufferSize      int
	FlushInterval          time.Duration
	EmissionMaxElapsedTime time.Duration
	LeaseTimeout           time.Duration
	DefaultShard           int32
	DenyEntries            []string
	HTTPListenAddress      string
}

func Default() *Config {
	return &Config{
		KafkaBrokers:           []string{DefaultKafkaBrokers},
		InputTopic:             DefaultInputTopic,
		OutputTopic:            DefaultOutputTopic,
		ConsumerGroup:          DefaultConsumerGroup,
		BufferBackend:          DefaultBufferBackend,
		RedisAddresses:         []string{DefaultRedisAddress},
		MaxBatchSize:           DefaultMaxBatchSize,
		MaxBatchWait:           DefaultMaxBatchWait,
		DecodeWorkerCount:      DefaultDecodeWorkerCount,
		DecodeInputBufferSize:  DefaultDecodeBufferSize,
		DecodeOutputBufferSize: DefaultDecodeBufferSize,
		MessageBufferSize:      DefaultMessageBufferSize,
		FlushInterval:          DefaultFlushInterval,
		EmissionMaxElapsedTime: DefaultEmissionMaxElapsedTime,
		LeaseTimeout:           DefaultLeaseTimeout,
		DefaultShard:           DefaultShard,
		HTTPListenAddress:      DefaultHTTPListenAddress,
	}
}

// BindFlags registers every knob on the flag set, using the receiver's
// current values as defaults.
func (c *Config) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringSliceVar(&c.KafkaBrokers, "kafka-brokers", c.KafkaBrokers,
		"Kafka broker addresses")
	flagSet.StringVar(&c.InputTopic, "input-topic", c.InputTopic,
		"topic carrying raw span records")
	flagSet.StringVar(&c.OutputTopic, "output-topic", c.OutputTopic,
		"topic receiving flushed segment records")
	flagSet.StringVar(&c.ConsumerGroup, "consumer-group", c.ConsumerGroup,
		"Kafka consumer group id")
	flagSet.StringVar(&c.BufferBackend, "buffer-backend", c.BufferBackend,
		"buffer engine backend: redis or memory")
	flagSet.StringSliceVar(&c.RedisAddresses, "redis-addresses", c.RedisAddresses,
		"Redis addresses backing the buffer engine")
	flagSet.BoolVar(&c.RedisCluster, "redis-cluster", c.RedisCluster,
		"address a Redis cluster instead of a single node")
	flagSet.IntVar(&c.MaxBatchSize, "max-batch-size", c.MaxBatchSize,
		"messages per batch before decode")
	flagSet.DurationVar(&c.MaxBatchWait, "max-batch-wait", c.MaxBatchWait,
		"longest time a partial batch accumulates")
	flagSet.IntVar(&c.DecodeWorkerCount, "decode-workers", c.DecodeWorkerCount,
		"decode worker count; 0 decodes inline")
	flagSet.IntVar(&c.DecodeInputBufferSize, "decode-input-buffer", c.DecodeInputBufferSize,
		"decode pool input channel capacity")
	flagSet.IntVar(&c.DecodeOutputBufferSize, "decode-output-buffer", c.DecodeOutputBufferSize,
		"decode pool output channel capacity")
	flagSet.IntVar(&c.MessageBufferSize, "message-buffer", c.MessageBufferSize,
		"claim-to-pipeline message channel capacity")
	flagSet.DurationVar(&c.FlushInterval, "flush-interval", c.FlushInterval,
		"pause between flush cycles")
	flagSet.DurationVar(&c.EmissionMaxElapsedTime, "emission-max-elapsed", c.EmissionMaxElapsedTime,
		"total time emission retries may take before the cycle fails")
	flagSet.DurationVar(&c.LeaseTimeout, "lease-timeout", c.LeaseTimeout,
		"pending claim lease duration before re-delivery")
	flagSet.Int32Var(&c.DefaultShard, "default-shard", c.DefaultShard,
		"shard for batches without a single source partition")
	flagSet.StringSliceVar(&c.DenyEntries, "deny", c.DenyEntries,
		"admission deny entries of the form <org>:<project>; an empty side matches any")
	flagSet.StringVar(&c.HTTPListenAddress, "http-listen-address", c.HTTPListenAddress,
		"operational HTTP server listen address")
}
