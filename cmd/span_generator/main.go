package main

import (
	"context"
	"math/rand"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultOperationPool = "http.server,db.query,cache.get,queue.publish,rpc.client"

// span_generator produces synthetic span traffic into the ingest topic. Every
// trace is keyed by its trace id so all of its spans land on one partition,
// matching the sharding the consumer relies on.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var brokers []string
	var topic string
	var traceCount int
	var spansPerTrace int
	var projectCount int64
	var organizationID int64
	var interval time.Duration

	pflag.StringSliceVar(&brokers, "kafka-brokers", []string{"localhost:9092"}, "Kafka broker addresses")
	pflag.StringVar(&topic, "topic", "ingest-spans", "topic receiving the generated spans")
	pflag.IntVar(&traceCount, "traces", 100, "number of traces to produce")
	pflag.IntVar(&spansPerTrace, "spans-per-trace", 5, "spans per trace including the segment root")
	pflag.Int64Var(&projectCount, "projects", 3, "project ids are drawn from [1, projects]")
	pflag.Int64Var(&organizationID, "organization", 1, "organization id stamped on every span")
	pflag.DurationVar(&interval, "interval", 50*time.Millisecond, "pause between traces")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_1_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(brokers, saramaConfig)
	if err != nil {
		logger.Fatal("Failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	operations := strings.Split(defaultOperationPool, ",")
	spansProduced := 0
	tracesProduced := 0
	for i := 0; i < traceCount; i++ {
		if ctx.Err() != nil {
			break
		}
		projectID := rand.Int63n(projectCount) + 1
		messages := traceMessages(topic, projectID, organizationID, spansPerTrace, operations)
		if err := producer.SendMessages(messages); err != nil {
			logger.Fatal("Failed to send trace", zap.Error(err))
		}
		tracesProduced++
		spansProduced += len(messages)
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}
	logger.Info("Produced synthetic spans",
		zap.Int("traces", tracesProduced),
		zap.Int("spans", spansProduced),
	)
}

func traceMessages(
	topic string,
	projectID int64,
	organizationID int64,
	spansPerTrace int,
	operations []string,
) []*sarama.ProducerMessage {
	traceID := newHexID(32)
	rootSpanID := newHexID(16)
	start := time.Now().Add(-time.Duration(rand.Intn(5000)) * time.Millisecond)

	messages := make([]*sarama.ProducerMessage, 0, spansPerTrace)
	messages = append(messages, spanMessage(
		topic, traceID, rootSpanID, "", projectID, organizationID, operations[0], start,
	))
	for i := 1; i < spansPerTrace; i++ {
		operation := operations[rand.Intn(len(operations))]
		childStart := start.Add(time.Duration(rand.Intn(500)) * time.Millisecond)
		messages = append(messages, spanMessage(
			topic, traceID, newHexID(16), rootSpanID, projectID, organizationID, operation, childStart,
		))
	}
	return messages
}

func spanMessage(
	topic string,
	traceID string,
	spanID string,
	parentSpanID string,
	projectID int64,
	organizationID int64,
	operation string,
	start time.Time,
) *sarama.ProducerMessage {
	record := map[string]interface{}{
		"trace_id":        traceID,
		"span_id":         spanID,
		"project_id":      projectID,
		"organization_id": organizationID,
		"op":              operation,
		"start_timestamp": start.Unix(),
		"duration_ms":     rand.Intn(2000),
		"is_remote":       parentSpanID == "",
	}
	if parentSpanID != "" {
		record["parent_span_id"] = parentSpanID
	}
	payload, _ := json.Marshal(record)
	return &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(traceID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: start,
	}
}

func newHexID(length int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	for len(id) < length {
		id += strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return id[:length]
}
