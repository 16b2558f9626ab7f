package service

import (
	"errors"
	"fmt"

	admissionService "github.com/Avi18971911/Loom/internal/admission/service"
	bufferModel "github.com/Avi18971911/Loom/internal/buffer/model"
	"github.com/Avi18971911/Loom/internal/metrics"
	decodeModel "github.com/Avi18971911/Loom/internal/pipeline/decode/model"
	ingestModel "github.com/Avi18971911/Loom/internal/pipeline/ingest/model"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrEmptyBatch = errors.New("cannot decode an empty message batch")
var ErrMissingRequiredKey = errors.New("span record is missing a required key")

// SpanDecoder turns a raw message batch into the ingest unit handed to the
// buffer engine. A payload that fails to decode aborts the whole batch; the
// outer pipeline's restart policy owns the retry. Spans matching the
// admission policy are silently dropped.
type SpanDecoder struct {
	policy admissionService.AdmissionPolicy
	logger *zap.Logger
}

func NewSpanDecoder(
	policy admissionService.AdmissionPolicy,
	logger *zap.Logger,
) *SpanDecoder {
	return &SpanDecoder{
		policy: policy,
		logger: logger,
	}
}

// DecodeBatch decodes every payload, resolves the batch's shard, applies the
// admission policy, and returns the surviving spans with the batch's minimum
// logical timestamp. The shard is the batch's single source partition when
// all messages share one, and defaultShard otherwise.
func (sd *SpanDecoder) DecodeBatch(
	batch *ingestModel.MessageBatch,
	defaultShard int32,
) (*decodeModel.SpanBatch, error) {
	if len(batch.Messages) == 0 {
		return nil, ErrEmptyBatch
	}

	shard := resolveShard(batch, defaultShard)
	minTimestamp := batch.Messages[0].Timestamp
	spans := make([]bufferModel.Span, 0, len(batch.Messages))
	dropped := 0

	for _, message := range batch.Messages {
		if message.Timestamp < minTimestamp {
			minTimestamp = message.Timestamp
		}

		var record decodeModel.WireRecord
		if err := json.Unmarshal(message.Payload, &record); err != nil {
			return nil, fmt.Errorf(
				"failed to decode span record at partition %d offset %d: %w",
				message.Partition,
				message.Offset,
				err,
			)
		}
		if err := validateRecord(&record); err != nil {
			return nil, fmt.Errorf(
				"invalid span record at partition %d offset %d: %w",
				message.Partition,
				message.Offset,
				err,
			)
		}

		if sd.policy.ShouldDrop(record.OrganizationID, *record.ProjectID, record.TraceID, shard) {
			dropped++
			continue
		}

		spans = append(spans, bufferModel.Span{
			Shard:          shard,
			TraceID:        record.TraceID,
			SpanID:         record.SpanID,
			ParentSpanID:   parentOrEmpty(record.ParentSpanID),
			ProjectID:      *record.ProjectID,
			OrganizationID: record.OrganizationID,
			Payload:        message.Payload,
			IsSegmentRoot:  record.ParentSpanID == nil || record.IsRemote,
		})
	}

	if dropped > 0 {
		metrics.SpansDropped.Add(float64(dropped))
		sd.logger.Debug("Dropped spans via admission policy",
			zap.Int("dropped", dropped),
			zap.Int32("shard", shard),
		)
	}
	metrics.SpansAdmitted.Add(float64(len(spans)))
	metrics.BatchesDecoded.Inc()

	return &decodeModel.SpanBatch{
		Shard:        shard,
		Spans:        spans,
		MinTimestamp: minTimestamp,
		Topic:        batch.Topic,
		HighOffsets:  batch.HighOffsets,
	}, nil
}

func validateRecord(record *decodeModel.WireRecord) error {
	if record.TraceID == "" {
		return fmt.Errorf("%w: trace_id", ErrMissingRequiredKey)
	}
	if record.SpanID == "" {
		return fmt.Errorf("%w: span_id", ErrMissingRequiredKey)
	}
	if record.ProjectID == nil {
		return fmt.Errorf("%w: project_id", ErrMissingRequiredKey)
	}
	return nil
}

func resolveShard(batch *ingestModel.MessageBatch, defaultShard int32) int32 {
	if len(batch.HighOffsets) == 1 {
		for partition := range batch.HighOffsets {
			return partition
		}
	}
	return defaultShard
}

func parentOrEmpty(parent *string) string {
	if parent == nil {
		return ""
	}
	return *parent
}
