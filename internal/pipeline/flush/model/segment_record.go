package model

import (
	jsoniter "github.com/json-iterator/go"
)

// SegmentRecord is the downstream record emitted once per flushed segment:
// routing metadata plus the ordered span payloads, verbatim as they arrived
// on the ingest topic.
type SegmentRecord struct {
	ProjectID int64                 `json:"project_id"`
	TraceID   string                `json:"trace_id"`
	Spans     []jsoniter.RawMessage `json:"spans"`
}

// FlushSummary is published on the in-process event bus after every flush
// of a shard that emitted at least one segment.
type FlushSummary struct {
	Shard        int32 `json:"shard"`
	SegmentCount int   `json:"segment_count"`
	SpanCount    int   `json:"span_count"`
}
