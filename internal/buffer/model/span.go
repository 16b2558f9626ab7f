package model

type Span struct {
	Shard          int32
	TraceID        string
	SpanID         string
	ParentSpanID   string
	ProjectID      int64
	OrganizationID int64
	Payload        []byte // original record bytes, re-emitted verbatim on flush
	IsSegmentRoot  bool
}

type SegmentKey struct {
	Shard   int32
	TraceID string
}

type FlushableSegment struct {
	Key        SegmentKey
	ProjectID  int64
	CreatedAt  int64
	LastUpdate int64
	ClaimToken string   // opaque handle passed back to ConfirmFlushed
	Payloads   [][]byte // span payloads in insertion order, deduplicated by span id
}
