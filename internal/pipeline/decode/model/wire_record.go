package model

// WireRecord is the JSON shape of a span record on the ingest topic.
// Pointer fields distinguish absent keys from zero values: a missing
// project id is a fatal decode error, a missing parent marks the span as a
// segment root.
type WireRecord struct {
	TraceID        string  `json:"trace_id"`
	SpanID         string  `json:"span_id"`
	ParentSpanID   *string `json:"parent_span_id"`
	ProjectID      *int64  `json:"project_id"`
	OrganizationID int64   `json:"organization_id"`
	IsRemote       bool    `json:"is_remote"`
}
