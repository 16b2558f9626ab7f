package handler

type HealthResponseDTO struct {
	Status string            `json:"status"`
	Shards []ShardBacklogDTO `json:"shards"`
	Flush  FlushTotalsDTO    `json:"flush"`
}

type ShardBacklogDTO struct {
	Shard   int32 `json:"shard"`
	Backlog int64 `json:"backlog"`
}

type FlushTotalsDTO struct {
	FlushCount   int64 `json:"flush_count"`
	SegmentCount int64 `json:"segment_count"`
	SpanCount    int64 `json:"span_count"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
