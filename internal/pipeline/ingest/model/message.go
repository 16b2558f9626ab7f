package model

// TimestampedMessage pairs a raw payload with the logical timestamp assigned
// on receipt and the source coordinates needed for progress marking.
type TimestampedMessage struct {
	Timestamp int64 // logical Unix seconds
	Payload   []byte
	Topic     string
	Partition int32
	Offset    int64
}

// MessageBatch is a bounded run of timestamped messages in arrival order.
type MessageBatch struct {
	Messages    []TimestampedMessage
	Topic       string
	HighOffsets map[int32]int64 // highest offset seen per source partition
}
