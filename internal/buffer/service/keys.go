package service

import "fmt"

// All keys of one shard share a {shard} hash tag so every Lua script touching
// a shard stays on a single cluster slot.
const keyPrefix = "span-buffer"

type shardKeys struct {
	prefix    string // "span-buffer:{<shard>}"
	active    string // ZSET of open trace ids scored by last_update
	watermark string // highest logical timestamp ingested for the shard
	pending   string // ZSET of claim tokens scored by wall-clock claim time
}

func newShardKeys(shard int32) shardKeys {
	prefix := fmt.Sprintf("%s:{%d}", keyPrefix, shard)
	return shardKeys{
		prefix:    prefix,
		active:    prefix + ":active",
		watermark: prefix + ":wm",
		pending:   prefix + ":pending",
	}
}

type traceKeys struct {
	payloads string // LIST of verbatim span payloads in insertion order
	seen     string // SET of span ids already appended
	meta     string // HASH of created_at and project_id
}

func (sk shardKeys) traceKeys(traceID string) traceKeys {
	base := sk.prefix + ":t:" + traceID
	return traceKeys{
		payloads: base + ":payloads",
		seen:     base + ":seen",
		meta:     base + ":meta",
	}
}
