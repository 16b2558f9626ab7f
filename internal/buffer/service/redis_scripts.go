package service

import (
	"context"
	"fmt"

	"github.com/Avi18971911/Loom/internal/db/redis/client"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ScriptManager loads the buffer's Lua scripts and executes them by SHA.
// Every mutation of segment state goes through one of these scripts so that
// each transition is atomic on the shard's slot.
type ScriptManager struct {
	client client.RedisClient
	logger *zap.Logger

	appendSpanSHA       string
	advanceWatermarkSHA string
	claimFlushableSHA   string
	confirmFlushedSHA   string
}

func NewScriptManager(
	redisClient client.RedisClient,
	logger *zap.Logger,
) *ScriptManager {
	return &ScriptManager{
		client: redisClient,
		logger: logger,
	}
}

func (sm *ScriptManager) LoadScripts(ctx context.Context) error {
	scripts := map[string]struct {
		body string
		sha  *string
	}{
		"append_span":       {appendSpanScript, &sm.appendSpanSHA},
		"advance_watermark": {advanceWatermarkScript, &sm.advanceWatermarkSHA},
		"claim_flushable":   {claimFlushableScript, &sm.claimFlushableSHA},
		"confirm_flushed":   {confirmFlushedScript, &sm.confirmFlushedSHA},
	}

	for name, script := range scripts {
		sha, err := sm.client.ScriptLoad(ctx, script.body)
		if err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
		*script.sha = sha
		sm.logger.Debug("Loaded Lua script", zap.String("name", name), zap.String("sha", sha))
	}
	return nil
}

// AppendSpan executes the append_span script and reports whether the span was
// newly appended (false means the span id was already present).
func (sm *ScriptManager) AppendSpan(
	ctx context.Context,
	keys shardKeys,
	traceID string,
	spanID string,
	payload []byte,
	now int64,
	projectID int64,
) (bool, error) {
	tk := keys.traceKeys(traceID)
	scriptKeys := []string{keys.active, tk.payloads, tk.seen, tk.meta}
	args := []interface{}{traceID, spanID, string(payload), now, projectID}

	result, err := sm.client.EvalSHA(ctx, sm.appendSpanSHA, scriptKeys, args)
	if err != nil {
		return false, fmt.Errorf("append_span script failed: %w", err)
	}
	added, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected append_span result type: %T", result)
	}
	return added == 1, nil
}

// AdvanceWatermark raises the shard watermark to now if it is higher and
// returns the effective watermark.
func (sm *ScriptManager) AdvanceWatermark(
	ctx context.Context,
	keys shardKeys,
	now int64,
) (int64, error) {
	result, err := sm.client.EvalSHA(
		ctx,
		sm.advanceWatermarkSHA,
		[]string{keys.watermark},
		[]interface{}{now},
	)
	if err != nil {
		return 0, fmt.Errorf("advance_watermark script failed: %w", err)
	}
	watermark, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected advance_watermark result type: %T", result)
	}
	return watermark, nil
}

// claimedSegment mirrors the JSON objects returned by the claim_flushable
// script. Numeric fields arrive as strings since they are read back from
// hashes and sorted-set scores.
type claimedSegment struct {
	Token      string   `json:"token"`
	TraceID    string   `json:"trace_id"`
	ProjectID  string   `json:"project_id"`
	CreatedAt  string   `json:"created_at"`
	LastUpdate string   `json:"last_update"`
	Payloads   []string `json:"payloads"`
}

// ClaimFlushable executes the claim_flushable script: it moves every due
// segment from the active index into the pending area and returns its data,
// together with any previously claimed segment whose lease has expired.
func (sm *ScriptManager) ClaimFlushable(
	ctx context.Context,
	keys shardKeys,
	thresholdSeconds int64,
	nowWall int64,
	leaseTimeoutSeconds int64,
	maxSegments int,
) ([]claimedSegment, error) {
	scriptKeys := []string{keys.active, keys.watermark, keys.pending}
	args := []interface{}{thresholdSeconds, nowWall, leaseTimeoutSeconds, maxSegments, keys.prefix}

	result, err := sm.client.EvalSHA(ctx, sm.claimFlushableSHA, scriptKeys, args)
	if err != nil {
		return nil, fmt.Errorf("claim_flushable script failed: %w", err)
	}
	encoded, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected claim_flushable result type: %T", result)
	}

	var claimed []claimedSegment
	if err := json.Unmarshal([]byte(encoded), &claimed); err != nil {
		return nil, fmt.Errorf("failed to decode claim_flushable result: %w", err)
	}
	return claimed, nil
}

// ConfirmFlushed executes the confirm_flushed script, deleting the claimed
// segments' keys and their pending entries.
func (sm *ScriptManager) ConfirmFlushed(
	ctx context.Context,
	keys shardKeys,
	claimTokens []string,
) error {
	args := make([]interface{}, 0, len(claimTokens)+1)
	args = append(args, keys.prefix)
	for _, token := range claimTokens {
		args = append(args, token)
	}

	_, err := sm.client.EvalSHA(ctx, sm.confirmFlushedSHA, []string{keys.pending}, args)
	if err != nil {
		return fmt.Errorf("confirm_flushed script failed: %w", err)
	}
	return nil
}

const appendSpanScript = `
-- append_span.lua
-- Appends one span to its trace segment, creating the segment on first
-- sight. Idempotent on span id.
local active   = KEYS[1]
local payloads = KEYS[2]
local seen     = KEYS[3]
local meta     = KEYS[4]

local trace_id   = ARGV[1]
local span_id    = ARGV[2]
local payload    = ARGV[3]
local now        = tonumber(ARGV[4])
local project_id = ARGV[5]

if redis.call('EXISTS', meta) == 0 then
  redis.call('HSET', meta, 'created_at', now, 'project_id', project_id)
end

local added = redis.call('SADD', seen, span_id)
if added == 1 then
  redis.call('RPUSH', payloads, payload)
end

-- GT keeps last_update monotonic for late batches while still inserting
-- traces not yet in the index
redis.call('ZADD', active, 'GT', now, trace_id)

return added
`

const advanceWatermarkScript = `
-- advance_watermark.lua
local wm  = KEYS[1]
local now = tonumber(ARGV[1])

local current = tonumber(redis.call('GET', wm) or '-1')
if now > current then
  redis.call('SET', wm, now)
  return now
end
return current
`

const claimFlushableScript = `
-- claim_flushable.lua
-- Claims every segment idle past the threshold against the shard watermark.
-- Claimed segments are renamed under a claim token and indexed in the
-- pending set until confirmed; a reopened trace therefore never collides
-- with an in-flight claim. Pending claims whose lease ran out are returned
-- again with a refreshed lease.
local active  = KEYS[1]
local wm_key  = KEYS[2]
local pending = KEYS[3]

local threshold     = tonumber(ARGV[1])
local now_wall      = tonumber(ARGV[2])
local lease_timeout = tonumber(ARGV[3])
local max_segments  = tonumber(ARGV[4])
local prefix        = ARGV[5]

local claimed = {}

local wm = tonumber(redis.call('GET', wm_key) or '-1')
if wm >= 0 then
  local cutoff = wm - threshold
  local due = redis.call('ZRANGEBYSCORE', active, '-inf', cutoff, 'LIMIT', 0, max_segments)
  for _, trace_id in ipairs(due) do
    local last_update = redis.call('ZSCORE', active, trace_id)
    redis.call('ZREM', active, trace_id)
    local src = prefix .. ':t:' .. trace_id
    if redis.call('EXISTS', src .. ':payloads') == 1 then
      local seq = redis.call('INCR', prefix .. ':claimseq')
      local token = trace_id .. '@' .. seq
      local dst = prefix .. ':c:' .. token
      redis.call('RENAME', src .. ':payloads', dst .. ':payloads')
      local created_at = redis.call('HGET', src .. ':meta', 'created_at') or '0'
      local project_id = redis.call('HGET', src .. ':meta', 'project_id') or '0'
      redis.call('HSET', dst .. ':meta',
        'trace_id', trace_id,
        'project_id', project_id,
        'created_at', created_at,
        'last_update', last_update)
      redis.call('DEL', src .. ':meta', src .. ':seen')
      redis.call('ZADD', pending, now_wall, token)
      table.insert(claimed, {
        token = token,
        trace_id = trace_id,
        project_id = project_id,
        created_at = created_at,
        last_update = last_update,
        payloads = redis.call('LRANGE', dst .. ':payloads', 0, -1),
      })
    end
  end
end

local stale = redis.call('ZRANGEBYSCORE', pending, '-inf', now_wall - lease_timeout, 'LIMIT', 0, max_segments)
for _, token in ipairs(stale) do
  local dst = prefix .. ':c:' .. token
  if redis.call('EXISTS', dst .. ':meta') == 1 then
    redis.call('ZADD', pending, now_wall, token)
    table.insert(claimed, {
      token = token,
      trace_id = redis.call('HGET', dst .. ':meta', 'trace_id'),
      project_id = redis.call('HGET', dst .. ':meta', 'project_id'),
      created_at = redis.call('HGET', dst .. ':meta', 'created_at'),
      last_update = redis.call('HGET', dst .. ':meta', 'last_update'),
      payloads = redis.call('LRANGE', dst .. ':payloads', 0, -1),
    })
  else
    redis.call('ZREM', pending, token)
  end
end

-- cjson encodes an empty table as an object, not an array
if #claimed == 0 then
  return '[]'
end
return cjson.encode(claimed)
`

const confirmFlushedScript = `
-- confirm_flushed.lua
local pending = KEYS[1]
local prefix  = ARGV[1]

local removed = 0
for i = 2, #ARGV do
  local token = ARGV[i]
  local dst = prefix .. ':c:' .. token
  redis.call('DEL', dst .. ':payloads', dst .. ':meta')
  removed = removed + redis.call('ZREM', pending, token)
end
return removed
`
