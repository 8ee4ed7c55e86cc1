package hotstate

import (
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Key layout (spec §3 "Hot-state structures"):
//
//	hs:batch:{batchId}:counters    hash  {sent, failed, total}
//	hs:batch:{batchId}:recipients  hash  {recipientId -> json outcome record}
//	hs:batch:{batchId}:pending     set   recipientIds awaiting R sync
//	hs:global:pending              string global pending gauge
//	hs:ratelimit:{sendConfigId}:{unixSecond} string token count
//	hs:webhook:dedup:{eventId}     string marker, ~5m TTL
//
// activeTTLSeconds is the 7-day retention for an in-flight batch's
// counters/recipients/pending keys; completedTTLSeconds (48h) is applied
// once the reconciler observes the batch has completed.
const (
	activeTTLSeconds    = 7 * 24 * 3600
	completedTTLSeconds = 48 * 3600
	dedupTTLSeconds     = 5 * 60
)

// initCountersLua sets {sent,failed,total} and adds total to the global
// pending gauge only if the counters hash does not already exist, so
// re-delivery of the "batch queued" notification never clobbers
// in-flight progress or counts the batch twice (spec §4.2 step 4,
// idempotent init).
const initCountersLua = `
local countersKey = KEYS[1]
local globalPendingKey = KEYS[2]
local total = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

if redis.call("EXISTS", countersKey) == 0 then
	redis.call("HSET", countersKey, "sent", 0, "failed", 0, "total", total)
	redis.call("INCRBY", globalPendingKey, total)
end
redis.call("EXPIRE", countersKey, ttl)
return redis.call("HMGET", countersKey, "sent", "failed", "total")
`

// recordOutcomeLua is the atomic script backing sender-worker step 6: it
// increments exactly one of sent/failed, writes the recipient's outcome
// record, adds the recipient to the pending-sync set, refreshes the TTL
// on all three keys, and returns the updated tuple so the caller can
// decide completion without a second round trip.
const recordOutcomeLua = `
local countersKey = KEYS[1]
local recipientsKey = KEYS[2]
local pendingKey = KEYS[3]
local recipientId = ARGV[1]
local field = ARGV[2]
local recordJSON = ARGV[3]
local ttl = tonumber(ARGV[4])

redis.call("HINCRBY", countersKey, field, 1)
redis.call("HSET", recipientsKey, recipientId, recordJSON)
redis.call("SADD", pendingKey, recipientId)

redis.call("EXPIRE", countersKey, ttl)
redis.call("EXPIRE", recipientsKey, ttl)
redis.call("EXPIRE", pendingKey, ttl)

local sent = tonumber(redis.call("HGET", countersKey, "sent"))
local failed = tonumber(redis.call("HGET", countersKey, "failed"))
local total = tonumber(redis.call("HGET", countersKey, "total"))
local complete = 0
if sent + failed >= total then
	complete = 1
end
return {sent, failed, total, complete}
`

// dedupCheckLua atomically checks-and-sets the webhook dedup marker,
// returning 1 the first time an event id is seen and 0 on every repeat
// within the TTL window (the marker behind CheckAndMarkWebhookEvent;
// Layer 2 of spec §4.7 is the consumer's in-process LRU).
const dedupCheckLua = `
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("SET", key, 1, "EX", ttl)
return 1
`

// tokenBucketLua implements the per-(sendConfigId, 1s window) rate
// limiter of spec §4.5: atomically checks the window's current count
// against the limit before incrementing so no caller can observe a
// stale value and overshoot.
const tokenBucketLua = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local cost = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + cost > limit then
	return {0, current}
end
local newVal = redis.call("INCRBY", key, cost)
if newVal == cost then
	redis.call("EXPIRE", key, 2)
end
return {1, newVal}
`

// retireCountersLua shrinks a completed batch's TTLs to the 48h
// completed-retention window (spec §4.6 step 5).
const retireCountersLua = `
redis.call("EXPIRE", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[2], ARGV[1])
redis.call("EXPIRE", KEYS[3], ARGV[1])
return 1
`

type scripts struct {
	initCounters   *redis.Script
	recordOutcome  *redis.Script
	dedupCheck     *redis.Script
	tokenBucket    *redis.Script
	retireCounters *redis.Script
}

var compiled = scripts{
	initCounters:   redis.NewScript(initCountersLua),
	recordOutcome:  redis.NewScript(recordOutcomeLua),
	dedupCheck:     redis.NewScript(dedupCheckLua),
	tokenBucket:    redis.NewScript(tokenBucketLua),
	retireCounters: redis.NewScript(retireCountersLua),
}

func countersKey(batchID string) string   { return "hs:batch:" + batchID + ":counters" }
func recipientsKey(batchID string) string { return "hs:batch:" + batchID + ":recipients" }
func pendingKey(batchID string) string    { return "hs:batch:" + batchID + ":pending" }
func globalPendingKey() string            { return "hs:global:pending" }
func rateLimitKey(sendConfigID string, windowUnix int64) string {
	return "hs:ratelimit:" + sendConfigID + ":" + strconv.FormatInt(windowUnix, 10)
}
func dedupKey(eventID string) string { return "hs:webhook:dedup:" + eventID }
