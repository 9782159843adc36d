package jobs

import (
	"strings"

	"github.com/redis/go-redis/v9"
)

// Job records live in a hash at {p}:job:{id} with fields "data" (JSON) and
// "state". Collections hold ids only.
var (
	redisEnqueueScript = redis.NewScript(`
local jobKey = KEYS[1]
local waiting = KEYS[2]
local delayed = KEYS[3]
local signal = KEYS[4]
local data = ARGV[1]
local id = ARGV[2]
local runAtMs = tonumber(ARGV[3])
local nowMs = tonumber(ARGV[4])

if redis.call("EXISTS", jobKey) == 1 then
  return 0
end
if runAtMs > nowMs then
  redis.call("HSET", jobKey, "data", data, "state", "delayed")
  redis.call("ZADD", delayed, runAtMs, id)
  return 2
end
redis.call("HSET", jobKey, "data", data, "state", "waiting")
redis.call("RPUSH", waiting, id)
redis.call("PUBLISH", signal, id)
return 1
`)

	// Returns {id, data}; data is empty when the record is missing and the id was dropped.
	redisClaimScript = redis.NewScript(`
local waiting = KEYS[1]
local active = KEYS[2]
local concurrency = tonumber(ARGV[1])
local jobPrefix = ARGV[2]

if redis.call("SCARD", active) >= concurrency then
  return false
end
local id = redis.call("LPOP", waiting)
if not id then
  return false
end
local jobKey = jobPrefix .. id
local data = redis.call("HGET", jobKey, "data")
if not data then
  redis.call("DEL", jobKey)
  return {id, ""}
end
redis.call("SADD", active, id)
redis.call("HSET", jobKey, "state", "active")
return {id, data}
`)

	redisPromoteScript = redis.NewScript(`
local delayed = KEYS[1]
local waiting = KEYS[2]
local signal = KEYS[3]
local nowMs = tonumber(ARGV[1])
local batch = tonumber(ARGV[2])
local jobPrefix = ARGV[3]

local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", nowMs, "LIMIT", 0, batch)
for _, id in ipairs(due) do
  redis.call("ZREM", delayed, id)
  redis.call("RPUSH", waiting, id)
  redis.call("HSET", jobPrefix .. id, "state", "waiting")
end
if #due > 0 then
  redis.call("PUBLISH", signal, "promoted")
end
return #due
`)

	// Moves an active job to a capped terminal list, deleting evicted records.
	redisFinishScript = redis.NewScript(`
local active = KEYS[1]
local list = KEYS[2]
local jobKey = KEYS[3]
local id = ARGV[1]
local data = ARGV[2]
local state = ARGV[3]
local cap = tonumber(ARGV[4])
local jobPrefix = ARGV[5]

if redis.call("SREM", active, id) == 0 then
  return 0
end
redis.call("HSET", jobKey, "data", data, "state", state)
redis.call("LPUSH", list, id)
while redis.call("LLEN", list) > cap do
  local evicted = redis.call("RPOP", list)
  if evicted then
    redis.call("DEL", jobPrefix .. evicted)
  end
end
return 1
`)

	redisRetryScript = redis.NewScript(`
local active = KEYS[1]
local delayed = KEYS[2]
local jobKey = KEYS[3]
local id = ARGV[1]
local data = ARGV[2]
local runAtMs = tonumber(ARGV[3])

if redis.call("SREM", active, id) == 0 then
  return 0
end
redis.call("HSET", jobKey, "data", data, "state", "delayed")
redis.call("ZADD", delayed, runAtMs, id)
return 1
`)

	redisTouchActiveScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[2], "data", ARGV[2])
return 1
`)

	redisRequeueActiveScript = redis.NewScript(`
local active = KEYS[1]
local waiting = KEYS[2]
local jobPrefix = ARGV[1]

local ids = redis.call("SMEMBERS", active)
for _, id in ipairs(ids) do
  redis.call("SREM", active, id)
  redis.call("LPUSH", waiting, id)
  redis.call("HSET", jobPrefix .. id, "state", "waiting")
end
return #ids
`)

	// Moves the given ids from active back to waiting, skipping ids that already left active.
	redisRequeueOrphansScript = redis.NewScript(`
local active = KEYS[1]
local waiting = KEYS[2]
local jobPrefix = ARGV[1]

local moved = 0
for i = 2, #ARGV do
  local id = ARGV[i]
  if redis.call("SREM", active, id) == 1 then
    redis.call("LPUSH", waiting, id)
    redis.call("HSET", jobPrefix .. id, "state", "waiting")
    moved = moved + 1
  end
end
return moved
`)

	// Returns 0 when absent, 1 when removed from waiting or delayed, 2 when removed from active.
	redisRemoveScript = redis.NewScript(`
local waiting = KEYS[1]
local delayed = KEYS[2]
local active = KEYS[3]
local jobKey = KEYS[4]
local id = ARGV[1]

local removed = 0
if redis.call("LREM", waiting, 0, id) > 0 then
  removed = 1
end
if redis.call("ZREM", delayed, id) > 0 then
  removed = 1
end
if redis.call("SREM", active, id) > 0 then
  removed = 2
end
if removed > 0 then
  redis.call("DEL", jobKey)
end
return removed
`)
)

type redisKeys struct {
	prefix string
}

func newRedisKeys(prefix string) redisKeys {
	return redisKeys{prefix: strings.TrimRight(strings.TrimSpace(prefix), ":")}
}

func (k redisKeys) waiting() string   { return k.prefix + ":waiting" }
func (k redisKeys) delayed() string   { return k.prefix + ":delayed" }
func (k redisKeys) active() string    { return k.prefix + ":active" }
func (k redisKeys) completed() string { return k.prefix + ":completed" }
func (k redisKeys) failed() string    { return k.prefix + ":failed" }
func (k redisKeys) signal() string    { return k.prefix + ":signal" }
func (k redisKeys) jobPrefix() string { return k.prefix + ":job:" }

func (k redisKeys) job(id string) string {
	return k.jobPrefix() + strings.TrimSpace(id)
}

func (k redisKeys) probe(token string) string {
	return k.prefix + ":probe:" + strings.TrimSpace(token)
}
