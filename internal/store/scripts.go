package store

import "github.com/redis/go-redis/v9"

// setIfGreaterScript implements set_if_greater(K, V) -> (changed, previous):
// writes V iff the key is absent or numerically less than V. The read,
// compare, and write happen inside Redis's single-threaded script
// execution, so the whole operation is atomic — a client-side
// GET-then-SET would race across instances.
const setIfGreaterScript = `
local previous = redis.call('GET', KEYS[1])
if previous == false then
  redis.call('SET', KEYS[1], ARGV[1])
  return {1, false}
end
local previousNumber = tonumber(previous)
local candidate = tonumber(ARGV[1])
if candidate > previousNumber then
  redis.call('SET', KEYS[1], ARGV[1])
  return {1, previous}
end
return {0, previous}
`

// setIfNotEqualScript implements set_if_not_equal(K, V) -> (changed, previous):
// writes V iff it differs from the stored value.
const setIfNotEqualScript = `
local previous = redis.call('GET', KEYS[1])
if previous == false then
  redis.call('SET', KEYS[1], ARGV[1])
  return {1, false}
end
if previous ~= ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1])
  return {1, previous}
end
return {0, previous}
`

var (
	setIfGreater   = redis.NewScript(setIfGreaterScript)
	setIfNotEqual  = redis.NewScript(setIfNotEqualScript)
)
