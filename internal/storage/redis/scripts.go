package redis

const (
	// recordDailyUsageScript atomically stores a day total and indexes its date
	recordDailyUsageScript = `
local usage_key = KEYS[1]     -- {prefix}:usage:daily:{date}
local index_key = KEYS[2]     -- {prefix}:usage:daily:dates

local date = ARGV[1]
local app_id = ARGV[2]
local seconds = ARGV[3]
local ttl = tonumber(ARGV[4])

redis.call('HSET', usage_key, app_id, seconds)
if ttl > 0 then
    redis.call('EXPIRE', usage_key, ttl)
else
    redis.call('PERSIST', usage_key)
end
redis.call('SADD', index_key, date)

return 'OK'
`

	// deleteDailyUsageScript removes one day of history and its index entry
	deleteDailyUsageScript = `
local usage_key = KEYS[1]
local index_key = KEYS[2]
local date = ARGV[1]

local count = redis.call('HLEN', usage_key)
redis.call('DEL', usage_key)
redis.call('SREM', index_key, date)

return count
`
)
