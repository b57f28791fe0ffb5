package jobqueue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/subhub/pkg/telemetry/correlation"
)

const claimScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[1], id)
  redis.call("ZADD", KEYS[2], ARGV[3], id)
  redis.call("HINCRBY", ARGV[4] .. id, "attempts", 1)
end
return ids
`

const revokeScript = `
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
  redis.call("DEL", KEYS[2])
  return 1
end
return 0
`

const releaseScript = `
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
  redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
  return 1
end
return 0
`

const recoverScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[1], id)
  redis.call("ZADD", KEYS[2], ARGV[1], id)
end
return #ids
`

// RedisQueue keeps due jobs in a sorted set scored by run time and claimed
// jobs in a second sorted set scored by lease expiry. Moves between the two
// happen inside Lua scripts.
type RedisQueue struct {
	client       *redis.Client
	prefix       string
	claim        *redis.Script
	revoke       *redis.Script
	release      *redis.Script
	recoverLease *redis.Script
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "subhub:billing"
	}
	return &RedisQueue{
		client:       client,
		prefix:       prefix,
		claim:        redis.NewScript(claimScript),
		revoke:       redis.NewScript(revokeScript),
		release:      redis.NewScript(releaseScript),
		recoverLease: redis.NewScript(recoverScript),
	}
}

func (q *RedisQueue) dueKey() string      { return q.prefix + ":due" }
func (q *RedisQueue) inflightKey() string { return q.prefix + ":inflight" }
func (q *RedisQueue) jobPrefix() string   { return q.prefix + ":job:" }
func (q *RedisQueue) jobKey(h Handle) string {
	return q.jobPrefix() + string(h)
}

func (q *RedisQueue) Schedule(ctx context.Context, runAt time.Time, orderID snowflake.ID) (Handle, error) {
	if orderID == 0 {
		return "", ErrInvalidOrder
	}
	handle := NewHandle()

	carrier, err := json.Marshal(correlation.Carrier(ctx))
	if err != nil {
		return "", err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(handle), map[string]any{
		"order_id": orderID.String(),
		"run_at":   runAt.UnixMilli(),
		"attempts": 0,
		"carrier":  string(carrier),
	})
	pipe.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: string(handle)})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return handle, nil
}

func (q *RedisQueue) Revoke(ctx context.Context, handle Handle) error {
	if handle == "" {
		return nil
	}
	return q.revoke.Run(ctx, q.client, []string{q.dueKey(), q.jobKey(handle)}, string(handle)).Err()
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	res, err := q.claim.Run(ctx, q.client,
		[]string{q.dueKey(), q.inflightKey()},
		now.UnixMilli(),
		limit,
		now.Add(lease).UnixMilli(),
		q.jobPrefix(),
	).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(res))
	for i, id := range res {
		cmds[i] = pipe.HGetAll(ctx, q.jobKey(Handle(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(res))
	for i, id := range res {
		fields := cmds[i].Val()
		job, ok := decodeJob(Handle(id), fields)
		if !ok {
			// payload lost; drop the claim so it is not recovered forever
			_ = q.Ack(ctx, Handle(id))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeJob(handle Handle, fields map[string]string) (Job, bool) {
	orderID, err := snowflake.ParseString(fields["order_id"])
	if err != nil || orderID == 0 {
		return Job{}, false
	}
	runAtMs, _ := strconv.ParseInt(fields["run_at"], 10, 64)
	attempts, _ := strconv.Atoi(fields["attempts"])

	var carrier map[string]string
	if raw := fields["carrier"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &carrier)
	}

	return Job{
		Handle:   handle,
		OrderID:  orderID,
		RunAt:    time.UnixMilli(runAtMs).UTC(),
		Attempts: attempts,
		Carrier:  carrier,
	}, true
}

func (q *RedisQueue) Ack(ctx context.Context, handle Handle) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), string(handle))
	pipe.Del(ctx, q.jobKey(handle))
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Release(ctx context.Context, handle Handle, retryAt time.Time) error {
	return q.release.Run(ctx, q.client,
		[]string{q.inflightKey(), q.dueKey()},
		string(handle),
		retryAt.UnixMilli(),
	).Err()
}

func (q *RedisQueue) RecoverExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := q.recoverLease.Run(ctx, q.client,
		[]string{q.inflightKey(), q.dueKey()},
		now.UnixMilli(),
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (q *RedisQueue) Exists(ctx context.Context, handle Handle) (bool, error) {
	if handle == "" {
		return false, nil
	}
	n, err := q.client.Exists(ctx, q.jobKey(handle)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
