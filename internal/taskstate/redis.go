package taskstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps task records in hashes and barriers in counter/set keys.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to url (redis://host:port/db) and pings it.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisFromClient(client), nil
}

func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client, ttl: DefaultTTL}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func taskKey(id string) string { return "task:" + id }

func (r *Redis) write(ctx context.Context, taskID string, fields map[string]any) error {
	key := taskKey(taskID)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write task %s: %w", taskID, err)
	}
	return nil
}

func (r *Redis) SetStatus(ctx context.Context, taskID string, status Status) error {
	return r.write(ctx, taskID, map[string]any{"status": string(status)})
}

func (r *Redis) SetSuccess(ctx context.Context, taskID string, result []byte) error {
	return r.write(ctx, taskID, map[string]any{
		"status": string(StatusSuccess),
		"result": result,
		"error":  "",
	})
}

func (r *Redis) SetFailure(ctx context.Context, taskID string, reason string) error {
	return r.write(ctx, taskID, map[string]any{
		"status": string(StatusFailure),
		"error":  reason,
	})
}

func (r *Redis) Get(ctx context.Context, taskID string) (Record, error) {
	fields, err := r.client.HGetAll(ctx, taskKey(taskID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return recordFromHash(taskID, fields), nil
}

func (r *Redis) GetMany(ctx context.Context, taskIDs []string) (map[string]Record, error) {
	if len(taskIDs) == 0 {
		return map[string]Record{}, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(taskIDs))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range taskIDs {
			cmds[i] = pipe.HGetAll(ctx, taskKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}

	out := make(map[string]Record, len(taskIDs))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		out[taskIDs[i]] = recordFromHash(taskIDs[i], fields)
	}
	return out, nil
}

func recordFromHash(taskID string, fields map[string]string) Record {
	rec := Record{
		TaskID: taskID,
		Status: Status(fields["status"]),
		Error:  fields["error"],
	}
	if res := fields["result"]; res != "" {
		rec.Result = []byte(res)
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		rec.UpdatedAt = ts
	}
	return rec
}

// Barrier keys share a hash tag so the scripts stay on one cluster slot.
func barrierKeys(id string) []string {
	prefix := "barrier:{" + id + "}:"
	return []string{
		prefix + "count",
		prefix + "arrived",
		prefix + "fired",
		prefix + "continuation",
		prefix + "registered",
	}
}

var registerScript = redis.NewScript(`
if not redis.call('SET', KEYS[5], '1', 'NX', 'EX', ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[4], ARGV[3], 'EX', ARGV[2])
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
if n == 0 and redis.call('SET', KEYS[3], '1', 'NX', 'EX', ARGV[2]) then
	return 1
end
return 0
`)

// arriveScript checks the continuation before writing anything, so a
// missing continuation fails the arrival without consuming it.
var arriveScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return {0}
end
local remaining = tonumber(redis.call('GET', KEYS[1]) or '0') - 1
local cont = false
if remaining == 0 and redis.call('EXISTS', KEYS[3]) == 0 then
	cont = redis.call('GET', KEYS[4])
	if not cont then
		return redis.error_reply('barrier continuation missing')
	end
end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('EXPIRE', KEYS[2], ARGV[2])
local n = redis.call('DECR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
if n == 0 and cont and redis.call('SET', KEYS[3], '1', 'NX', 'EX', ARGV[2]) then
	return {1, cont}
end
return {0}
`)

func (r *Redis) ttlSeconds() string {
	return strconv.Itoa(int(r.ttl / time.Second))
}

func (r *Redis) Register(ctx context.Context, barrierID string, expected int, continuation []byte) (bool, error) {
	if expected < 0 {
		return false, fmt.Errorf("register barrier %s: negative count %d", barrierID, expected)
	}
	n, err := registerScript.Run(ctx, r.client, barrierKeys(barrierID),
		expected, r.ttlSeconds(), continuation).Int()
	if err != nil {
		return false, fmt.Errorf("register barrier %s: %w", barrierID, err)
	}
	return n == 1, nil
}

func (r *Redis) Arrive(ctx context.Context, barrierID, taskID string) ([]byte, bool, error) {
	res, err := arriveScript.Run(ctx, r.client, barrierKeys(barrierID), taskID, r.ttlSeconds()).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("arrive at barrier %s: %w", barrierID, err)
	}
	if len(res) < 2 {
		return nil, false, nil
	}
	if fired, _ := res[0].(int64); fired != 1 {
		return nil, false, nil
	}
	cont, ok := res[1].(string)
	if !ok {
		return nil, false, errors.New("barrier " + barrierID + " fired without a continuation")
	}
	return []byte(cont), true, nil
}
