// File: internal/infra/redis/job_queue.go
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/repository"
	"audio-assistant/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
)

// JobQueue stores transcription jobs in redis.
//
// Layout under prefix p:
//
//	p:job:<key>     hash with samples, lang, model_config, status, text, ...
//	p:refs:<key>    set of masters referring to the job
//	p:master:<m>    set of job keys enqueued under master m
//	p:todo          list of pending job keys, oldest first
//
// Every multi-key transition runs as a Lua script so concurrent workers and
// sessions never observe a half-applied change.
type JobQueue struct {
	cli    *redis.Client
	prefix string
}

var _ repository.JobQueue = (*JobQueue)(nil)

func NewJobQueue(c *Client, prefix string) *JobQueue {
	if prefix == "" {
		prefix = "asrq"
	}
	return &JobQueue{cli: c.cli, prefix: prefix}
}

func (q *JobQueue) jobKey(key string) string { return q.prefix + ":job:" + key }

func (q *JobQueue) refsKey(key string) string { return q.prefix + ":refs:" + key }

func (q *JobQueue) masterKey(m string) string { return q.prefix + ":master:" + m }

func (q *JobQueue) todoKey() string { return q.prefix + ":todo" }

func (q *JobQueue) jobPrefix() string { return q.prefix + ":job:" }

func (q *JobQueue) refsPrefix() string { return q.prefix + ":refs:" }

func nowString() string { return strconv.FormatInt(time.Now().UnixNano(), 10) }

func parseNanos(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// KEYS: job, refs, master, todo. ARGV: key, master, samples, lang, model_config, now.
var luaEnqueue = redis.NewScript(`
redis.call("SADD", KEYS[2], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[1])
local status = redis.call("HGET", KEYS[1], "status")
if not status then
	redis.call("HSET", KEYS[1],
		"samples", ARGV[3], "lang", ARGV[4], "model_config", ARGV[5],
		"status", "TODO", "created_at", ARGV[6], "updated_at", ARGV[6])
	redis.call("RPUSH", KEYS[4], ARGV[1])
	return 1
end
if status == "FAILED" then
	redis.call("HSET", KEYS[1], "status", "TODO", "error", "", "updated_at", ARGV[6])
	redis.call("RPUSH", KEYS[4], ARGV[1])
	return 2
end
return 0`)

// KEYS: todo. ARGV: job prefix.
// Pops keys until one still refers to a TODO job; stale entries are dropped.
var luaDequeue = redis.NewScript(`
while true do
	local key = redis.call("LPOP", KEYS[1])
	if not key then
		return false
	end
	local jk = ARGV[1] .. key
	if redis.call("HGET", jk, "status") == "TODO" then
		return {key, redis.call("HGETALL", jk)}
	end
end`)

// KEYS: job. ARGV: field/value pairs. Updates only existing jobs.
var luaUpdate = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1`)

// KEYS: job. ARGV: field/value pairs.
// Like luaUpdate but leaves DONE jobs untouched: -1 missing, 0 skipped, 1 updated.
var luaTransition = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
	return -1
end
if status == "DONE" then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1`)

// KEYS: job, todo. ARGV: key, now.
var luaRequeue = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
	return -1
end
if status == "DONE" or status == "TODO" then
	return 0
end
redis.call("HSET", KEYS[1], "status", "TODO", "error", "", "updated_at", ARGV[2])
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1`)

// KEYS: master. ARGV: job prefix, refs prefix, master.
var luaDeleteGroup = redis.NewScript(`
local keys = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, k in ipairs(keys) do
	local refs = ARGV[2] .. k
	redis.call("SREM", refs, ARGV[3])
	if redis.call("SCARD", refs) == 0 then
		redis.call("DEL", ARGV[1] .. k, refs)
		removed = removed + 1
	end
end
redis.call("DEL", KEYS[1])
return removed`)

func (q *JobQueue) Enqueue(ctx context.Context, chunk *model.AudioChunk, master string) (string, error) {
	if chunk == nil || master == "" {
		return "", domain.ErrInvalidArgument
	}
	key := chunk.Key
	if key == "" {
		key = model.JobKey(chunk.Samples, chunk.MainLang, chunk.ModelConfig)
	}
	keys := []string{q.jobKey(key), q.refsKey(key), q.masterKey(master), q.todoKey()}
	created, err := luaEnqueue.Run(ctx, q.cli, keys,
		key, master, model.EncodeSamples(chunk.Samples), chunk.MainLang, chunk.ModelConfig, nowString(),
	).Int()
	if err != nil {
		return "", fmt.Errorf("redis enqueue: %w", err)
	}
	if created > 0 {
		metrics.IncJobEnqueued("redis")
	}
	return key, nil
}

func (q *JobQueue) DequeueNext(ctx context.Context) (*model.QueueJob, error) {
	res, err := luaDequeue.Run(ctx, q.cli, []string{q.todoKey()}, q.jobPrefix()).Result()
	if err == redis.Nil {
		return nil, domain.ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis dequeue: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, fmt.Errorf("redis dequeue: unexpected reply %T", res)
	}
	key, _ := arr[0].(string)
	flat, _ := arr[1].([]interface{})
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	job, err := jobFromHash(key, fields)
	if err != nil {
		return nil, err
	}
	metrics.IncJobDequeued("redis")
	return job, nil
}

func (q *JobQueue) update(ctx context.Context, key string, pairs ...interface{}) error {
	pairs = append(pairs, "updated_at", nowString())
	n, err := luaUpdate.Run(ctx, q.cli, []string{q.jobKey(key)}, pairs...).Int()
	if err != nil {
		return fmt.Errorf("redis update job: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// transition is update for jobs that may already be DONE; those are left as is.
func (q *JobQueue) transition(ctx context.Context, key string, pairs ...interface{}) error {
	pairs = append(pairs, "updated_at", nowString())
	n, err := luaTransition.Run(ctx, q.cli, []string{q.jobKey(key)}, pairs...).Int()
	if err != nil {
		return fmt.Errorf("redis transition job: %w", err)
	}
	if n < 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (q *JobQueue) MarkInProgress(ctx context.Context, key string) error {
	return q.transition(ctx, key, "status", string(model.JobStatusInProgress))
}

func (q *JobQueue) SetResult(ctx context.Context, key, text, detectedLang string) error {
	return q.update(ctx, key,
		"status", string(model.JobStatusDone),
		"text", text,
		"detected_lang", detectedLang,
		"error", "",
	)
}

func (q *JobQueue) MarkFailed(ctx context.Context, key, reason string) error {
	return q.transition(ctx, key, "status", string(model.JobStatusFailed), "error", reason)
}

func (q *JobQueue) Requeue(ctx context.Context, key string) error {
	n, err := luaRequeue.Run(ctx, q.cli, []string{q.jobKey(key), q.todoKey()}, key, nowString()).Int()
	if err != nil {
		return fmt.Errorf("redis requeue: %w", err)
	}
	switch n {
	case -1:
		return domain.ErrNotFound
	case 0:
		return fmt.Errorf("job %s is not failed or in progress: %w", key, domain.ErrInvalidArgument)
	}
	return nil
}

func (q *JobQueue) Get(ctx context.Context, key string) (*model.QueueJob, error) {
	fields, err := q.cli.HGetAll(ctx, q.jobKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return jobFromHash(key, fields)
}

func (q *JobQueue) GetResult(ctx context.Context, key string) (string, error) {
	vals, err := q.cli.HMGet(ctx, q.jobKey(key), "status", "text").Result()
	if err != nil {
		return "", fmt.Errorf("redis get result: %w", err)
	}
	status, _ := vals[0].(string)
	if status == "" {
		return "", domain.ErrNotFound
	}
	if model.JobStatus(status) != model.JobStatusDone {
		return "", fmt.Errorf("job %s is %s: %w", key, status, domain.ErrNotFound)
	}
	text, _ := vals[1].(string)
	return text, nil
}

func (q *JobQueue) GroupStatus(ctx context.Context, master string) (model.GroupStatus, error) {
	var st model.GroupStatus
	keys, err := q.cli.SMembers(ctx, q.masterKey(master)).Result()
	if err != nil {
		return st, fmt.Errorf("redis group members: %w", err)
	}
	if len(keys) == 0 {
		return st, nil
	}
	pipe := q.cli.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGet(ctx, q.jobKey(k), "status")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return st, fmt.Errorf("redis group status: %w", err)
	}
	for _, c := range cmds {
		s, err := c.Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return st, err
		}
		st.Add(model.JobStatus(s))
	}
	return st, nil
}

func (q *JobQueue) AllDone(ctx context.Context, master string) (bool, error) {
	st, err := q.GroupStatus(ctx, master)
	if err != nil {
		return false, err
	}
	return st.AllDone(), nil
}

func (q *JobQueue) DeleteGroup(ctx context.Context, master string) error {
	err := luaDeleteGroup.Run(ctx, q.cli, []string{q.masterKey(master)},
		q.jobPrefix(), q.refsPrefix(), master,
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis delete group: %w", err)
	}
	return nil
}

func jobFromHash(key string, f map[string]string) (*model.QueueJob, error) {
	samples, err := model.DecodeSamples([]byte(f["samples"]))
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", key, err)
	}
	return &model.QueueJob{
		Key:          key,
		Samples:      samples,
		MainLang:     f["lang"],
		ModelConfig:  f["model_config"],
		Status:       model.JobStatus(f["status"]),
		Transcript:   f["text"],
		DetectedLang: f["detected_lang"],
		LastError:    f["error"],
		CreatedAt:    parseNanos(f["created_at"]),
		UpdatedAt:    parseNanos(f["updated_at"]),
	}, nil
}
