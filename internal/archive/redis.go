// Package archive keeps finished tasks in Redis so they outlive an engine
// restart.
package archive

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/neurosched/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	tasksKey    = "neurosched:tasks"
	finishedKey = "neurosched:finished"
)

var ErrNotFound = errors.New("archived task not found")

// Record is a finished task together with the engine run that produced it.
// The hash stores only the task JSON; the run id comes from the field key.
type Record struct {
	RunID string    `json:"run_id"`
	Task  task.Task `json:"task"`
}

type Archive struct {
	client *redis.Client
	// maxRecords caps the finished index; zero keeps everything.
	maxRecords int64
	now        func() time.Time
}

func NewArchive(redisAddr string, maxRecords int64) (*Archive, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Archive{
		client:     client,
		maxRecords: max(maxRecords, 0),
		now:        time.Now,
	}, nil
}

func recordKey(runID string, id int64) string {
	return runID + ":" + strconv.FormatInt(id, 10)
}

func splitKey(key string) (string, bool) {
	i := strings.LastIndexByte(key, ':')
	if i <= 0 {
		return "", false
	}

	return key[:i], true
}

// RecordTask stores t under its run and indexes it by end time.
func (a *Archive) RecordTask(ctx context.Context, runID string, t task.Task) error {
	data, err := t.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	ended := a.now()
	if t.EndedAt != nil {
		ended = *t.EndedAt
	}
	key := recordKey(runID, t.ID)

	pipe := a.client.TxPipeline()
	pipe.HSet(ctx, tasksKey, key, data)
	pipe.ZAdd(ctx, finishedKey, redis.Z{
		Score:  float64(ended.UnixMilli()),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to archive task %d: %w", t.ID, err)
	}

	return a.trim(ctx)
}

func (a *Archive) trim(ctx context.Context) error {
	if a.maxRecords == 0 {
		return nil
	}

	count, err := a.client.ZCard(ctx, finishedKey).Result()
	if err != nil || count <= a.maxRecords {
		return err
	}

	stale, err := a.client.ZRange(ctx, finishedKey, 0, count-a.maxRecords-1).Result()
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	members := make([]any, len(stale))
	for i, key := range stale {
		members[i] = key
	}

	pipe := a.client.TxPipeline()
	pipe.ZRem(ctx, finishedKey, members...)
	pipe.HDel(ctx, tasksKey, stale...)
	_, err = pipe.Exec(ctx)

	return err
}

func (a *Archive) GetTask(ctx context.Context, runID string, id int64) (*Record, error) {
	data, err := a.client.HGet(ctx, tasksKey, recordKey(runID, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return decodeRecord(runID, data)
}

// Recent returns up to limit records, most recently finished first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	keys, err := a.client.ZRevRange(ctx, finishedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []Record{}, nil
	}

	values, err := a.client.HMGet(ctx, tasksKey, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		runID, ok := splitKey(keys[i])
		if !ok {
			continue
		}
		rec, err := decodeRecord(runID, data)
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}

	return records, nil
}

// RunIDs lists the distinct runs present in the archive, sorted.
func (a *Archive) RunIDs(ctx context.Context) ([]string, error) {
	keys, err := a.client.HKeys(ctx, tasksKey).Result()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	runs := make([]string, 0)
	for _, key := range keys {
		run, ok := splitKey(key)
		if !ok {
			continue
		}
		if _, ok := seen[run]; ok {
			continue
		}
		seen[run] = struct{}{}
		runs = append(runs, run)
	}
	slices.Sort(runs)

	return runs, nil
}

func (a *Archive) Close() error {
	return a.client.Close()
}

func decodeRecord(runID, data string) (*Record, error) {
	t, err := task.TaskFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode archived task: %w", err)
	}

	return &Record{RunID: runID, Task: *t}, nil
}
