package jobs

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EnqueueRepeating enqueues the named job immediately and then again every
// interval until ctx is canceled or the queue stops. Must be called after
// Start: the ticker goroutine is tied to the queue's run context so Stop can
// wait it out. Repeats are fire-and-forget; the per-name worker serializes
// executions, so a slow handler simply causes ticks to queue behind it.
func (q *Queue) EnqueueRepeating(ctx context.Context, name string, payload any, every time.Duration) {
	q.mu.Lock()
	runCtx := q.runCtx
	q.mu.Unlock()
	if runCtx == nil {
		panic("jobs: EnqueueRepeating called before Start")
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		if _, err := q.Enqueue(ctx, name, payload, Options{}); err != nil {
			q.logger.Error("enqueue repeating job",
				zap.String("queue", q.name),
				zap.String("job", name),
				zap.Error(err),
			)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if _, err := q.Enqueue(ctx, name, payload, Options{}); err != nil {
					q.logger.Error("enqueue repeating job",
						zap.String("queue", q.name),
						zap.String("job", name),
						zap.Error(err),
					)
				}
			}
		}
	}()
}

// Clean removes completed and failed job remnants older than the given ages,
// returning how many records were dropped. Failures typically get a longer
// retention so they can be inspected.
func (q *Queue) Clean(ctx context.Context, completedOlderThan, failedOlderThan time.Duration) (int, error) {
	removed := 0

	buckets := []struct {
		key    string
		maxAge time.Duration
	}{
		{q.key("completed"), completedOlderThan},
		{q.key("failed"), failedOlderThan},
	}

	for _, b := range buckets {
		cutoff := time.Now().Add(-b.maxAge).UnixMilli()
		ids, err := q.rdb.ZRangeByScore(ctx, b.key, &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(cutoff, 10),
		}).Result()
		if err != nil {
			return removed, err
		}
		for _, id := range ids {
			if err := q.rdb.ZRem(ctx, b.key, id).Err(); err != nil {
				return removed, err
			}
			q.rdb.Del(ctx, q.jobKey(id))
			removed++
		}
	}

	return removed, nil
}
