package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	promoteChunk        = 512
	workerBuffer        = 1024
)

// HandlerFunc processes one job. A returned error triggers a retry with
// backoff while attempts remain; afterwards the job is parked in the failed
// set.
type HandlerFunc func(ctx context.Context, job *Job) error

// Queue is a named, durable job queue on Redis. Delayed jobs wait in a sorted
// set scored by due time; a promotion loop moves due ids to a ready list, and
// per-name workers pop ready jobs through an active list so an interrupted
// process can requeue them on the next start.
type Queue struct {
	name   string
	rdb    *redis.Client
	logger *zap.Logger

	pollInterval time.Duration

	mu       sync.Mutex
	handlers map[string]chan *Job
	fns      map[string]HandlerFunc
	started  bool

	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
}

// New creates a queue. Handlers must be registered before Start.
func New(name string, rdb *redis.Client, logger *zap.Logger) *Queue {
	return &Queue{
		name:         name,
		rdb:          rdb,
		logger:       logger,
		pollInterval: defaultPollInterval,
		handlers:     make(map[string]chan *Job),
		fns:          make(map[string]HandlerFunc),
	}
}

func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("jobs:%s:%s", q.name, suffix)
}

func (q *Queue) jobKey(id string) string {
	return fmt.Sprintf("jobs:%s:job:%s", q.name, id)
}

// Enqueue persists a job and schedules it after opts.Delay. Returns the job
// id, which dispatch scheduling stores for the stale-job guard.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts Options) (string, error) {
	job, err := newJob(uuid.NewString(), name, payload, opts)
	if err != nil {
		return "", err
	}

	if err := q.store(ctx, job); err != nil {
		return "", err
	}

	if err := q.schedule(ctx, job.ID, opts.Delay); err != nil {
		return "", err
	}

	q.logger.Debug("job enqueued",
		zap.String("queue", q.name),
		zap.String("job", name),
		zap.String("job_id", job.ID),
		zap.Duration("delay", opts.Delay),
	)

	return job.ID, nil
}

// EnqueueUnique is Enqueue with a caller-chosen job id. An id whose record
// already exists is left untouched and reported as not created, so repeated
// enqueues of the same id collapse into one pending job. The record is
// released when the job completes.
func (q *Queue) EnqueueUnique(ctx context.Context, id, name string, payload any, opts Options) (string, bool, error) {
	job, err := newJob(id, name, payload, opts)
	if err != nil {
		return "", false, err
	}

	created, err := q.storeNX(ctx, job)
	if err != nil {
		return "", false, err
	}
	if !created {
		q.logger.Debug("job already enqueued",
			zap.String("queue", q.name),
			zap.String("job", name),
			zap.String("job_id", id),
		)
		return id, false, nil
	}

	if err := q.schedule(ctx, id, opts.Delay); err != nil {
		return "", false, err
	}

	q.logger.Debug("job enqueued",
		zap.String("queue", q.name),
		zap.String("job", name),
		zap.String("job_id", id),
		zap.Duration("delay", opts.Delay),
	)

	return id, true, nil
}

func newJob(id, name string, payload any, opts Options) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	return &Job{
		ID:            id,
		Name:          name,
		Data:          data,
		MaxAttempts:   attempts,
		BackoffMS:     opts.Backoff.Milliseconds(),
		KeepCompleted: opts.KeepCompleted,
		EnqueuedAt:    time.Now().UnixMilli(),
	}, nil
}

func (q *Queue) store(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.Set(ctx, q.jobKey(job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

// storeNX writes the job record only if no record exists under its id.
func (q *Queue) storeNX(ctx context.Context, job *Job) (bool, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	created, err := q.rdb.SetNX(ctx, q.jobKey(job.ID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("store job: %w", err)
	}
	return created, nil
}

func (q *Queue) schedule(ctx context.Context, id string, delay time.Duration) error {
	if delay > 0 {
		due := float64(time.Now().Add(delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, q.key("delayed"), redis.Z{Score: due, Member: id}).Err(); err != nil {
			return fmt.Errorf("schedule delayed job: %w", err)
		}
		return nil
	}
	if err := q.rdb.LPush(ctx, q.key("ready"), id).Err(); err != nil {
		return fmt.Errorf("push ready job: %w", err)
	}
	return nil
}

// Handle registers the handler for a job name. Each name gets its own worker
// goroutine, so executions of the same name never overlap.
func (q *Queue) Handle(name string, fn HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		panic("jobs: Handle called after Start")
	}
	q.fns[name] = fn
	q.handlers[name] = make(chan *Job, workerBuffer)
}

// Start recovers jobs left in the active list by a previous run and launches
// the promotion loop plus one worker per registered name. It returns
// immediately; Stop drains the workers.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return errors.New("jobs: queue already started")
	}
	q.started = true
	q.mu.Unlock()

	if err := q.recoverActive(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.runCtx = runCtx
	q.cancel = cancel
	q.mu.Unlock()

	for name, ch := range q.handlers {
		q.wg.Add(1)
		go q.worker(runCtx, name, q.fns[name], ch)
	}

	q.wg.Add(1)
	go q.loop(runCtx)

	q.logger.Info("job queue started",
		zap.String("queue", q.name),
		zap.Int("handlers", len(q.handlers)),
	)

	return nil
}

// Stop halts polling and waits for in-flight handlers to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// recoverActive requeues jobs that were mid-flight when the previous process
// died. At-least-once: they will run again.
func (q *Queue) recoverActive(ctx context.Context) error {
	ids, err := q.rdb.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read active jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	for _, id := range ids {
		if err := q.rdb.LPush(ctx, q.key("ready"), id).Err(); err != nil {
			return fmt.Errorf("requeue active job: %w", err)
		}
	}
	if err := q.rdb.Del(ctx, q.key("active")).Err(); err != nil {
		return fmt.Errorf("clear active list: %w", err)
	}

	q.logger.Warn("requeued interrupted jobs",
		zap.String("queue", q.name),
		zap.Int("count", len(ids)),
	)

	return nil
}

func (q *Queue) loop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Error("promote delayed jobs", zap.String("queue", q.name), zap.Error(err))
			}
			q.drainReady(ctx)
		}
	}
}

// promoteDue moves jobs whose due time has passed from the delayed set to the
// ready list.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteChunk,
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.key("ready"), id).Err(); err != nil {
			return err
		}
	}

	return nil
}

// drainReady pops ready jobs into the active list and routes them to their
// name's worker.
func (q *Queue) drainReady(ctx context.Context) {
	for {
		id, err := q.rdb.RPopLPush(ctx, q.key("ready"), q.key("active")).Result()
		if errors.Is(err, redis.Nil) {
			return
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				q.logger.Error("pop ready job", zap.String("queue", q.name), zap.Error(err))
			}
			return
		}

		job, err := q.load(ctx, id)
		if err != nil {
			q.logger.Error("load job",
				zap.String("queue", q.name),
				zap.String("job_id", id),
				zap.Error(err),
			)
			q.discard(ctx, id)
			continue
		}

		ch, ok := q.handlers[job.Name]
		if !ok {
			q.logger.Error("no handler registered for job",
				zap.String("queue", q.name),
				zap.String("job", job.Name),
			)
			q.discard(ctx, id)
			continue
		}

		select {
		case ch <- job:
		case <-ctx.Done():
			// Leave the job in the active list; the next start requeues it.
			return
		}
	}
}

func (q *Queue) load(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) discard(ctx context.Context, id string) {
	q.rdb.LRem(ctx, q.key("active"), 1, id)
	q.rdb.Del(ctx, q.jobKey(id))
}

func (q *Queue) worker(ctx context.Context, name string, fn HandlerFunc, ch chan *Job) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-ch:
			q.execute(ctx, name, fn, job)
		}
	}
}

func (q *Queue) execute(ctx context.Context, name string, fn HandlerFunc, job *Job) {
	start := time.Now()
	job.AttemptsMade++

	err := fn(ctx, job)

	if err == nil && !job.retry {
		q.complete(ctx, job)
		q.logger.Debug("job completed",
			zap.String("queue", q.name),
			zap.String("job", name),
			zap.String("job_id", job.ID),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}

	if job.AttemptsMade < job.MaxAttempts {
		backoff := job.nextBackoff()
		if rerr := q.requeue(ctx, job, backoff); rerr != nil {
			q.logger.Error("requeue failed job",
				zap.String("queue", q.name),
				zap.String("job_id", job.ID),
				zap.Error(rerr),
			)
			return
		}
		q.logger.Warn("job retry scheduled",
			zap.String("queue", q.name),
			zap.String("job", name),
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.AttemptsMade),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		return
	}

	q.fail(ctx, job)
	q.logger.Error("job failed permanently",
		zap.String("queue", q.name),
		zap.String("job", name),
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.AttemptsMade),
		zap.Error(err),
	)
}

func (q *Queue) complete(ctx context.Context, job *Job) {
	q.rdb.LRem(ctx, q.key("active"), 1, job.ID)
	if job.KeepCompleted {
		q.rdb.ZAdd(ctx, q.key("completed"), redis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: job.ID,
		})
		return
	}
	q.rdb.Del(ctx, q.jobKey(job.ID))
}

// requeue persists the incremented attempt count and puts the job back in the
// delayed set. The job keeps its id, so a stored stale-job guard still
// matches.
func (q *Queue) requeue(ctx context.Context, job *Job, backoff time.Duration) error {
	job.retry = false
	if err := q.store(ctx, job); err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, q.key("active"), 1, job.ID).Err(); err != nil {
		return err
	}
	return q.schedule(ctx, job.ID, backoff)
}

func (q *Queue) fail(ctx context.Context, job *Job) {
	q.store(ctx, job)
	q.rdb.LRem(ctx, q.key("active"), 1, job.ID)
	q.rdb.ZAdd(ctx, q.key("failed"), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: job.ID,
	})
}

// Depths reports how many jobs sit in each internal bucket, for logging and
// metrics.
func (q *Queue) Depths(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, 4)

	for _, bucket := range []string{"ready", "active"} {
		n, err := q.rdb.LLen(ctx, q.key(bucket)).Result()
		if err != nil {
			return nil, fmt.Errorf("llen %s: %w", bucket, err)
		}
		depths[bucket] = n
	}
	for _, bucket := range []string{"delayed", "failed", "completed"} {
		n, err := q.rdb.ZCard(ctx, q.key(bucket)).Result()
		if err != nil {
			return nil, fmt.Errorf("zcard %s: %w", bucket, err)
		}
		depths[bucket] = n
	}

	return depths, nil
}
