package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := New("test", rdb, zap.NewNop())
	q.pollInterval = 10 * time.Millisecond
	return q, rdb
}

type greeting struct {
	Name string `json:"name"`
}

func TestEnqueueAndExecute(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	got := make(chan greeting, 1)
	q.Handle("greet", func(ctx context.Context, job *Job) error {
		var g greeting
		if err := json.Unmarshal(job.Data, &g); err != nil {
			return err
		}
		got <- g
		return nil
	})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	id, err := q.Enqueue(ctx, "greet", greeting{Name: "maria"}, Options{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("empty job id")
	}

	select {
	case g := <-got:
		if g.Name != "maria" {
			t.Fatalf("payload = %+v", g)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never executed")
	}
}

func TestDelayedJobWaits(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	executed := make(chan time.Time, 1)
	q.Handle("later", func(ctx context.Context, job *Job) error {
		executed <- time.Now()
		return nil
	})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	start := time.Now()
	if _, err := q.Enqueue(ctx, "later", nil, Options{Delay: 150 * time.Millisecond}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case at := <-executed:
		if elapsed := at.Sub(start); elapsed < 140*time.Millisecond {
			t.Fatalf("job fired after %v, want >= ~150ms", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed job never executed")
	}
}

func TestRetryWithBackoff(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var attempts []int
	var mu sync.Mutex
	done := make(chan struct{})
	q.Handle("flaky", func(ctx context.Context, job *Job) error {
		mu.Lock()
		attempts = append(attempts, job.AttemptsMade)
		n := len(attempts)
		mu.Unlock()
		if n < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	if _, err := q.Enqueue(ctx, "flaky", nil, Options{Attempts: 3, Backoff: 20 * time.Millisecond}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never succeeded")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 3 {
		t.Fatalf("attempts = %v, want 3 executions", attempts)
	}
	for i, a := range attempts {
		if a != i+1 {
			t.Fatalf("attempt numbers = %v", attempts)
		}
	}
}

func TestExhaustedJobParkedInFailedSet(t *testing.T) {
	q, rdb := newTestQueue(t)
	ctx := context.Background()

	executions := make(chan struct{}, 4)
	q.Handle("doomed", func(ctx context.Context, job *Job) error {
		executions <- struct{}{}
		return errors.New("permanent")
	})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	if _, err := q.Enqueue(ctx, "doomed", nil, Options{Attempts: 2, Backoff: 10 * time.Millisecond}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-executions:
		case <-time.After(3 * time.Second):
			t.Fatalf("execution %d never happened", i+1)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := rdb.ZCard(ctx, "jobs:test:failed").Result()
		if err != nil {
			t.Fatalf("zcard failed set: %v", err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed set size = %d, want 1", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExplicitRetryReRunsSuccessfulHandler(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var count int32
	done := make(chan struct{})
	q.Handle("again", func(ctx context.Context, job *Job) error {
		if atomic.AddInt32(&count, 1) == 1 {
			job.Retry()
			return nil
		}
		close(done)
		return nil
	})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	if _, err := q.Enqueue(ctx, "again", nil, Options{Attempts: 3, Backoff: 10 * time.Millisecond}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("retry never re-ran the job")
	}
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Fatalf("executions = %d, want 2", got)
	}
}

func TestSameNameJobsSerialize(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	wg.Add(3)
	q.Handle("serial", func(ctx context.Context, job *Job) error {
		defer wg.Done()
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, "serial", nil, Options{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not finish")
	}

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("max in-flight = %d, want 1", got)
	}
}

func TestStartRecoversInterruptedJobs(t *testing.T) {
	q, rdb := newTestQueue(t)
	ctx := context.Background()

	// Simulate a crash: a stored job sitting in the active list.
	job := &Job{ID: "stale-1", Name: "recover", MaxAttempts: 1, EnqueuedAt: time.Now().UnixMilli()}
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	if err := rdb.Set(ctx, "jobs:test:job:stale-1", data, 0).Err(); err != nil {
		t.Fatal(err)
	}
	if err := rdb.LPush(ctx, "jobs:test:active", "stale-1").Err(); err != nil {
		t.Fatal(err)
	}

	executed := make(chan string, 1)
	q.Handle("recover", func(ctx context.Context, job *Job) error {
		executed <- job.ID
		return nil
	})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	select {
	case id := <-executed:
		if id != "stale-1" {
			t.Fatalf("recovered job id = %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted job never re-ran")
	}
}

func TestCleanRemovesOldRemnants(t *testing.T) {
	q, rdb := newTestQueue(t)
	ctx := context.Background()

	old := float64(time.Now().Add(-48 * time.Hour).UnixMilli())
	fresh := float64(time.Now().UnixMilli())

	rdb.Set(ctx, "jobs:test:job:old-done", "{}", 0)
	rdb.Set(ctx, "jobs:test:job:new-done", "{}", 0)
	rdb.ZAdd(ctx, "jobs:test:completed", redis.Z{Score: old, Member: "old-done"})
	rdb.ZAdd(ctx, "jobs:test:completed", redis.Z{Score: fresh, Member: "new-done"})
	rdb.ZAdd(ctx, "jobs:test:failed", redis.Z{Score: old, Member: "old-failed"})

	removed, err := q.Clean(ctx, 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if n, _ := rdb.ZCard(ctx, "jobs:test:completed").Result(); n != 1 {
		t.Fatalf("completed set size = %d, want 1", n)
	}
	if n, _ := rdb.ZCard(ctx, "jobs:test:failed").Result(); n != 1 {
		t.Fatal("recent failure must be retained")
	}
	if err := rdb.Get(ctx, "jobs:test:job:old-done").Err(); !errors.Is(err, redis.Nil) {
		t.Fatal("old job record not deleted")
	}
}

func TestDepths(t *testing.T) {
	q, rdb := newTestQueue(t)
	ctx := context.Background()

	rdb.LPush(ctx, "jobs:test:ready", "a", "b")
	rdb.ZAdd(ctx, "jobs:test:delayed", redis.Z{Score: 1, Member: "c"})

	depths, err := q.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths: %v", err)
	}
	if depths["ready"] != 2 || depths["delayed"] != 1 || depths["active"] != 0 {
		t.Fatalf("depths = %v", depths)
	}
}

func TestEnqueueUniqueDedupes(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, created, err := q.EnqueueUnique(ctx, "fan-1", "fan", nil, Options{Delay: time.Minute})
	if err != nil {
		t.Fatalf("EnqueueUnique: %v", err)
	}
	if id != "fan-1" || !created {
		t.Fatalf("first enqueue = (%q, %v), want (fan-1, true)", id, created)
	}

	id, created, err = q.EnqueueUnique(ctx, "fan-1", "fan", nil, Options{Delay: time.Minute})
	if err != nil {
		t.Fatalf("EnqueueUnique: %v", err)
	}
	if id != "fan-1" || created {
		t.Fatalf("repeated enqueue = (%q, %v), want (fan-1, false)", id, created)
	}

	depths, err := q.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths: %v", err)
	}
	if depths["delayed"] != 1 {
		t.Fatalf("delayed depth = %d, want 1", depths["delayed"])
	}

	if _, created, err = q.EnqueueUnique(ctx, "fan-2", "fan", nil, Options{Delay: time.Minute}); err != nil || !created {
		t.Fatalf("fresh id enqueue = (%v, %v), want (true, nil)", created, err)
	}
}

func TestStopHaltsRepeatingEnqueues(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.Handle("tick", func(ctx context.Context, job *Job) error { return nil })
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	q.EnqueueRepeating(ctx, "tick", nil, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop must return even when the caller's context stays live")
	}
}
