// Package repotest holds behaviour checks shared by every repository backend.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/repository"
)

func chunk(t *testing.T, seed float32) *model.AudioChunk {
	t.Helper()
	c, err := model.NewAudioChunk([]float32{seed, seed / 2, -seed}, "de", "small")
	if err != nil {
		t.Fatalf("new chunk: %v", err)
	}
	return c
}

func mustEnqueue(t *testing.T, q repository.JobQueue, c *model.AudioChunk, master string) string {
	t.Helper()
	key, err := q.Enqueue(context.Background(), c, master)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return key
}

func complete(t *testing.T, q repository.JobQueue, text string) *model.QueueJob {
	t.Helper()
	ctx := context.Background()
	job, err := q.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.MarkInProgress(ctx, job.Key); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	if err := q.SetResult(ctx, job.Key, text, "de"); err != nil {
		t.Fatalf("set result: %v", err)
	}
	return job
}

// RunJobQueue exercises the JobQueue contract. newQueue must return an
// empty, isolated queue on every call.
func RunJobQueue(t *testing.T, newQueue func(t *testing.T) repository.JobQueue) {
	ctx := context.Background()

	t.Run("empty queue", func(t *testing.T) {
		q := newQueue(t)
		if _, err := q.DequeueNext(ctx); !errors.Is(err, domain.ErrQueueEmpty) {
			t.Fatalf("expected ErrQueueEmpty, got %v", err)
		}
		done, err := q.AllDone(ctx, "nobody")
		if err != nil || done {
			t.Fatalf("AllDone on unknown master = %v, %v", done, err)
		}
	})

	t.Run("enqueue is idempotent", func(t *testing.T) {
		q := newQueue(t)
		c := chunk(t, 0.25)
		k1 := mustEnqueue(t, q, c, "m1")
		k2 := mustEnqueue(t, q, chunk(t, 0.25), "m1")
		if k1 != k2 || k1 != c.Key {
			t.Fatalf("keys differ: %s %s", k1, k2)
		}
		if _, err := q.DequeueNext(ctx); err != nil {
			t.Fatalf("first dequeue: %v", err)
		}
		if _, err := q.DequeueNext(ctx); !errors.Is(err, domain.ErrQueueEmpty) {
			t.Fatalf("duplicate enqueue produced a second job: %v", err)
		}
	})

	t.Run("dequeue hands out oldest first with payload", func(t *testing.T) {
		q := newQueue(t)
		first := chunk(t, 0.1)
		mustEnqueue(t, q, first, "m")
		mustEnqueue(t, q, chunk(t, 0.2), "m")
		job, err := q.DequeueNext(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if job.Key != first.Key {
			t.Fatalf("got %s, want oldest %s", job.Key, first.Key)
		}
		if job.MainLang != "de" || job.ModelConfig != "small" || len(job.Samples) != 3 || job.Samples[0] != 0.1 {
			t.Fatalf("payload not preserved: %+v", job)
		}
	})

	t.Run("lifecycle and all done", func(t *testing.T) {
		q := newQueue(t)
		ka := mustEnqueue(t, q, chunk(t, 0.3), "m")
		kb := mustEnqueue(t, q, chunk(t, 0.4), "m")

		complete(t, q, "hello")
		done, err := q.AllDone(ctx, "m")
		if err != nil || done {
			t.Fatalf("AllDone after one of two = %v, %v", done, err)
		}
		st, err := q.GroupStatus(ctx, "m")
		if err != nil {
			t.Fatal(err)
		}
		if st.Total != 2 || st.Done != 1 || st.Todo != 1 {
			t.Fatalf("group status = %+v", st)
		}

		complete(t, q, "world")
		done, err = q.AllDone(ctx, "m")
		if err != nil || !done {
			t.Fatalf("AllDone after both = %v, %v", done, err)
		}

		if got, _ := q.GetResult(ctx, ka); got != "hello" {
			t.Errorf("result a = %q", got)
		}
		if got, _ := q.GetResult(ctx, kb); got != "world" {
			t.Errorf("result b = %q", got)
		}
		job, err := q.Get(ctx, ka)
		if err != nil || job.Status != model.JobStatusDone || job.DetectedLang != "de" {
			t.Errorf("get = %+v, %v", job, err)
		}
	})

	t.Run("all done stays true until delete group", func(t *testing.T) {
		q := newQueue(t)
		c := chunk(t, 0.35)
		ka := mustEnqueue(t, q, c, "m")
		kb := mustEnqueue(t, q, chunk(t, 0.45), "m")
		complete(t, q, "first")
		complete(t, q, "second")
		if done, err := q.AllDone(ctx, "m"); err != nil || !done {
			t.Fatalf("AllDone after both = %v, %v", done, err)
		}

		// A second worker still holding ka after a requeue reports late.
		if err := q.MarkInProgress(ctx, ka); err != nil {
			t.Fatalf("mark in progress on done job: %v", err)
		}
		if err := q.MarkFailed(ctx, kb, "late failure"); err != nil {
			t.Fatalf("mark failed on done job: %v", err)
		}
		mustEnqueue(t, q, c, "m")
		if _, err := q.DequeueNext(ctx); !errors.Is(err, domain.ErrQueueEmpty) {
			t.Fatalf("re-enqueue of done job made it pending: %v", err)
		}

		if done, err := q.AllDone(ctx, "m"); err != nil || !done {
			t.Fatalf("AllDone after late transitions = %v, %v", done, err)
		}
		if got, err := q.GetResult(ctx, ka); err != nil || got != "first" {
			t.Errorf("result a = %q, %v", got, err)
		}
		if got, err := q.GetResult(ctx, kb); err != nil || got != "second" {
			t.Errorf("result b = %q, %v", got, err)
		}
		job, err := q.Get(ctx, kb)
		if err != nil || job.LastError != "" {
			t.Errorf("done job picked up error: %+v, %v", job, err)
		}

		if err := q.MarkInProgress(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("mark in progress missing: %v", err)
		}
		if err := q.MarkFailed(ctx, "missing", "x"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("mark failed missing: %v", err)
		}

		if err := q.DeleteGroup(ctx, "m"); err != nil {
			t.Fatal(err)
		}
		if done, _ := q.AllDone(ctx, "m"); done {
			t.Fatal("AllDone true after delete group")
		}
	})

	t.Run("result of unfinished job", func(t *testing.T) {
		q := newQueue(t)
		k := mustEnqueue(t, q, chunk(t, 0.5), "m")
		if _, err := q.GetResult(ctx, k); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete group", func(t *testing.T) {
		q := newQueue(t)
		k := mustEnqueue(t, q, chunk(t, 0.6), "m")
		complete(t, q, "x")
		if err := q.DeleteGroup(ctx, "m"); err != nil {
			t.Fatal(err)
		}
		if _, err := q.Get(ctx, k); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("job survived delete: %v", err)
		}
		if done, _ := q.AllDone(ctx, "m"); done {
			t.Fatal("deleted group reported done")
		}
		if err := q.SetResult(ctx, k, "late", "de"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("late result on deleted job: %v", err)
		}
	})

	t.Run("delete group keeps jobs shared with other masters", func(t *testing.T) {
		q := newQueue(t)
		k := mustEnqueue(t, q, chunk(t, 0.7), "m1")
		mustEnqueue(t, q, chunk(t, 0.7), "m2")
		if err := q.DeleteGroup(ctx, "m1"); err != nil {
			t.Fatal(err)
		}
		if _, err := q.Get(ctx, k); err != nil {
			t.Fatalf("shared job deleted: %v", err)
		}
		complete(t, q, "shared")
		if done, _ := q.AllDone(ctx, "m2"); !done {
			t.Fatal("m2 not done")
		}
	})

	t.Run("failed job is retried on enqueue and requeue", func(t *testing.T) {
		q := newQueue(t)
		c := chunk(t, 0.8)
		mustEnqueue(t, q, c, "m")
		job, err := q.DequeueNext(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := q.MarkFailed(ctx, job.Key, "asr down"); err != nil {
			t.Fatal(err)
		}
		st, _ := q.GroupStatus(ctx, "m")
		if st.Failed != 1 {
			t.Fatalf("group status = %+v", st)
		}
		got, _ := q.Get(ctx, job.Key)
		if got.LastError != "asr down" {
			t.Errorf("last error = %q", got.LastError)
		}

		mustEnqueue(t, q, c, "m")
		job, err = q.DequeueNext(ctx)
		if err != nil {
			t.Fatalf("failed job not pending after enqueue: %v", err)
		}
		if err := q.MarkFailed(ctx, job.Key, "again"); err != nil {
			t.Fatal(err)
		}
		if err := q.Requeue(ctx, job.Key); err != nil {
			t.Fatalf("requeue: %v", err)
		}
		if _, err := q.DequeueNext(ctx); err != nil {
			t.Fatalf("requeued job not pending: %v", err)
		}
		if err := q.Requeue(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("requeue missing: %v", err)
		}
	})

	t.Run("concurrent dequeue hands each job out once", func(t *testing.T) {
		q := newQueue(t)
		const jobs = 20
		for i := 0; i < jobs; i++ {
			mustEnqueue(t, q, chunk(t, float32(i+1)), "m")
		}
		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := q.DequeueNext(ctx)
					if errors.Is(err, domain.ErrQueueEmpty) {
						return
					}
					if err != nil {
						t.Error(fmt.Errorf("dequeue: %w", err))
						return
					}
					mu.Lock()
					seen[job.Key]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if len(seen) != jobs {
			t.Fatalf("handed out %d distinct jobs, want %d", len(seen), jobs)
		}
		for k, n := range seen {
			if n != 1 {
				t.Errorf("job %s handed out %d times", k, n)
			}
		}
	})
}
