package inmemory

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/cashflow-assistant/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ExportJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, last state %+v", jobID, want, job)
	return nil
}

func TestQueue_CompletesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, store)
	defer q.Close()

	var seen atomic.Value
	if err := q.Start(context.Background(), func(ctx context.Context, job *jobs.ExportJob) error {
		seen.Store(job.SessionID)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	job := &jobs.ExportJob{SessionID: "s1", Target: jobs.TargetGCS}
	if err := q.PublishExport(context.Background(), job); err != nil {
		t.Fatalf("PublishExport: %v", err)
	}
	if job.JobID == "" || job.MaxRetries != 3 {
		t.Errorf("job not stamped: %+v", job)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Errorf("timestamps missing: %+v", done)
	}
	if seen.Load() != "s1" {
		t.Errorf("handler saw %v", seen.Load())
	}
}

func TestQueue_RetriesThenFails(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, store, WithBackoff(time.Millisecond), WithWorkers(1))
	defer q.Close()

	var calls int32
	if err := q.Start(context.Background(), func(ctx context.Context, job *jobs.ExportJob) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("bucket unavailable")
	}); err != nil {
		t.Fatal(err)
	}

	job := &jobs.ExportJob{SessionID: "s1", Target: jobs.TargetGCS, MaxRetries: 2}
	if err := q.PublishExport(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.RetryCount != 2 || failed.Error != "bucket unavailable" {
		t.Errorf("unexpected final state %+v", failed)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
}

func TestQueue_RetryAfterCloseFailsJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, store, WithBackoff(100*time.Millisecond), WithWorkers(1))

	var calls int32
	if err := q.Start(context.Background(), func(ctx context.Context, job *jobs.ExportJob) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("bucket unavailable")
	}); err != nil {
		t.Fatal(err)
	}

	job := &jobs.ExportJob{SessionID: "s1", Target: jobs.TargetGCS, MaxRetries: 3}
	if err := q.PublishExport(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, store, job.JobID, jobs.JobStatusRetrying)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.CompletedAt == nil || !strings.Contains(failed.Error, "retry not scheduled") {
		t.Errorf("unexpected final state %+v", failed)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("handler calls = %d, want 1", got)
	}
}

func TestQueue_ClosedRejectsPublish(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishExport(context.Background(), &jobs.ExportJob{SessionID: "s1"}); err == nil {
		t.Error("expected error publishing to a closed queue")
	}
}

func TestStore_ListJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, j := range []jobs.ExportJob{
		{JobID: "a", SessionID: "s1", Target: jobs.TargetGCS, Status: jobs.JobStatusCompleted},
		{JobID: "b", SessionID: "s1", Target: jobs.TargetNotion, Status: jobs.JobStatusFailed},
		{JobID: "c", SessionID: "s2", Target: jobs.TargetGCS, Status: jobs.JobStatusCompleted},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveJob(ctx, &j); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{name: "all newest first", want: []string{"c", "b", "a"}},
		{name: "by session", filter: jobs.JobFilter{SessionID: "s1"}, want: []string{"b", "a"}},
		{name: "by target", filter: jobs.JobFilter{Target: jobs.TargetGCS}, want: []string{"c", "a"}},
		{name: "by status", filter: jobs.JobFilter{Status: jobs.JobStatusFailed}, want: []string{"b"}},
		{name: "paged", filter: jobs.JobFilter{Offset: 1, Limit: 1}, want: []string{"b"}},
		{name: "offset past end", filter: jobs.JobFilter{Offset: 5}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}

	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob(missing) = %v", err)
	}
}
