package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tribevibe-cleanup/internal/config"
	"tribevibe-cleanup/internal/models"
)

func testConfig() config.Config {
	return config.Config{
		WorkerMaxFetch:  100,
		DeleteBatchSize: 10,
		MaxRetries:      3,
		BackoffBase:     time.Millisecond,
		BackoffMax:      4 * time.Millisecond,
		BatchPause:      0,
		LeaseTimeout:    10 * time.Minute,
	}
}

type fakeJobStore struct {
	jobs      []*models.DeletionJob
	mutations int
	// denyClaim simulates a concurrent run winning the claim between
	// fetch and claim for the listed job ids.
	denyClaim map[string]bool
}

func (f *fakeJobStore) add(id, bucket, path, status string) *models.DeletionJob {
	j := &models.DeletionJob{
		ID:         id,
		TribeID:    "tribe-1",
		Bucket:     bucket,
		ObjectPath: path,
		Status:     status,
		CreatedBy:  "user-1",
		CreatedAt:  time.Now().Add(-time.Minute),
		UpdatedAt:  time.Now().Add(-time.Minute),
	}
	f.jobs = append(f.jobs, j)
	return j
}

func (f *fakeJobStore) ReclaimStale(_ context.Context, lease time.Duration) (int64, error) {
	cutoff := time.Now().Add(-lease)
	var n int64
	for _, j := range f.jobs {
		if j.Status == models.StatusInProgress && j.UpdatedAt.Before(cutoff) {
			j.Status = models.StatusPending
			j.UpdatedAt = time.Now()
			n++
		}
	}
	if n > 0 {
		f.mutations++
	}
	return n, nil
}

func (f *fakeJobStore) PendingJobs(_ context.Context, limit int) ([]models.DeletionJob, error) {
	var out []models.DeletionJob
	for _, j := range f.jobs {
		if j.Status == models.StatusPending {
			out = append(out, *j)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeJobStore) ClaimJob(_ context.Context, id string) (bool, error) {
	for _, j := range f.jobs {
		if j.ID != id {
			continue
		}
		if j.Status != models.StatusPending || f.denyClaim[id] {
			return false, nil
		}
		j.Status = models.StatusInProgress
		j.Attempts++
		j.UpdatedAt = time.Now()
		f.mutations++
		return true, nil
	}
	return false, nil
}

func (f *fakeJobStore) CompleteJobs(_ context.Context, ids []string) error {
	now := time.Now()
	for _, id := range ids {
		for _, j := range f.jobs {
			if j.ID == id {
				j.Status = models.StatusCompleted
				j.CompletedAt = &now
			}
		}
	}
	f.mutations++
	return nil
}

func (f *fakeJobStore) FailJobs(_ context.Context, ids []string, lastError string) error {
	for _, id := range ids {
		for _, j := range f.jobs {
			if j.ID == id {
				j.Status = models.StatusFailed
				le := lastError
				j.LastError = &le
			}
		}
	}
	f.mutations++
	return nil
}

func (f *fakeJobStore) PendingCount(_ context.Context) (int64, error) {
	var n int64
	for _, j := range f.jobs {
		if j.Status == models.StatusPending {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobStore) byID(id string) *models.DeletionJob {
	for _, j := range f.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

type deleteCall struct {
	bucket string
	keys   []string
}

type fakeObjectStore struct {
	calls []deleteCall
	// failuresLeft holds how many times deletes in a bucket should fail
	// before succeeding; -1 means always fail.
	failuresLeft map[string]int
}

func (f *fakeObjectStore) DeleteBatch(_ context.Context, bucket string, keys []string) error {
	f.calls = append(f.calls, deleteCall{bucket: bucket, keys: keys})
	left, ok := f.failuresLeft[bucket]
	if !ok || left == 0 {
		return nil
	}
	if left > 0 {
		f.failuresLeft[bucket] = left - 1
	}
	return errors.New("storage unavailable")
}

func TestSweeperCompletesAllJobs(t *testing.T) {
	st := &fakeJobStore{}
	st.add("j1", "tcpublic", "tribe-covers/abc.jpg", models.StatusPending)
	st.add("j2", "events", "event-banners/def.jpg", models.StatusPending)
	objects := &fakeObjectStore{}

	rep, err := New(testConfig(), st, objects).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Claimed != 2 || rep.Completed != 2 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.PartialFailure() {
		t.Fatal("expected clean run")
	}
	if len(objects.calls) != 2 {
		t.Fatalf("expected one delete call per bucket, got %d", len(objects.calls))
	}
	for _, id := range []string{"j1", "j2"} {
		j := st.byID(id)
		if j.Status != models.StatusCompleted || j.CompletedAt == nil {
			t.Fatalf("job %s not completed: %+v", id, j)
		}
		if j.Attempts != 1 {
			t.Fatalf("job %s attempts = %d, want 1", id, j.Attempts)
		}
	}
}

func TestSweeperBatchFailureAfterRetries(t *testing.T) {
	st := &fakeJobStore{}
	st.add("j1", "tcpublic", "tribe-covers/abc.jpg", models.StatusPending)
	objects := &fakeObjectStore{failuresLeft: map[string]int{"tcpublic": -1}}

	rep, err := New(testConfig(), st, objects).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !rep.PartialFailure() || rep.Failed != 1 {
		t.Fatalf("report = %+v, want partial failure", rep)
	}
	if len(objects.calls) != 3 {
		t.Fatalf("expected 3 delete attempts, got %d", len(objects.calls))
	}
	j := st.byID("j1")
	if j.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}
	if j.LastError == nil || *j.LastError == "" {
		t.Fatal("last_error not recorded")
	}
	if j.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (claim count, not retry count)", j.Attempts)
	}
}

func TestSweeperTransientFailureRecovered(t *testing.T) {
	st := &fakeJobStore{}
	st.add("j1", "events", "event-banners/def.jpg", models.StatusPending)
	objects := &fakeObjectStore{failuresLeft: map[string]int{"events": 1}}

	rep, err := New(testConfig(), st, objects).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Completed != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(objects.calls) != 2 {
		t.Fatalf("expected retry after transient failure, got %d calls", len(objects.calls))
	}
	if st.byID("j1").Status != models.StatusCompleted {
		t.Fatal("job not completed after recovery")
	}
}

func TestSweeperEmptyQueue(t *testing.T) {
	st := &fakeJobStore{}
	objects := &fakeObjectStore{}

	rep, err := New(testConfig(), st, objects).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Fetched != 0 || rep.PartialFailure() {
		t.Fatalf("report = %+v, want nothing to do", rep)
	}
	if len(objects.calls) != 0 {
		t.Fatal("no delete calls expected for empty queue")
	}
}

func TestSweeperDryRunMutatesNothing(t *testing.T) {
	st := &fakeJobStore{}
	st.add("j1", "tcpublic", "tribe-covers/abc.jpg", models.StatusPending)
	st.add("j2", "events", "event-banners/def.jpg", models.StatusPending)
	objects := &fakeObjectStore{}

	cfg := testConfig()
	cfg.WorkerDryRun = true
	rep, err := New(cfg, st, objects).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !rep.DryRun || rep.Fetched != 2 || rep.Claimed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if st.mutations != 0 {
		t.Fatalf("dry run performed %d store mutations", st.mutations)
	}
	if len(objects.calls) != 0 {
		t.Fatal("dry run issued storage deletes")
	}
	for _, j := range st.jobs {
		if j.Status != models.StatusPending || j.Attempts != 0 {
			t.Fatalf("dry run changed job state: %+v", j)
		}
	}
}

func TestSweeperSkipsLostClaims(t *testing.T) {
	st := &fakeJobStore{denyClaim: map[string]bool{"j2": true}}
	st.add("j1", "tcpublic", "a.jpg", models.StatusPending)
	racer := st.add("j2", "tcpublic", "b.jpg", models.StatusPending)

	rep, err := New(testConfig(), st, &fakeObjectStore{}).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Fetched != 2 || rep.Claimed != 1 || rep.Completed != 1 {
		t.Fatalf("report = %+v, want exactly the claimable job processed", rep)
	}
	if racer.Status != models.StatusPending || racer.Attempts != 0 {
		t.Fatalf("lost-claim job was touched: %+v", racer)
	}
}

func TestSweeperReclaimsStaleLeases(t *testing.T) {
	st := &fakeJobStore{}
	stale := st.add("j1", "tcpublic", "a.jpg", models.StatusInProgress)
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	objects := &fakeObjectStore{}

	rep, err := New(testConfig(), st, objects).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", rep.Reclaimed)
	}
	if stale.Status != models.StatusCompleted {
		t.Fatalf("reclaimed job not processed: %+v", stale)
	}
}

func TestSweeperBatchesWithinBucket(t *testing.T) {
	st := &fakeJobStore{}
	for i := 0; i < 12; i++ {
		st.add(fmt.Sprintf("j%d", i), "tcpublic", fmt.Sprintf("covers/%d.jpg", i), models.StatusPending)
	}
	objects := &fakeObjectStore{}

	rep, err := New(testConfig(), st, objects).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Completed != 12 {
		t.Fatalf("completed = %d", rep.Completed)
	}
	if len(objects.calls) != 2 {
		t.Fatalf("expected 2 batches for 12 jobs at size 10, got %d", len(objects.calls))
	}
	if len(objects.calls[0].keys) != 10 || len(objects.calls[1].keys) != 2 {
		t.Fatalf("batch sizes = %d/%d", len(objects.calls[0].keys), len(objects.calls[1].keys))
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 500 * time.Millisecond
	max := 10 * time.Second

	if d := backoffDelay(base, max, 1); d != base {
		t.Fatalf("attempt 1 = %s, want %s", d, base)
	}
	if d := backoffDelay(base, max, 2); d != time.Second {
		t.Fatalf("attempt 2 = %s, want 1s", d)
	}
	if d := backoffDelay(base, max, 3); d != 2*time.Second {
		t.Fatalf("attempt 3 = %s, want 2s", d)
	}
	if d := backoffDelay(base, max, 20); d != max {
		t.Fatalf("attempt 20 = %s, want cap %s", d, max)
	}
}

func TestChunk(t *testing.T) {
	jobs := make([]models.DeletionJob, 7)
	got := chunk(jobs, 3)
	if len(got) != 3 || len(got[0]) != 3 || len(got[2]) != 1 {
		t.Fatalf("chunk sizes wrong: %d groups", len(got))
	}
	if chunk(nil, 3) != nil {
		t.Fatal("chunk of empty input should be nil")
	}
}
