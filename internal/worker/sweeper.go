package worker

import (
	"context"
	"log"
	"math"
	"time"

	"tribevibe-cleanup/internal/config"
	"tribevibe-cleanup/internal/models"
	"tribevibe-cleanup/internal/telemetry"
)

// JobStore is the slice of the Postgres store the sweeper needs.
type JobStore interface {
	ReclaimStale(ctx context.Context, lease time.Duration) (int64, error)
	PendingJobs(ctx context.Context, limit int) ([]models.DeletionJob, error)
	ClaimJob(ctx context.Context, id string) (bool, error)
	CompleteJobs(ctx context.Context, ids []string) error
	FailJobs(ctx context.Context, ids []string, lastError string) error
	PendingCount(ctx context.Context) (int64, error)
}

// ObjectStore deletes a batch of keys from one bucket in a single call.
type ObjectStore interface {
	DeleteBatch(ctx context.Context, bucket string, keys []string) error
}

// Sweeper performs one drain pass over the deletion job queue: claim
// pending jobs, delete their objects in per-bucket batches with bounded
// retries, and write terminal status back per batch.
type Sweeper struct {
	cfg     config.Config
	store   JobStore
	storage ObjectStore
}

// Report summarizes one drain pass.
type Report struct {
	DryRun    bool
	Reclaimed int64
	Fetched   int
	Claimed   int
	Completed int
	Failed    int
}

// PartialFailure reports whether at least one batch permanently failed.
func (r Report) PartialFailure() bool {
	return r.Failed > 0
}

func New(cfg config.Config, st JobStore, objects ObjectStore) *Sweeper {
	return &Sweeper{cfg: cfg, store: st, storage: objects}
}

// Run executes a single drain pass. An error return means the pass could
// not proceed at all (infrastructure failure); batch-level failures are
// recorded on the job rows and in the report instead.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	rep := Report{DryRun: s.cfg.WorkerDryRun}

	if !rep.DryRun && s.cfg.LeaseTimeout > 0 {
		reclaimed, err := s.store.ReclaimStale(ctx, s.cfg.LeaseTimeout)
		if err != nil {
			return rep, err
		}
		if reclaimed > 0 {
			log.Printf("reclaimed %d stale in_progress jobs", reclaimed)
			telemetry.JobsReclaimed.Add(float64(reclaimed))
		}
		rep.Reclaimed = reclaimed
	}

	jobs, err := s.store.PendingJobs(ctx, s.cfg.WorkerMaxFetch)
	if err != nil {
		return rep, err
	}
	rep.Fetched = len(jobs)
	if depth, err := s.store.PendingCount(ctx); err == nil {
		telemetry.PendingDepth.Set(float64(depth))
	}

	if len(jobs) == 0 {
		log.Printf("nothing to process")
		return rep, nil
	}
	if rep.DryRun {
		for _, j := range jobs {
			log.Printf("dry-run: would delete %s/%s (job %s)", j.Bucket, j.ObjectPath, j.ID)
		}
		return rep, nil
	}

	claimed := make([]models.DeletionJob, 0, len(jobs))
	for _, j := range jobs {
		ok, err := s.store.ClaimJob(ctx, j.ID)
		if err != nil {
			return rep, err
		}
		if !ok {
			// Lost the race to a concurrent run; skip for this pass.
			continue
		}
		claimed = append(claimed, j)
	}
	rep.Claimed = len(claimed)

	buckets, order := groupByBucket(claimed)
	first := true
	for _, bucket := range order {
		for _, batch := range chunk(buckets[bucket], s.cfg.DeleteBatchSize) {
			if !first {
				if err := sleepCtx(ctx, s.cfg.BatchPause); err != nil {
					return rep, err
				}
			}
			first = false

			ids := make([]string, 0, len(batch))
			keys := make([]string, 0, len(batch))
			for _, j := range batch {
				ids = append(ids, j.ID)
				keys = append(keys, j.ObjectPath)
			}

			if err := s.deleteWithRetry(ctx, bucket, keys); err != nil {
				log.Printf("batch failed in bucket %s after %d attempts: %v", bucket, s.cfg.MaxRetries, err)
				if werr := s.store.FailJobs(ctx, ids, err.Error()); werr != nil {
					return rep, werr
				}
				rep.Failed += len(batch)
				telemetry.JobsFailed.Add(float64(len(batch)))
				continue
			}
			if werr := s.store.CompleteJobs(ctx, ids); werr != nil {
				return rep, werr
			}
			rep.Completed += len(batch)
			telemetry.JobsCompleted.Add(float64(len(batch)))
		}
	}

	log.Printf("drain pass done: claimed=%d completed=%d failed=%d", rep.Claimed, rep.Completed, rep.Failed)
	return rep, nil
}

// deleteWithRetry issues the bulk delete, retrying transient failures with
// exponential backoff up to the configured ceiling.
func (s *Sweeper) deleteWithRetry(ctx context.Context, bucket string, keys []string) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		lastErr = s.storage.DeleteBatch(ctx, bucket, keys)
		if lastErr == nil {
			return nil
		}
		if attempt < s.cfg.MaxRetries {
			telemetry.BatchRetries.Inc()
			if err := sleepCtx(ctx, backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffMax, attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	wait := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if max > 0 && wait > max {
		wait = max
	}
	return wait
}

// groupByBucket partitions jobs by bucket, keeping first-seen bucket order
// so oldest work is still handled earliest.
func groupByBucket(jobs []models.DeletionJob) (map[string][]models.DeletionJob, []string) {
	buckets := make(map[string][]models.DeletionJob)
	var order []string
	for _, j := range jobs {
		if _, seen := buckets[j.Bucket]; !seen {
			order = append(order, j.Bucket)
		}
		buckets[j.Bucket] = append(buckets[j.Bucket], j)
	}
	return buckets, order
}

func chunk(jobs []models.DeletionJob, size int) [][]models.DeletionJob {
	if size <= 0 {
		size = 10
	}
	var out [][]models.DeletionJob
	for start := 0; start < len(jobs); start += size {
		end := start + size
		if end > len(jobs) {
			end = len(jobs)
		}
		out = append(out, jobs[start:end])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
