// Package store provides the JobRunner for executing durable jobs.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobHandler is a function that executes a job's work. It receives the job's
// payload JSON and returns an error if the execution failed.
type JobHandler func(ctx context.Context, payload string) error

// JobRunner periodically claims due jobs from the database and dispatches them
// to registered handlers. Kinds registered with Every are re-enqueued after
// each run.
type JobRunner struct {
	repo           JobRepo
	handlers       map[string]JobHandler
	intervals      map[string]time.Duration
	mu             sync.RWMutex
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
}

// NewJobRunner creates a new JobRunner.
func NewJobRunner(repo JobRepo, pollInterval time.Duration) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &JobRunner{
		repo:           repo,
		handlers:       make(map[string]JobHandler),
		intervals:      make(map[string]time.Duration),
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
	}
}

// RegisterHandler registers a handler for a given job kind.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	slog.Debug("JobRunner.RegisterHandler", "kind", kind)
}

// Every registers a recurring handler and enqueues its first run. The job kind
// doubles as dedupe key, so repeated startups share one pending run.
func (r *JobRunner) Every(ctx context.Context, kind string, interval time.Duration, handler JobHandler) error {
	r.RegisterHandler(kind, handler)
	r.mu.Lock()
	r.intervals[kind] = interval
	r.mu.Unlock()
	_, err := r.repo.EnqueueJob(ctx, kind, time.Now().Add(interval), "", kind)
	return err
}

// RecoverStaleJobs requeues jobs that were running when the process crashed.
// Should be called once at startup.
func (r *JobRunner) RecoverStaleJobs(ctx context.Context) error {
	n, err := r.repo.RequeueStaleRunningJobs(ctx, time.Now().Add(-r.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: requeued stale jobs", "count", n)
	}
	return nil
}

// Run polls for due jobs until ctx is cancelled.
func (r *JobRunner) Run(ctx context.Context) {
	pollLoop(ctx, "JobRunner", r.pollInterval, r.poll)
}

// pollLoop calls poll on every tick until ctx is cancelled.
func pollLoop(ctx context.Context, name string, interval time.Duration, poll func(context.Context)) {
	slog.Info(name+".Run: starting", "pollInterval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info(name + ".Run: stopping")
			return
		case <-ticker.C:
			poll(ctx)
		}
	}
}

func (r *JobRunner) poll(ctx context.Context) {
	now := time.Now()
	jobs, err := r.repo.ClaimDueJobs(ctx, now, r.claimLimit)
	if err != nil {
		slog.Error("JobRunner.poll: claim failed", "error", err)
		return
	}
	for _, job := range jobs {
		if err := r.runJob(ctx, job, now); err != nil {
			slog.Error("JobRunner.poll: bookkeeping failed", "id", job.ID, "kind", job.Kind, "error", err)
		}
	}
}

// runJob executes one claimed job and records the outcome. Recurring kinds
// are enqueued again after a success. The returned error concerns the repo,
// not the handler.
func (r *JobRunner) runJob(ctx context.Context, job Job, now time.Time) error {
	r.mu.RLock()
	handler, ok := r.handlers[job.Kind]
	interval := r.intervals[job.Kind]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("JobRunner.runJob: no handler for job kind", "kind", job.Kind, "id", job.ID)
		return r.repo.FailJob(ctx, job.ID, "no handler registered for kind: "+job.Kind, now.Add(time.Minute))
	}

	slog.Debug("JobRunner.runJob: executing", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
	if err := handler(ctx, job.PayloadJSON); err != nil {
		next := now.Add(jobRetryDelay(job.Attempt))
		slog.Error("JobRunner.runJob: job failed", "id", job.ID, "kind", job.Kind, "nextRun", next, "error", err)
		return r.repo.FailJob(ctx, job.ID, err.Error(), next)
	}
	if err := r.repo.CompleteJob(ctx, job.ID); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}
	_, err := r.repo.EnqueueJob(ctx, job.Kind, now.Add(interval), job.PayloadJSON, job.Kind)
	return err
}

// jobRetryDelay is 30s doubled per previous attempt, capped at one hour.
func jobRetryDelay(attempt int) time.Duration {
	d := 30 * time.Second
	for i := 0; i < attempt && d < time.Hour; i++ {
		d *= 2
	}
	return min(d, time.Hour)
}
