package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "sqlite_store_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(tempDir, "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Job repo tests ---

func TestSQLiteStore_JobRepo_EnqueueAndGet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueJob(ctx, JobKindDedupPurge, time.Now().Add(time.Hour), `{"key":"value"}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job == nil {
		t.Fatal("GetJob returned nil")
	}
	if job.Kind != JobKindDedupPurge || job.Status != JobStatusQueued || job.MaxAttempts != DefaultJobMaxAttempts {
		t.Errorf("unexpected job: %+v", job)
	}

	missing, err := s.GetJob(ctx, "job_missing")
	if err != nil || missing != nil {
		t.Errorf("expected nil job and no error for missing id, got %v, %v", missing, err)
	}
}

func TestSQLiteStore_JobRepo_DedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	runAt := time.Now().Add(time.Hour)

	id1, err := s.EnqueueJob(ctx, "k", runAt, `{}`, "key-1")
	if err != nil {
		t.Fatalf("EnqueueJob 1 failed: %v", err)
	}
	id2, _ := s.EnqueueJob(ctx, "k", runAt, `{}`, "key-1")
	if id2 != id1 {
		t.Errorf("Expected dedupe to return same ID %q, got %q", id1, id2)
	}

	if err := s.CompleteJob(ctx, id1); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	id3, _ := s.EnqueueJob(ctx, "k", runAt, `{}`, "key-1")
	if id3 == id1 {
		t.Error("Expected new ID after completing old job with same dedupe key")
	}
}

func TestSQLiteStore_JobRepo_ClaimDueJobs(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "past_job", time.Now().Add(-time.Hour), `{}`, ""); err != nil {
		t.Fatalf("EnqueueJob past failed: %v", err)
	}
	if _, err := s.EnqueueJob(ctx, "future_job", time.Now().Add(time.Hour), `{}`, ""); err != nil {
		t.Fatalf("EnqueueJob future failed: %v", err)
	}

	jobs, err := s.ClaimDueJobs(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 due job, got %d", len(jobs))
	}
	if jobs[0].Kind != "past_job" || jobs[0].Status != JobStatusRunning {
		t.Errorf("unexpected claimed job: %+v", jobs[0])
	}
}

func TestSQLiteStore_JobRepo_FailUntilMaxAttempts(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueJob(ctx, "fail_job", time.Now().Add(-time.Minute), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	nextRun := time.Now().Add(time.Minute)
	if err := s.FailJob(ctx, id, "transient error", nextRun); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	job, _ := s.GetJob(ctx, id)
	if job.Status != JobStatusQueued || job.Attempt != 1 || job.LastError != "transient error" {
		t.Fatalf("unexpected job after first failure: %+v", job)
	}

	for i := 1; i < DefaultJobMaxAttempts; i++ {
		if err := s.FailJob(ctx, id, "persistent error", nextRun); err != nil {
			t.Fatalf("FailJob iteration %d failed: %v", i, err)
		}
	}
	job, _ = s.GetJob(ctx, id)
	if job.Status != JobStatusFailed {
		t.Errorf("Expected status 'failed' after max attempts, got %q", job.Status)
	}
	if job.Attempt != DefaultJobMaxAttempts {
		t.Errorf("Expected attempt %d, got %d", DefaultJobMaxAttempts, job.Attempt)
	}

	if err := s.FailJob(ctx, "job_missing", "x", nextRun); err == nil {
		t.Error("expected error failing an unknown job")
	}
}

func TestSQLiteStore_JobRepo_RequeueStale(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.EnqueueJob(ctx, "stale_job", time.Now().Add(-time.Hour), `{}`, "")
	jobs, err := s.ClaimDueJobs(ctx, time.Now(), 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ClaimDueJobs: got %d jobs, err %v", len(jobs), err)
	}

	n, err := s.RequeueStaleRunningJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleRunningJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued, got %d", n)
	}
	job, _ := s.GetJob(ctx, jobs[0].ID)
	if job.Status != JobStatusQueued {
		t.Errorf("Expected status 'queued' after requeue, got %q", job.Status)
	}
}

// --- Outbox repo tests ---

func TestSQLiteStore_OutboxRepo_EnqueueClaimAndMarkSent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueOutboxMessage(ctx, "conv-1", "text", `{"text":"Hallo"}`, "")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}

	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ConversationID != "conv-1" || msgs[0].Status != OutboxStatusSending {
		t.Errorf("unexpected claimed message: %+v", msgs[0])
	}

	if err := s.MarkOutboxMessageSent(ctx, id); err != nil {
		t.Fatalf("MarkOutboxMessageSent failed: %v", err)
	}
	msgs, _ = s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if len(msgs) != 0 {
		t.Errorf("Expected 0 messages after sent, got %d", len(msgs))
	}
}

func TestSQLiteStore_OutboxRepo_DedupeKeySurvivesSend(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueOutboxMessage(ctx, "conv-1", "text", `{}`, "msg-1:0")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 1 failed: %v", err)
	}
	s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	s.MarkOutboxMessageSent(ctx, id1)

	id2, err := s.EnqueueOutboxMessage(ctx, "conv-1", "text", `{}`, "msg-1:0")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 2 failed: %v", err)
	}
	if id2 != id1 {
		t.Errorf("Expected same ID for duplicate dedupe key, got %q and %q", id1, id2)
	}
	msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if len(msgs) != 0 {
		t.Errorf("a redelivered reply must not be queued again, got %d", len(msgs))
	}
}

func TestSQLiteStore_OutboxRepo_FailRetryAndRequeue(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueOutboxMessage(ctx, "conv-1", "text", `{}`, "")
	s.ClaimDueOutboxMessages(ctx, time.Now(), 10)

	if err := s.FailOutboxMessage(ctx, id, "send error", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("FailOutboxMessage failed: %v", err)
	}
	msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if len(msgs) != 1 || msgs[0].Attempts != 1 {
		t.Fatalf("Expected 1 retryable message with 1 attempt, got %+v", msgs)
	}

	n, err := s.RequeueStaleSendingMessages(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued, got %d", n)
	}
}

// --- Dedup repo tests ---

func TestSQLiteStore_DedupRepo_RecordReleaseAndPurge(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	isNew, err := s.RecordInbound(ctx, "msg-1", "conv-1")
	if err != nil || !isNew {
		t.Fatalf("first RecordInbound: isNew=%v err=%v", isNew, err)
	}
	isNew, err = s.RecordInbound(ctx, "msg-1", "conv-1")
	if err != nil || isNew {
		t.Fatalf("second RecordInbound: isNew=%v err=%v", isNew, err)
	}

	if err := s.ReleaseInbound(ctx, "msg-1"); err != nil {
		t.Fatalf("ReleaseInbound failed: %v", err)
	}
	if dup, _ := s.IsDuplicate(ctx, "msg-1"); dup {
		t.Error("released message must be processable again")
	}

	s.RecordInbound(ctx, "msg-2", "conv-1")
	if err := s.MarkProcessed(ctx, "msg-2"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	if err := s.ReleaseInbound(ctx, "msg-2"); err != nil {
		t.Fatalf("ReleaseInbound failed: %v", err)
	}
	if dup, _ := s.IsDuplicate(ctx, "msg-2"); !dup {
		t.Error("a processed message must not be released")
	}

	n, err := s.PurgeInboundBefore(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeInboundBefore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 purged record, got %d", n)
	}
	if dup, _ := s.IsDuplicate(ctx, "msg-2"); dup {
		t.Error("purged message still reported as duplicate")
	}
}

// --- JobRunner tests ---

func TestJobRunner_Basic(t *testing.T) {
	s := newTestSQLiteStore(t)

	runner := NewJobRunner(s, 50*time.Millisecond)
	var executed int32
	runner.RegisterHandler("test_kind", func(ctx context.Context, payload string) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	if _, err := s.EnqueueJob(context.Background(), "test_kind", time.Now().Add(-time.Second), `{"test":true}`, ""); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go runner.Run(ctx)
	<-ctx.Done()

	if atomic.LoadInt32(&executed) != 1 {
		t.Errorf("Expected 1 execution, got %d", atomic.LoadInt32(&executed))
	}
}

func TestJobRunner_EveryReschedules(t *testing.T) {
	s := newTestSQLiteStore(t)

	runner := NewJobRunner(s, 20*time.Millisecond)
	var executed int32
	err := runner.Every(context.Background(), JobKindDedupPurge, 60*time.Millisecond, func(ctx context.Context, payload string) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Every failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	go runner.Run(ctx)
	<-ctx.Done()

	if got := atomic.LoadInt32(&executed); got < 2 {
		t.Errorf("Expected the recurring job to run at least twice, got %d", got)
	}
}

// --- OutboxSender tests ---

func TestOutboxSender_Basic(t *testing.T) {
	s := newTestSQLiteStore(t)

	var sent int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}, 50*time.Millisecond)

	if _, err := s.EnqueueOutboxMessage(context.Background(), "conv-1", "text", `{"text":"Hallo"}`, ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go sender.Run(ctx)
	<-ctx.Done()

	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send, got %d", atomic.LoadInt32(&sent))
	}
}

func TestOutboxSender_PermanentErrorGivesUp(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	var attempts int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&attempts, 1)
		return backoff.Permanent(errors.New("conversation not found"))
	}, time.Hour)

	if _, err := s.EnqueueOutboxMessage(ctx, "conv-1", "text", `{}`, ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}
	sender.poll(ctx)
	sender.poll(ctx)

	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", atomic.LoadInt32(&attempts))
	}
	n, _ := s.RequeueStaleSendingMessages(ctx, time.Now().Add(time.Minute))
	if n != 0 {
		t.Errorf("given-up message must not be left in sending state")
	}
}

func TestRetryDelay(t *testing.T) {
	if d := retryDelay(0); d != outboxBaseDelay {
		t.Errorf("retryDelay(0) = %v, want %v", d, outboxBaseDelay)
	}
	if d := retryDelay(2); d != 4*outboxBaseDelay {
		t.Errorf("retryDelay(2) = %v, want %v", d, 4*outboxBaseDelay)
	}
	if d := retryDelay(30); d != outboxMaxDelay {
		t.Errorf("retryDelay(30) = %v, want cap %v", d, outboxMaxDelay)
	}
}

func TestJobRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{3, 4 * time.Minute},
		{20, time.Hour},
	}
	for _, tt := range tests {
		if got := jobRetryDelay(tt.attempt); got != tt.want {
			t.Errorf("jobRetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
