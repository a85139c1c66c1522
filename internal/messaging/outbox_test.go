package messaging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stephenadei/tutorbot/internal/store"
	"github.com/stephenadei/tutorbot/internal/testutil"
)

func newTestOutboxStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "messaging_outbox_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(tempDir, "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOutboxGateway_DedupeKeyPreventsSecondSend(t *testing.T) {
	st := newTestOutboxStore(t)
	gw := NewOutboxGateway(st)
	ctx := WithDedupeKey(context.Background(), "msg-1:0")

	for i := 0; i < 2; i++ {
		if err := gw.SendChoice(ctx, "7", "Voor wie?", menuOptions); err != nil {
			t.Fatalf("SendChoice #%d: %v", i, err)
		}
	}

	msgs, err := st.ClaimDueOutboxMessages(context.Background(), time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one queued message, got %d", len(msgs))
	}
	if msgs[0].Kind != OutboxKindChoice || msgs[0].DedupeKey != "msg-1:0" {
		t.Errorf("unexpected message %+v", msgs[0])
	}

	rec := &testutil.RecordingGateway{}
	if err := DeliverFunc(rec)(context.Background(), msgs[0]); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	last := rec.Last()
	if last.ConversationID != "7" || last.Text != "Voor wie?" || !last.HasOption("self") {
		t.Errorf("unexpected delivery %+v", last)
	}
}

func TestOutboxGateway_TextWithoutKey(t *testing.T) {
	st := newTestOutboxStore(t)
	gw := NewOutboxGateway(st)
	ctx := context.Background()

	if err := gw.SendText(ctx, "7", "Hoi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := gw.SendText(ctx, "7", "Hoi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	msgs, err := st.ClaimDueOutboxMessages(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages without a dedupe key are independent, got %d", len(msgs))
	}

	rec := &testutil.RecordingGateway{}
	if err := DeliverFunc(rec)(ctx, msgs[0]); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if last := rec.Last(); last.Text != "Hoi" || len(last.Options) != 0 {
		t.Errorf("unexpected delivery %+v", last)
	}
}

func TestDeliverFunc_BadPayloadIsPermanent(t *testing.T) {
	deliver := DeliverFunc(&testutil.RecordingGateway{})
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "{"},
		{"empty reply", `{"text":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := deliver(context.Background(), store.OutboxMessage{ID: "o1", ConversationID: "7", Kind: OutboxKindText, PayloadJSON: tt.payload})
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				t.Errorf("expected a permanent error, got %v", err)
			}
		})
	}
}

func TestDeliverFunc_GatewayErrorIsRetryable(t *testing.T) {
	errDown := errors.New("chatwoot unavailable")
	deliver := DeliverFunc(&testutil.RecordingGateway{Err: errDown})
	err := deliver(context.Background(), store.OutboxMessage{ID: "o1", ConversationID: "7", Kind: OutboxKindText, PayloadJSON: `{"text":"Hoi"}`})
	if !errors.Is(err, errDown) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		t.Error("gateway failures must stay retryable")
	}
}
