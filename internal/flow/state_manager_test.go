package flow

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
	"github.com/stephenadei/tutorbot/internal/store"
	"github.com/stephenadei/tutorbot/internal/testutil"
)

func newTestStateManager() (*StoreBasedStateManager, *testutil.FailingStore) {
	fs := testutil.NewFailingStore(store.NewInMemoryStore())
	return NewStoreBasedStateManager(fs, Retrier{Timeout: time.Second}), fs
}

func transitionSnapshots(t *testing.T, sm *StoreBasedStateManager) (before, after *Snapshot) {
	t.Helper()
	before, err := sm.Load(context.Background(), "contact-1", "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	after = before.Clone()
	after.Contact.Language = models.LanguageDutch
	after.Conversation.PendingIntent = models.IntentForWho
	after.Conversation.Subject = "math"
	after.Labels = []string{"subject:math"}
	return before, after
}

func TestStateManagerCommitOrder(t *testing.T) {
	sm, fs := newTestStateManager()
	before, after := transitionSnapshots(t, sm)

	if err := sm.Commit(context.Background(), before, after); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	calls := fs.Calls()[3:] // skip the three Load reads
	want := []string{"SetContactAttrs", "SetConvAttrs", "AddConvLabels"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("commit calls = %v, want %v", calls, want)
	}

	got, err := sm.Load(context.Background(), "contact-1", "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Contact.Language != models.LanguageDutch || got.Conversation.PendingIntent != models.IntentForWho {
		t.Errorf("unexpected state after commit: %+v / %+v", got.Contact, got.Conversation)
	}
	if !reflect.DeepEqual(got.Labels, []string{"subject:math"}) {
		t.Errorf("unexpected labels %v", got.Labels)
	}
}

func TestStateManagerRollsBackOnLabelFailure(t *testing.T) {
	sm, fs := newTestStateManager()
	before, after := transitionSnapshots(t, sm)
	fs.Fail("AddConvLabels", true)

	err := sm.Commit(context.Background(), before, after)
	if !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	calls := fs.Calls()[3:]
	want := []string{"SetContactAttrs", "SetConvAttrs", "AddConvLabels", "SetConvAttrs", "SetContactAttrs"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}

	fs.Fail("AddConvLabels", false)
	got, err := sm.Load(context.Background(), "contact-1", "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Contact.Language != "" || got.Conversation.PendingIntent != models.IntentNone || got.Conversation.Subject != "" {
		t.Errorf("expected pre-transition state, got %+v / %+v", got.Contact, got.Conversation)
	}
}

func TestStateManagerRemovesOnlyStaleManagedLabels(t *testing.T) {
	sm, _ := newTestStateManager()
	ctx := context.Background()
	st := sm.store
	if err := st.AddConvLabels(ctx, "conv-1", []string{"vip", "subject:math"}); err != nil {
		t.Fatalf("AddConvLabels: %v", err)
	}

	before, err := sm.Load(ctx, "contact-1", "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	after := before.Clone()
	after.Labels = []string{"subject:stats"}
	if err := sm.Commit(ctx, before, after); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	labels, err := st.GetConvLabels(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConvLabels: %v", err)
	}
	if !reflect.DeepEqual(labels, []string{"subject:stats", "vip"}) {
		t.Errorf("labels = %v, want [subject:stats vip]", labels)
	}
}

func TestStateManagerLoadError(t *testing.T) {
	sm, fs := newTestStateManager()
	fs.Fail("GetConvLabels", true)
	if _, err := sm.Load(context.Background(), "contact-1", "conv-1"); !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
}
