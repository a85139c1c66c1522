package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stephenadei/tutorbot/internal/models"
	"github.com/stephenadei/tutorbot/internal/store"
)

// StoreBasedStateManager implements StateManager over an AttributeStore.
// Every store call goes through the retrier.
type StoreBasedStateManager struct {
	store store.AttributeStore
	retry Retrier
}

// Compile-time check.
var _ StateManager = (*StoreBasedStateManager)(nil)

// NewStoreBasedStateManager creates a new StateManager backed by an AttributeStore.
func NewStoreBasedStateManager(st store.AttributeStore, retry Retrier) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager", "timeout", retry.Timeout, "maxRetries", retry.MaxRetries)
	return &StoreBasedStateManager{store: st, retry: retry}
}

// Load retrieves the contact, conversation and labels for one event.
func (sm *StoreBasedStateManager) Load(ctx context.Context, contactID, conversationID string) (*Snapshot, error) {
	slog.Debug("StateManager Load", "contactID", contactID, "conversationID", conversationID)

	var contactAttrs, convAttrs models.Attrs
	var labels []string
	err := sm.retry.Do(ctx, "get_contact_attrs", func(ctx context.Context) error {
		var err error
		contactAttrs, err = sm.store.GetContactAttrs(ctx, contactID)
		return err
	})
	if err != nil {
		slog.Error("StateManager Load contact error", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("load contact %s: %w", contactID, err)
	}
	err = sm.retry.Do(ctx, "get_conv_attrs", func(ctx context.Context) error {
		var err error
		convAttrs, err = sm.store.GetConvAttrs(ctx, conversationID)
		return err
	})
	if err != nil {
		slog.Error("StateManager Load conversation error", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	err = sm.retry.Do(ctx, "get_conv_labels", func(ctx context.Context) error {
		var err error
		labels, err = sm.store.GetConvLabels(ctx, conversationID)
		return err
	})
	if err != nil {
		slog.Error("StateManager Load labels error", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("load labels %s: %w", conversationID, err)
	}

	snap := &Snapshot{
		Contact:      models.ContactFromAttrs(contactID, models.FilterContactAttrs(contactAttrs)),
		Conversation: models.ConversationFromAttrs(conversationID, models.FilterConvAttrs(convAttrs)),
		Labels:       labels,
	}
	slog.Debug("StateManager Load succeeded", "conversationID", conversationID, "intent", snap.Conversation.PendingIntent)
	return snap, nil
}

// Commit writes contact attributes, then conversation attributes, then label
// additions and removals. A failed step reverts the steps before it.
func (sm *StoreBasedStateManager) Commit(ctx context.Context, before, after *Snapshot) error {
	contactID := after.Contact.ID
	conversationID := after.Conversation.ID
	oldContact, oldConv := before.Contact.Attrs(), before.Conversation.Attrs()
	contactChanges := models.Diff(oldContact, after.Contact.Attrs())
	convChanges := models.Diff(oldConv, after.Conversation.Attrs())
	add, remove := labelDiff(before.Labels, after.Labels)

	slog.Debug("StateManager Commit", "conversationID", conversationID,
		"contactKeys", contactChanges.Keys(), "convKeys", convChanges.Keys(), "addLabels", add, "removeLabels", remove)

	var undo []func(ctx context.Context) error
	fail := func(step string, err error) error {
		slog.Error("StateManager Commit failed, rolling back", "step", step, "conversationID", conversationID, "error", err)
		sm.rollback(ctx, conversationID, undo)
		return fmt.Errorf("commit %s: %w", step, err)
	}

	if len(contactChanges) > 0 {
		if err := sm.retry.Do(ctx, "set_contact_attrs", func(ctx context.Context) error {
			return sm.store.SetContactAttrs(ctx, contactID, contactChanges)
		}); err != nil {
			return fail("contact attributes", err)
		}
		revert := restore(oldContact, contactChanges)
		undo = append(undo, func(ctx context.Context) error {
			return sm.store.SetContactAttrs(ctx, contactID, revert)
		})
	}

	if len(convChanges) > 0 {
		if err := sm.retry.Do(ctx, "set_conv_attrs", func(ctx context.Context) error {
			return sm.store.SetConvAttrs(ctx, conversationID, convChanges)
		}); err != nil {
			return fail("conversation attributes", err)
		}
		revert := restore(oldConv, convChanges)
		undo = append(undo, func(ctx context.Context) error {
			return sm.store.SetConvAttrs(ctx, conversationID, revert)
		})
	}

	if len(add) > 0 {
		if err := sm.retry.Do(ctx, "add_conv_labels", func(ctx context.Context) error {
			return sm.store.AddConvLabels(ctx, conversationID, add)
		}); err != nil {
			return fail("add labels", err)
		}
		undo = append(undo, func(ctx context.Context) error {
			return sm.store.RemoveConvLabels(ctx, conversationID, add)
		})
	}

	if len(remove) > 0 {
		if err := sm.retry.Do(ctx, "remove_conv_labels", func(ctx context.Context) error {
			return sm.store.RemoveConvLabels(ctx, conversationID, remove)
		}); err != nil {
			return fail("remove labels", err)
		}
	}

	slog.Debug("StateManager Commit succeeded", "conversationID", conversationID, "intent", after.Conversation.PendingIntent)
	return nil
}

// rollback applies undo steps in reverse order. It runs detached from ctx
// cancellation so that a started transition always ends consistent.
func (sm *StoreBasedStateManager) rollback(ctx context.Context, conversationID string, undo []func(ctx context.Context) error) {
	detached := context.WithoutCancel(ctx)
	var errs []error
	for i := len(undo) - 1; i >= 0; i-- {
		step := undo[i]
		if err := sm.retry.Do(detached, "rollback", step); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("StateManager rollback incomplete", "conversationID", conversationID, "error", err, "alert", true)
		return
	}
	if len(undo) > 0 {
		slog.Warn("StateManager rollback completed", "conversationID", conversationID, "steps", len(undo))
	}
}

// restore returns the previous values of the changed keys.
func restore(before, changes models.Attrs) models.Attrs {
	out := make(models.Attrs, len(changes))
	for k := range changes {
		out[k] = before[k]
	}
	return out
}
