package dialog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ActorType says on whose behalf a dialog activity is recorded.
type ActorType string

const (
	ActorSender    ActorType = "sender"
	ActorRecipient ActorType = "recipient"
)

// System labels the dialog service understands for recipient-side views.
const (
	LabelArchive = "Archive"
	LabelBin     = "Bin"
)

// Service is the contract the core expects from the external dialog/activity
// service. The real HTTP client lives outside this repository; jobs call
// through this interface so transient failures stay inside the job retry
// policy.
type Service interface {
	CreateOpenedActivity(ctx context.Context, correspondenceID uuid.UUID, actor ActorType, occurredAt time.Time) error
	CreateConfirmedActivity(ctx context.Context, correspondenceID uuid.UUID, actor ActorType, occurredAt time.Time) error
	CreateInformationActivity(ctx context.Context, correspondenceID uuid.UUID, actor ActorType, text string, occurredAt time.Time) error
	CreatePurgedActivity(ctx context.Context, correspondenceID uuid.UUID, actor ActorType, actorName string, occurredAt time.Time) error
	PatchDialogToConfirmed(ctx context.Context, correspondenceID uuid.UUID) error
	VerifyDialogPatchedToConfirmed(ctx context.Context, correspondenceID uuid.UUID) (bool, error)
	UpdateSystemLabels(ctx context.Context, correspondenceID uuid.UUID, endUser string, add, remove []string) error
	SoftDeleteDialog(ctx context.Context, dialogID string) error

	// TrySoftDeleteDialog reports false, rather than an error, when the
	// dialog is already gone; sweep jobs use it to distinguish "deleted
	// now" from "deleted earlier".
	TrySoftDeleteDialog(ctx context.Context, dialogID string) (bool, error)
}

// LoggingStub satisfies Service by logging each call. Used in wiring until
// the dialog client is configured, and in tests that only care that a call
// happened.
type LoggingStub struct {
	Log *slog.Logger
}

func (s LoggingStub) CreateOpenedActivity(_ context.Context, id uuid.UUID, actor ActorType, at time.Time) error {
	s.Log.Info("dialog stub: opened activity", "correspondence_id", id, "actor", actor, "occurred_at", at)
	return nil
}

func (s LoggingStub) CreateConfirmedActivity(_ context.Context, id uuid.UUID, actor ActorType, at time.Time) error {
	s.Log.Info("dialog stub: confirmed activity", "correspondence_id", id, "actor", actor, "occurred_at", at)
	return nil
}

func (s LoggingStub) CreateInformationActivity(_ context.Context, id uuid.UUID, actor ActorType, text string, at time.Time) error {
	s.Log.Info("dialog stub: information activity", "correspondence_id", id, "actor", actor, "text", text)
	return nil
}

func (s LoggingStub) CreatePurgedActivity(_ context.Context, id uuid.UUID, actor ActorType, actorName string, at time.Time) error {
	s.Log.Info("dialog stub: purged activity", "correspondence_id", id, "actor", actor, "actor_name", actorName)
	return nil
}

func (s LoggingStub) PatchDialogToConfirmed(_ context.Context, id uuid.UUID) error {
	s.Log.Info("dialog stub: patch to confirmed", "correspondence_id", id)
	return nil
}

func (s LoggingStub) VerifyDialogPatchedToConfirmed(_ context.Context, id uuid.UUID) (bool, error) {
	s.Log.Info("dialog stub: verify confirmed", "correspondence_id", id)
	return true, nil
}

func (s LoggingStub) UpdateSystemLabels(_ context.Context, id uuid.UUID, endUser string, add, remove []string) error {
	s.Log.Info("dialog stub: update system labels", "correspondence_id", id, "end_user", endUser, "add", add, "remove", remove)
	return nil
}

func (s LoggingStub) SoftDeleteDialog(_ context.Context, dialogID string) error {
	s.Log.Info("dialog stub: soft delete", "dialog_id", dialogID)
	return nil
}

func (s LoggingStub) TrySoftDeleteDialog(_ context.Context, dialogID string) (bool, error) {
	s.Log.Info("dialog stub: try soft delete", "dialog_id", dialogID)
	return true, nil
}
