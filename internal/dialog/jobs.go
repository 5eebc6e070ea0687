package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meldeboks/internal/jobs"
)

// Job types for deferred dialog service calls.
const (
	JobOpenedActivity      = "dialog.opened_activity"
	JobConfirmedActivity   = "dialog.confirmed_activity"
	JobInformationActivity = "dialog.information_activity"
	JobPurgedActivity      = "dialog.purged_activity"
	JobPatchConfirmed      = "dialog.patch_confirmed"
	JobVerifyConfirmed     = "dialog.verify_confirmed"
	JobUpdateLabels        = "dialog.update_labels"
	JobSoftDelete          = "dialog.soft_delete"
)

// ActivityPayload covers the activity-creating jobs.
type ActivityPayload struct {
	CorrespondenceID uuid.UUID `json:"correspondence_id"`
	Actor            ActorType `json:"actor"`
	ActorName        string    `json:"actor_name,omitempty"`
	Text             string    `json:"text,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type PatchConfirmedPayload struct {
	CorrespondenceID uuid.UUID `json:"correspondence_id"`
}

type UpdateLabelsPayload struct {
	CorrespondenceID uuid.UUID `json:"correspondence_id"`
	EndUser          string    `json:"end_user"`
	Add              []string  `json:"add,omitempty"`
	Remove           []string  `json:"remove,omitempty"`
}

type SoftDeletePayload struct {
	DialogID string `json:"dialog_id"`
}

// Handlers binds the dialog job types to a Service implementation.
func Handlers(svc Service) map[string]jobs.HandlerFunc {
	return map[string]jobs.HandlerFunc{
		JobOpenedActivity: func(ctx context.Context, raw json.RawMessage) error {
			var p ActivityPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode opened activity payload: %w", err)
			}
			return svc.CreateOpenedActivity(ctx, p.CorrespondenceID, p.Actor, p.OccurredAt)
		},
		JobConfirmedActivity: func(ctx context.Context, raw json.RawMessage) error {
			var p ActivityPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode confirmed activity payload: %w", err)
			}
			return svc.CreateConfirmedActivity(ctx, p.CorrespondenceID, p.Actor, p.OccurredAt)
		},
		JobInformationActivity: func(ctx context.Context, raw json.RawMessage) error {
			var p ActivityPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode information activity payload: %w", err)
			}
			return svc.CreateInformationActivity(ctx, p.CorrespondenceID, p.Actor, p.Text, p.OccurredAt)
		},
		JobPurgedActivity: func(ctx context.Context, raw json.RawMessage) error {
			var p ActivityPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode purged activity payload: %w", err)
			}
			return svc.CreatePurgedActivity(ctx, p.CorrespondenceID, p.Actor, p.ActorName, p.OccurredAt)
		},
		JobPatchConfirmed: func(ctx context.Context, raw json.RawMessage) error {
			var p PatchConfirmedPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode patch confirmed payload: %w", err)
			}
			return svc.PatchDialogToConfirmed(ctx, p.CorrespondenceID)
		},
		JobVerifyConfirmed: func(ctx context.Context, raw json.RawMessage) error {
			var p PatchConfirmedPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode verify confirmed payload: %w", err)
			}
			patched, err := svc.VerifyDialogPatchedToConfirmed(ctx, p.CorrespondenceID)
			if err != nil {
				return err
			}
			if patched {
				return nil
			}
			// The earlier patch never landed; reissue it and let the
			// runner reschedule verification via the retry policy.
			if err := svc.PatchDialogToConfirmed(ctx, p.CorrespondenceID); err != nil {
				return err
			}
			return fmt.Errorf("dialog for correspondence %s not yet confirmed, patch reissued", p.CorrespondenceID)
		},
		JobUpdateLabels: func(ctx context.Context, raw json.RawMessage) error {
			var p UpdateLabelsPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode update labels payload: %w", err)
			}
			return svc.UpdateSystemLabels(ctx, p.CorrespondenceID, p.EndUser, p.Add, p.Remove)
		},
		JobSoftDelete: func(ctx context.Context, raw json.RawMessage) error {
			var p SoftDeletePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode soft delete payload: %w", err)
			}
			return svc.SoftDeleteDialog(ctx, p.DialogID)
		},
	}
}
