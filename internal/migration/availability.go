package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meldeboks/internal/correspondence"
	"meldeboks/internal/dialog"
	"meldeboks/internal/jobs"
	"meldeboks/pkg/platform/sentinel"
)

// Availability is the per-item work of a migration batch: it hands ownership
// of a migrated correspondence to this system and announces the takeover on
// its dialog. Once the migrating flag is cleared, live operations stop
// suppressing side effects for it.
type Availability struct {
	store     correspondence.Store
	scheduler jobs.Scheduler
	log       *slog.Logger
}

func NewAvailability(store correspondence.Store, scheduler jobs.Scheduler, log *slog.Logger) *Availability {
	return &Availability{store: store, scheduler: scheduler, log: log}
}

// MakeAvailable completes migration for one legacy id. Unknown ids and
// already-completed correspondences are no-ops so a retried partition is
// harmless.
func (a *Availability) MakeAvailable(ctx context.Context, legacyID int64) error {
	c, err := a.store.GetByLegacyID(ctx, legacyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			a.log.Warn("legacy id has no correspondence, skipping", "legacy_id", legacyID)
			return nil
		}
		return fmt.Errorf("load correspondence for legacy id %d: %w", legacyID, err)
	}
	if !c.IsMigrating {
		return nil
	}
	if err := a.store.SetMigrationCompleted(ctx, c.ID); err != nil {
		return fmt.Errorf("complete migration for %s: %w", c.ID, err)
	}

	if _, ok := c.DialogRef(); !ok {
		return nil
	}
	job, err := jobs.New(dialog.JobInformationActivity, dialog.ActivityPayload{
		CorrespondenceID: c.ID,
		Actor:            dialog.ActorSender,
		Text:             "Meldingen er overført fra Altinn 2",
		OccurredAt:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if _, err := a.scheduler.Create(ctx, job, jobs.Enqueued()); err != nil {
		return fmt.Errorf("enqueue migration activity: %w", err)
	}
	return nil
}
