package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"meldeboks/internal/correspondence"
	"meldeboks/internal/dialog"
	"meldeboks/internal/eventbus"
	"meldeboks/internal/jobs"
	"meldeboks/internal/purge"
	"meldeboks/internal/register"
	domainerrors "meldeboks/pkg/domain-errors"
	"meldeboks/pkg/platform/sentinel"
	txcontext "meldeboks/pkg/platform/tx"
)

// Syncer applies one batch of legacy events to a correspondence: merges
// against the live ledgers, appends the net-new events with a synced-at
// stamp, and runs the side effects each appended event implies. The whole
// apply phase is one unit of work, so a failed side-effect enqueue also rolls
// back the appends it belonged to. Because the merge deduplicates against
// what an earlier application wrote, a partially persisted batch would
// otherwise lose its side effects on retry.
type Syncer struct {
	store     correspondence.Store
	register  register.Service
	scheduler jobs.Scheduler
	purger    *purge.Orchestrator
	tx        txcontext.Runner
	log       *slog.Logger
	tracer    trace.Tracer
	metrics   *Metrics
}

func NewSyncer(store correspondence.Store, reg register.Service, scheduler jobs.Scheduler, purger *purge.Orchestrator, runner txcontext.Runner, log *slog.Logger) *Syncer {
	return &Syncer{
		store:     store,
		register:  reg,
		scheduler: scheduler,
		purger:    purger,
		tx:        runner,
		log:       log,
		tracer:    otel.Tracer("meldeboks/syncengine"),
		metrics:   sharedMetrics,
	}
}

// Request is one incoming legacy batch for one correspondence. Event fields
// beyond status/type, timestamp and party are ignored; ids and synced-at
// stamps are assigned here.
type Request struct {
	CorrespondenceID uuid.UUID
	StatusEvents     []correspondence.StatusEvent
	DeleteEvents     []correspondence.DeleteEvent
}

// Sync merges and applies the batch.
func (s *Syncer) Sync(ctx context.Context, req Request) error {
	ctx, span := s.tracer.Start(ctx, "syncengine.Sync",
		trace.WithAttributes(attribute.String("correspondence_id", req.CorrespondenceID.String())))
	defer span.End()

	c, err := s.store.GetByID(ctx, req.CorrespondenceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domainerrors.Wrap(err, domainerrors.CodeNotFound,
				fmt.Sprintf("correspondence %s not found", req.CorrespondenceID))
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal,
			fmt.Sprintf("load correspondence %s", req.CorrespondenceID))
	}
	existingDeletes, err := s.store.DeleteEvents(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("load delete events: %w", err)
	}

	netStatuses, netDeletes := MergeSyncedEvents(c.Statuses, existingDeletes, req.StatusEvents, req.DeleteEvents)
	s.metrics.Merged(len(req.StatusEvents)+len(req.DeleteEvents), len(netStatuses)+len(netDeletes))
	if len(netStatuses) == 0 && len(netDeletes) == 0 {
		return nil
	}

	syncedAt := time.Now().UTC()
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.applyStatuses(ctx, c, netStatuses, syncedAt); err != nil {
			return err
		}
		return s.applyDeletes(ctx, c, existingDeletes, netDeletes, syncedAt)
	})
}

func (s *Syncer) applyStatuses(ctx context.Context, c *correspondence.Correspondence, events []correspondence.StatusEvent, syncedAt time.Time) error {
	if len(events) == 0 {
		return nil
	}
	toAppend := make([]correspondence.StatusEvent, len(events))
	for i, e := range events {
		e.CorrespondenceID = c.ID
		e.SyncedAt = &syncedAt
		if e.Note == "" {
			e.Note = fmt.Sprintf("Synced %s from legacy", e.Status)
		}
		toAppend[i] = e
	}
	if err := s.store.AddStatusEvents(ctx, toAppend); err != nil {
		return fmt.Errorf("append synced statuses: %w", err)
	}

	if c.IsMigrating {
		return nil
	}
	for _, e := range toAppend {
		if err := s.statusSideEffects(ctx, c, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) statusSideEffects(ctx context.Context, c *correspondence.Correspondence, e correspondence.StatusEvent) error {
	switch e.Status {
	case correspondence.StatusRead:
		if err := s.publishEvent(ctx, c, eventbus.EventReceiverRead, e.OccurredAt); err != nil {
			return err
		}
		return s.enqueueActivity(ctx, dialog.JobOpenedActivity, c.ID, e.OccurredAt)

	case correspondence.StatusConfirmed:
		if err := s.publishEvent(ctx, c, eventbus.EventReceiverConfirmed, e.OccurredAt); err != nil {
			return err
		}
		if err := s.enqueueActivity(ctx, dialog.JobConfirmedActivity, c.ID, e.OccurredAt); err != nil {
			return err
		}
		patch, err := jobs.New(dialog.JobPatchConfirmed, dialog.PatchConfirmedPayload{CorrespondenceID: c.ID})
		if err != nil {
			return err
		}
		if _, err := s.scheduler.Create(ctx, patch, jobs.Enqueued()); err != nil {
			return fmt.Errorf("enqueue dialog patch: %w", err)
		}
		return nil

	case correspondence.StatusArchived:
		return s.enqueueLabels(ctx, c.ID, e.PartyUUID, []string{dialog.LabelArchive}, nil)
	}
	return nil
}

// applyDeletes walks the net-new delete events in timestamp order. Hard
// deletes go through the purge orchestrator so the delete event, the terminal
// status and the cascade stay one unit; a hard delete against an
// already-purged correspondence only completes the ledger. Soft deletes and
// restores never touch the status ledger, they flip the recipient's Bin
// label.
func (s *Syncer) applyDeletes(ctx context.Context, c *correspondence.Correspondence, existing, events []correspondence.DeleteEvent, syncedAt time.Time) error {
	purged := correspondence.EffectivePurgeState(existing) == correspondence.PurgeStatePurged

	for _, e := range events {
		e.CorrespondenceID = c.ID
		e.SyncedAt = &syncedAt

		if e.Type.IsHard() && !purged {
			err := s.purger.Purge(ctx, purge.Request{
				CorrespondenceID: c.ID,
				EventType:        e.Type,
				PartyUUID:        e.PartyUUID,
				OccurredAt:       e.OccurredAt,
				SyncedAt:         &syncedAt,
			})
			switch {
			case err == nil:
				purged = true
				continue
			case domainerrors.HasCode(err, domainerrors.CodeAlreadyPurged):
				s.log.Info("synced hard delete for already purged correspondence", "correspondence_id", c.ID)
				purged = true
			default:
				return err
			}
		}

		if err := s.store.AddDeleteEvent(ctx, e); err != nil {
			return fmt.Errorf("append synced delete event: %w", err)
		}
		if c.IsMigrating {
			continue
		}
		switch e.Type {
		case correspondence.DeleteSoftByRecipient:
			if err := s.enqueueLabels(ctx, c.ID, e.PartyUUID, []string{dialog.LabelBin}, nil); err != nil {
				return err
			}
		case correspondence.DeleteRestored:
			if err := s.enqueueLabels(ctx, c.ID, e.PartyUUID, nil, []string{dialog.LabelBin}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Syncer) publishEvent(ctx context.Context, c *correspondence.Correspondence, eventType eventbus.EventType, occurredAt time.Time) error {
	job, err := jobs.New(eventbus.JobPublish, eventbus.Event{
		ID:               uuid.New(),
		Type:             eventType,
		CorrespondenceID: c.ID,
		ResourceID:       c.ResourceID,
		Recipient:        c.Sender,
		OccurredAt:       occurredAt,
	})
	if err != nil {
		return err
	}
	if _, err := s.scheduler.Create(ctx, job, jobs.Enqueued()); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return nil
}

func (s *Syncer) enqueueActivity(ctx context.Context, jobType string, id uuid.UUID, occurredAt time.Time) error {
	job, err := jobs.New(jobType, dialog.ActivityPayload{
		CorrespondenceID: id,
		Actor:            dialog.ActorRecipient,
		OccurredAt:       occurredAt,
	})
	if err != nil {
		return err
	}
	if _, err := s.scheduler.Create(ctx, job, jobs.Enqueued()); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return nil
}

// enqueueLabels resolves the acting party and enqueues a system-label update
// scoped to that end user. A party the register does not know is logged and
// skipped; the label is cosmetic next to the ledger write that already
// happened.
func (s *Syncer) enqueueLabels(ctx context.Context, id uuid.UUID, partyUUID uuid.UUID, add, remove []string) error {
	party, err := s.register.LookupByUUID(ctx, partyUUID)
	if err != nil {
		s.log.Warn("skipping label update, party lookup failed",
			"correspondence_id", id, "party_uuid", partyUUID, "error", err)
		return nil
	}
	job, err := jobs.New(dialog.JobUpdateLabels, dialog.UpdateLabelsPayload{
		CorrespondenceID: id,
		EndUser:          party.Identifier,
		Add:              add,
		Remove:           remove,
	})
	if err != nil {
		return err
	}
	if _, err := s.scheduler.Create(ctx, job, jobs.Enqueued()); err != nil {
		return fmt.Errorf("enqueue label update: %w", err)
	}
	return nil
}
