package purge

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

	"meldeboks/internal/attachment"
	"meldeboks/internal/correspondence"
	"meldeboks/internal/dialog"
	"meldeboks/internal/eventbus"
	"meldeboks/internal/idempotency"
	"meldeboks/internal/jobs"
	"meldeboks/internal/notification"
	domainerrors "meldeboks/pkg/domain-errors"
	"meldeboks/pkg/platform/sentinel"
	txcontext "meldeboks/pkg/platform/tx"
)

// Orchestrator runs the purge cascade: the ledger appends plus the fan-out of
// side effects (outbound event, dialog activity and soft-delete, notification
// cancellation, attachment reference-counted cleanup). The appends and the
// enqueue of every side-effect job run as one unit of work through the
// transaction runner, and the idempotency guard keeps a re-run from
// duplicating the outbound event.
type Orchestrator struct {
	correspondences correspondence.Store
	attachments     attachment.Store
	scheduler       jobs.Scheduler
	guard           idempotency.Guard
	tx              txcontext.Runner
	log             *slog.Logger
	tracer          trace.Tracer
	metrics         *Metrics
}

func NewOrchestrator(
	correspondences correspondence.Store,
	attachments attachment.Store,
	scheduler jobs.Scheduler,
	guard idempotency.Guard,
	runner txcontext.Runner,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		correspondences: correspondences,
		attachments:     attachments,
		scheduler:       scheduler,
		guard:           guard,
		tx:              runner,
		log:             log,
		tracer:          otel.Tracer("meldeboks/purge"),
		metrics:         sharedMetrics,
	}
}

// Request describes one purge operation.
type Request struct {
	CorrespondenceID uuid.UUID
	EventType        correspondence.DeleteEventType // must be a hard delete
	PartyUUID        uuid.UUID
	OccurredAt       time.Time

	// SyncedAt marks the purge as originating from legacy migration sync.
	SyncedAt *time.Time
}

// Purge validates, appends the delete event and terminal status, and runs the
// cascade. Purging an already-purged correspondence is rejected with
// CodeAlreadyPurged; callers that reach this from a sync merge treat that as
// a successful no-op.
func (o *Orchestrator) Purge(ctx context.Context, req Request) error {
	ctx, span := o.tracer.Start(ctx, "purge.Purge",
		trace.WithAttributes(attribute.String("correspondence_id", req.CorrespondenceID.String())))
	defer span.End()

	if !req.EventType.IsHard() {
		return domainerrors.New(domainerrors.CodeBadRequest,
			fmt.Sprintf("delete event %s does not purge", req.EventType))
	}

	c, err := o.correspondences.GetByID(ctx, req.CorrespondenceID)
	if err != nil {
		return translateStoreErr(err, req.CorrespondenceID)
	}
	current, ok := c.CurrentStatus()
	if !ok {
		return domainerrors.New(domainerrors.CodeInternal, "correspondence has no status ledger")
	}
	if current.Status.IsPurged() || c.StatusHasBeen(correspondence.StatusPurgedByOwner) || c.StatusHasBeen(correspondence.StatusPurgedByRecipient) {
		return domainerrors.New(domainerrors.CodeAlreadyPurged, "correspondence already purged")
	}
	// Never-published correspondences cannot be purged. The recipient has
	// never seen one, so for them it does not exist at all.
	if req.EventType == correspondence.DeleteHardByRecipient && !current.Status.IsAvailableForRecipient() {
		return domainerrors.New(domainerrors.CodeNotFound,
			fmt.Sprintf("correspondence %s not found", c.ID))
	}
	if !c.StatusHasBeen(correspondence.StatusPublished) {
		return domainerrors.New(domainerrors.CodeIllegalTransition,
			fmt.Sprintf("cannot purge correspondence in status %s before publish", current.Status))
	}

	purgeStatus := req.EventType.PurgeStatus()
	err = o.tx.InTx(ctx, func(ctx context.Context) error {
		if err := o.correspondences.AddDeleteEvent(ctx, correspondence.DeleteEvent{
			CorrespondenceID: c.ID,
			Type:             req.EventType,
			OccurredAt:       req.OccurredAt,
			PartyUUID:        req.PartyUUID,
			SyncedAt:         req.SyncedAt,
		}); err != nil {
			return fmt.Errorf("append delete event: %w", err)
		}
		if err := o.correspondences.AddStatusEvent(ctx, correspondence.StatusEvent{
			CorrespondenceID: c.ID,
			Status:           purgeStatus,
			OccurredAt:       req.OccurredAt,
			PartyUUID:        req.PartyUUID,
			Note:             string(purgeStatus),
			SyncedAt:         req.SyncedAt,
		}); err != nil {
			return fmt.Errorf("append purge status: %w", err)
		}
		return o.Cascade(ctx, c, req.EventType, req.OccurredAt)
	})
	if err != nil {
		return err
	}
	o.metrics.purges.WithLabelValues(string(purgeStatus)).Inc()
	return nil
}

// Cascade runs the side effects for a correspondence whose purge status has
// just been appended. The caller passes the pre-append snapshot.
func (o *Orchestrator) Cascade(ctx context.Context, c *correspondence.Correspondence, eventType correspondence.DeleteEventType, occurredAt time.Time) error {
	ctx, span := o.tracer.Start(ctx, "purge.Cascade")
	defer span.End()

	actor, actorName := actorFor(eventType)

	// Migrated correspondences still owned by the legacy system get the
	// ledger and attachment cleanup, but no outward side effects.
	if !c.IsMigrating {
		if err := o.publishPurgedEvent(ctx, c, actor, occurredAt); err != nil {
			return err
		}
		if err := o.enqueueDialogEffects(ctx, c, actor, actorName, occurredAt); err != nil {
			return err
		}
	}
	return o.CheckAndPurgeAttachments(ctx, c.ID, occurredAt)
}

// publishPurgedEvent enqueues the outbound integration event addressed to the
// counterpart of the purging actor, guarded so a retried cascade publishes it
// once.
func (o *Orchestrator) publishPurgedEvent(ctx context.Context, c *correspondence.Correspondence, actor dialog.ActorType, occurredAt time.Time) error {
	key := idempotency.Key("purge-event", c.ID.String())
	outcome, err := o.guard.TryReserve(ctx, key)
	if err != nil {
		return fmt.Errorf("reserve purge event key: %w", err)
	}
	if outcome == idempotency.AlreadyExists {
		o.log.Info("purge event already published, skipping", "correspondence_id", c.ID)
		return nil
	}

	counterpart := c.Sender
	if actor == dialog.ActorSender {
		counterpart = c.Recipient
	}
	job, err := jobs.New(eventbus.JobPublish, eventbus.Event{
		ID:               uuid.New(),
		Type:             eventbus.EventCorrespondencePurged,
		CorrespondenceID: c.ID,
		ResourceID:       c.ResourceID,
		Recipient:        counterpart,
		OccurredAt:       occurredAt,
	})
	if err != nil {
		return err
	}
	if _, err := o.scheduler.Create(ctx, job, jobs.Enqueued()); err != nil {
		// Free the key so the retried cascade can publish.
		if relErr := o.guard.Release(ctx, key); relErr != nil {
			o.log.Warn("release purge event key failed", "error", relErr)
		}
		return fmt.Errorf("enqueue purge event: %w", err)
	}
	return nil
}

func (o *Orchestrator) enqueueDialogEffects(ctx context.Context, c *correspondence.Correspondence, actor dialog.ActorType, actorName string, occurredAt time.Time) error {
	activityJob, err := jobs.New(dialog.JobPurgedActivity, dialog.ActivityPayload{
		CorrespondenceID: c.ID,
		Actor:            actor,
		ActorName:        actorName,
		OccurredAt:       occurredAt,
	})
	if err != nil {
		return err
	}
	if _, err := o.scheduler.Create(ctx, activityJob, jobs.Enqueued()); err != nil {
		return fmt.Errorf("enqueue purged activity: %w", err)
	}

	cancelJob, err := jobs.New(notification.JobCancel, notification.Cancellation{
		CorrespondenceID: c.ID,
		Reason:           "correspondence purged",
		RequestedAt:      occurredAt,
	})
	if err != nil {
		return err
	}
	if _, err := o.scheduler.Create(ctx, cancelJob, jobs.Enqueued()); err != nil {
		return fmt.Errorf("enqueue notification cancel: %w", err)
	}

	dialogID, ok := c.DialogRef()
	if !ok {
		o.log.Warn("purged correspondence has no dialog reference", "correspondence_id", c.ID)
		return nil
	}
	deleteJob, err := jobs.New(dialog.JobSoftDelete, dialog.SoftDeletePayload{DialogID: dialogID})
	if err != nil {
		return err
	}
	if _, err := o.scheduler.Create(ctx, deleteJob, jobs.Enqueued()); err != nil {
		return fmt.Errorf("enqueue dialog soft delete: %w", err)
	}
	return nil
}

// CheckAndPurgeAttachments purges every attachment of the correspondence that
// no other un-purged correspondence still references. An attachment is purged
// at most once: an existing Purged status short-circuits, so re-running the
// cascade enqueues no duplicate storage purge.
func (o *Orchestrator) CheckAndPurgeAttachments(ctx context.Context, correspondenceID uuid.UUID, occurredAt time.Time) error {
	attachments, err := o.attachments.GetByCorrespondence(ctx, correspondenceID)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	for _, a := range attachments {
		canDelete, err := o.attachments.CanBeDeleted(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("check attachment %s: %w", a.ID, err)
		}
		if !canDelete || a.StatusHasBeen(attachment.StatusPurged) {
			continue
		}

		purgeJob, err := jobs.New(attachment.JobPurgeStorage, attachment.PurgeStoragePayload{
			AttachmentID:    a.ID,
			StorageProvider: a.StorageProvider,
		})
		if err != nil {
			return err
		}
		if _, err := o.scheduler.Create(ctx, purgeJob, jobs.Enqueued()); err != nil {
			return fmt.Errorf("enqueue storage purge: %w", err)
		}
		if err := o.attachments.AddStatusEvent(ctx, attachment.StatusEvent{
			AttachmentID: a.ID,
			Status:       attachment.StatusPurged,
			OccurredAt:   occurredAt,
			Note:         string(attachment.StatusPurged),
		}); err != nil {
			return fmt.Errorf("append attachment purge status: %w", err)
		}
		o.metrics.attachmentPurges.Inc()
	}
	return nil
}

func actorFor(eventType correspondence.DeleteEventType) (dialog.ActorType, string) {
	if eventType == correspondence.DeleteHardByOwner {
		return dialog.ActorSender, "avsender"
	}
	return dialog.ActorRecipient, "mottaker"
}

func translateStoreErr(err error, id uuid.UUID) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return domainerrors.Wrap(err, domainerrors.CodeNotFound,
			fmt.Sprintf("correspondence %s not found", id))
	}
	return domainerrors.Wrap(err, domainerrors.CodeInternal,
		fmt.Sprintf("load correspondence %s", id))
}
