package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"meldeboks/internal/correspondence"
	"meldeboks/internal/dialog"
	"meldeboks/internal/eventbus"
	"meldeboks/internal/jobs"
	"meldeboks/internal/notification"
	"meldeboks/internal/register"
	domainerrors "meldeboks/pkg/domain-errors"
	"meldeboks/pkg/platform/sentinel"
	txcontext "meldeboks/pkg/platform/tx"
)

// verifyPatchDelay is how long after a patch-to-confirmed enqueue the
// verification job runs.
const verifyPatchDelay = time.Minute

// Service owns status-ledger writes for correspondences: transition
// enforcement on append, and the per-status side effects the recipient
// operations trigger. Side effects go through the job scheduler, and each
// operation runs its append and its enqueues as one unit of work.
type Service struct {
	store     correspondence.Store
	register  register.Service
	scheduler jobs.Scheduler
	tx        txcontext.Runner
	log       *slog.Logger
	metrics   *Metrics
}

func New(store correspondence.Store, reg register.Service, scheduler jobs.Scheduler, runner txcontext.Runner, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		register:  reg,
		scheduler: scheduler,
		tx:        runner,
		log:       log,
		metrics:   sharedMetrics,
	}
}

// AppendRequest describes one status-ledger append.
type AppendRequest struct {
	CorrespondenceID uuid.UUID
	Status           correspondence.Status
	PartyUUID        uuid.UUID
	Note             string
	OccurredAt       time.Time

	// SyncedAt marks the event as backfilled from legacy migration.
	SyncedAt *time.Time
}

// AppendStatus validates the transition against the current ledger and
// appends the event. It has no side effects beyond the append; the recipient
// operations below decide what to enqueue. The loaded snapshot is returned so
// callers evaluating cascades see the pre-append state.
func (s *Service) AppendStatus(ctx context.Context, req AppendRequest) (*correspondence.Correspondence, error) {
	c, err := s.store.GetByID(ctx, req.CorrespondenceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.Wrap(err, domainerrors.CodeNotFound,
				fmt.Sprintf("correspondence %s not found", req.CorrespondenceID))
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal,
			fmt.Sprintf("load correspondence %s", req.CorrespondenceID))
	}
	if err := validateTransition(c, req.Status); err != nil {
		return nil, err
	}

	if err := s.store.AddStatusEvent(ctx, correspondence.StatusEvent{
		CorrespondenceID: c.ID,
		Status:           req.Status,
		OccurredAt:       req.OccurredAt,
		PartyUUID:        req.PartyUUID,
		Note:             req.Note,
		SyncedAt:         req.SyncedAt,
	}); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal,
			fmt.Sprintf("append %s to correspondence %s", req.Status, c.ID))
	}
	s.metrics.Appended(req.Status)
	return c, nil
}

// validateTransition enforces the progression plus the ledger-history
// prerequisites the progression map cannot express.
func validateTransition(c *correspondence.Correspondence, to correspondence.Status) error {
	current, ok := c.CurrentStatus()
	if !ok {
		return domainerrors.New(domainerrors.CodeInternal, "correspondence has no status ledger")
	}
	if current.Status.IsPurged() {
		return domainerrors.New(domainerrors.CodeAlreadyPurged, "correspondence already purged")
	}
	if !correspondence.CanTransition(current.Status, to) {
		return domainerrors.New(domainerrors.CodeIllegalTransition,
			fmt.Sprintf("cannot go from %s to %s", current.Status, to))
	}

	switch to {
	case correspondence.StatusRead:
		if !c.StatusHasBeen(correspondence.StatusFetched) {
			return domainerrors.New(domainerrors.CodeIllegalTransition,
				"cannot mark as read before fetched")
		}
	case correspondence.StatusConfirmed:
		if !c.StatusHasBeen(correspondence.StatusFetched) && !c.StatusHasBeen(correspondence.StatusRead) {
			return domainerrors.New(domainerrors.CodeIllegalTransition,
				"cannot confirm before fetched or read")
		}
	case correspondence.StatusArchived:
		if c.IsConfirmationNeeded && !c.StatusHasBeen(correspondence.StatusConfirmed) {
			return domainerrors.New(domainerrors.CodeConfirmationNeeded,
				"confirmation needed before archiving")
		}
	}
	return nil
}

// Publish appends Published, announces the correspondence on the event bus
// and orders a notification to the recipient. Only valid from
// ReadyForPublish; migrated correspondences get the append without the fanout
// since the legacy system already notified.
func (s *Service) Publish(ctx context.Context, id uuid.UUID, occurredAt time.Time) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.AppendStatus(ctx, AppendRequest{
			CorrespondenceID: id,
			Status:           correspondence.StatusPublished,
			OccurredAt:       occurredAt,
		})
		if err != nil {
			return err
		}
		if c.IsMigrating {
			return nil
		}
		if err := s.publishEvent(ctx, c, eventbus.EventCorrespondencePublished, occurredAt); err != nil {
			return err
		}
		order, err := jobs.New(notification.JobSendOrder, notification.Order{
			ID:               uuid.New(),
			CorrespondenceID: c.ID,
			Recipient:        c.Recipient,
			Channel:          notification.ChannelEmail,
			Body:             fmt.Sprintf("Du har mottatt en ny melding fra %s", c.Sender),
			RequestedAt:      occurredAt,
		})
		if err != nil {
			return err
		}
		if _, err := s.scheduler.Create(ctx, order, jobs.Enqueued()); err != nil {
			return fmt.Errorf("enqueue notification order: %w", err)
		}
		return nil
	})
}

// MarkAsFetched records that the recipient's client downloaded the
// correspondence. A visibility marker only; nothing is enqueued.
func (s *Service) MarkAsFetched(ctx context.Context, id, partyUUID uuid.UUID, occurredAt time.Time) error {
	_, err := s.AppendStatus(ctx, AppendRequest{
		CorrespondenceID: id,
		Status:           correspondence.StatusFetched,
		PartyUUID:        partyUUID,
		OccurredAt:       occurredAt,
	})
	return err
}

// MarkAsRead appends Read and, for non-migrating correspondences, publishes
// the receiver-read event and records an opened activity on the dialog.
func (s *Service) MarkAsRead(ctx context.Context, id, partyUUID uuid.UUID, occurredAt time.Time) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.AppendStatus(ctx, AppendRequest{
			CorrespondenceID: id,
			Status:           correspondence.StatusRead,
			PartyUUID:        partyUUID,
			OccurredAt:       occurredAt,
		})
		if err != nil {
			return err
		}
		if c.IsMigrating {
			return nil
		}
		if err := s.publishEvent(ctx, c, eventbus.EventReceiverRead, occurredAt); err != nil {
			return err
		}
		return s.enqueueActivity(ctx, dialog.JobOpenedActivity, c.ID, occurredAt)
	})
}

// Confirm appends Confirmed and, for non-migrating correspondences, publishes
// the receiver-confirmed event, records a confirmed activity, patches the
// dialog's confirmed flag and schedules a delayed verification of that patch.
func (s *Service) Confirm(ctx context.Context, id, partyUUID uuid.UUID, occurredAt time.Time) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.AppendStatus(ctx, AppendRequest{
			CorrespondenceID: id,
			Status:           correspondence.StatusConfirmed,
			PartyUUID:        partyUUID,
			OccurredAt:       occurredAt,
		})
		if err != nil {
			return err
		}
		if c.IsMigrating {
			return nil
		}
		if err := s.publishEvent(ctx, c, eventbus.EventReceiverConfirmed, occurredAt); err != nil {
			return err
		}
		if err := s.enqueueActivity(ctx, dialog.JobConfirmedActivity, c.ID, occurredAt); err != nil {
			return err
		}

		patch, err := jobs.New(dialog.JobPatchConfirmed, dialog.PatchConfirmedPayload{CorrespondenceID: c.ID})
		if err != nil {
			return err
		}
		if _, err := s.scheduler.Create(ctx, patch, jobs.Enqueued()); err != nil {
			return fmt.Errorf("enqueue dialog patch: %w", err)
		}
		verify, err := jobs.New(dialog.JobVerifyConfirmed, dialog.PatchConfirmedPayload{CorrespondenceID: c.ID})
		if err != nil {
			return err
		}
		if _, err := s.scheduler.Create(ctx, verify, jobs.Scheduled(verifyPatchDelay)); err != nil {
			return fmt.Errorf("schedule dialog patch verification: %w", err)
		}
		return nil
	})
}

// Archive appends Archived and, for non-migrating correspondences, moves the
// dialog into the recipient's archive view via a system-label update. The
// acting party must resolve in the register since the label update is scoped
// to that end user.
func (s *Service) Archive(ctx context.Context, id, partyUUID uuid.UUID, occurredAt time.Time) error {
	party, err := s.register.LookupByUUID(ctx, partyUUID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domainerrors.Wrap(err, domainerrors.CodeNotFound,
				fmt.Sprintf("party %s not found in register", partyUUID))
		}
		return domainerrors.Wrap(err, domainerrors.CodeUnavailable, "register lookup failed")
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.AppendStatus(ctx, AppendRequest{
			CorrespondenceID: id,
			Status:           correspondence.StatusArchived,
			PartyUUID:        partyUUID,
			OccurredAt:       occurredAt,
		})
		if err != nil {
			return err
		}
		if c.IsMigrating {
			return nil
		}
		return s.enqueueLabelUpdate(ctx, c.ID, party.Identifier, []string{dialog.LabelArchive}, nil)
	})
}

func (s *Service) publishEvent(ctx context.Context, c *correspondence.Correspondence, eventType eventbus.EventType, occurredAt time.Time) error {
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

func (s *Service) enqueueActivity(ctx context.Context, jobType string, id uuid.UUID, occurredAt time.Time) error {
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

func (s *Service) enqueueLabelUpdate(ctx context.Context, id uuid.UUID, endUser string, add, remove []string) error {
	job, err := jobs.New(dialog.JobUpdateLabels, dialog.UpdateLabelsPayload{
		CorrespondenceID: id,
		EndUser:          endUser,
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
