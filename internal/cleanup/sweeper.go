package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"meldeboks/internal/attachment"
	"meldeboks/internal/correspondence"
	"meldeboks/internal/dialog"
	"meldeboks/internal/jobs"
	"meldeboks/internal/purge"
	"meldeboks/internal/scanner"
)

// Result summarizes one sweep: rows visited, rows acted on, and per-item
// failures. One bad row never aborts the sweep; its error is recorded here
// for operator visibility.
type Result struct {
	Visited  int
	Affected int
	Failures []ItemFailure
}

type ItemFailure struct {
	CorrespondenceID uuid.UUID
	Err              string
}

func (r *Result) fail(id uuid.UUID, err error) {
	r.Failures = append(r.Failures, ItemFailure{CorrespondenceID: id, Err: err.Error()})
}

// Sweeper runs the whole-table maintenance jobs on top of the window scanner.
type Sweeper struct {
	store       correspondence.Store
	attachments attachment.Store
	scan        *scanner.Scanner
	dialogs     dialog.Service
	purger      *purge.Orchestrator
	scheduler   jobs.Scheduler
	log         *slog.Logger
}

func NewSweeper(store correspondence.Store, attachments attachment.Store, scan *scanner.Scanner, dialogs dialog.Service, purger *purge.Orchestrator, scheduler jobs.Scheduler, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:       store,
		attachments: attachments,
		scan:        scan,
		dialogs:     dialogs,
		purger:      purger,
		scheduler:   scheduler,
		log:         log,
	}
}

var purgedStatuses = []correspondence.Status{
	correspondence.StatusPurgedByRecipient,
	correspondence.StatusPurgedByOwner,
}

var activeStatuses = []correspondence.Status{
	correspondence.StatusPublished,
	correspondence.StatusFetched,
	correspondence.StatusRead,
	correspondence.StatusConfirmed,
	correspondence.StatusArchived,
}

// CleanupOrphanedDialogs soft-deletes the dialog of every purged
// correspondence. The purge cascade already does this for the live path;
// the sweep catches dialogs the cascade missed (cascade ran before the
// dialog existed, or the soft-delete job was dropped).
func (s *Sweeper) CleanupOrphanedDialogs(ctx context.Context) (*Result, error) {
	result := &Result{}
	err := s.scan.Scan(ctx, func(ctx context.Context, rows []correspondence.WindowRow) error {
		result.Visited += len(rows)
		matches, err := s.store.FilterByReferenceAndStatus(ctx, rowIDs(rows), correspondence.ReferenceDialog, purgedStatuses)
		if err != nil {
			return fmt.Errorf("filter page: %w", err)
		}
		for _, c := range matches {
			dialogID, ok := c.DialogRef()
			if !ok {
				continue
			}
			deleted, err := s.dialogs.TrySoftDeleteDialog(ctx, dialogID)
			if err != nil {
				result.fail(c.ID, err)
				continue
			}
			if deleted {
				result.Affected++
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	s.log.Info("orphaned dialog sweep done",
		"visited", result.Visited, "deleted", result.Affected, "failures", len(result.Failures))
	return result, nil
}

// CleanupPerishingDialogs purges correspondences whose system-delete-after
// time has passed. The purge runs as the service owner and cascades normally.
func (s *Sweeper) CleanupPerishingDialogs(ctx context.Context) (*Result, error) {
	now := time.Now().UTC()
	result := &Result{}
	err := s.scan.Scan(ctx, func(ctx context.Context, rows []correspondence.WindowRow) error {
		result.Visited += len(rows)
		matches, err := s.store.FilterByReferenceAndStatus(ctx, rowIDs(rows), correspondence.ReferenceDialog, activeStatuses)
		if err != nil {
			return fmt.Errorf("filter page: %w", err)
		}
		for _, c := range matches {
			if c.AllowSystemDeleteAfter == nil || c.AllowSystemDeleteAfter.After(now) {
				continue
			}
			err := s.purger.Purge(ctx, purge.Request{
				CorrespondenceID: c.ID,
				EventType:        correspondence.DeleteHardByOwner,
				OccurredAt:       now,
			})
			if err != nil {
				result.fail(c.ID, err)
				continue
			}
			result.Affected++
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	s.log.Info("perishing dialog sweep done",
		"visited", result.Visited, "purged", result.Affected, "failures", len(result.Failures))
	return result, nil
}

// CleanupConfirmedMigrated re-issues the confirmed patch for migrated
// correspondences whose ledger says confirmed. Migration creates dialogs
// after the confirmed event was backfilled, so the patch from the live path
// never ran for them.
func (s *Sweeper) CleanupConfirmedMigrated(ctx context.Context) (*Result, error) {
	result := &Result{}
	err := s.scan.Scan(ctx, func(ctx context.Context, rows []correspondence.WindowRow) error {
		result.Visited += len(rows)
		matches, err := s.store.FilterByReferenceAndStatus(ctx, rowIDs(rows), correspondence.ReferenceDialog,
			[]correspondence.Status{correspondence.StatusConfirmed, correspondence.StatusArchived})
		if err != nil {
			return fmt.Errorf("filter page: %w", err)
		}
		for _, c := range matches {
			if c.LegacyID == nil || !c.StatusHasBeen(correspondence.StatusConfirmed) {
				continue
			}
			job, err := jobs.New(dialog.JobPatchConfirmed, dialog.PatchConfirmedPayload{CorrespondenceID: c.ID})
			if err != nil {
				result.fail(c.ID, err)
				continue
			}
			if _, err := s.scheduler.Create(ctx, job, jobs.Enqueued()); err != nil {
				result.fail(c.ID, err)
				continue
			}
			result.Affected++
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	s.log.Info("confirmed migrated sweep done",
		"visited", result.Visited, "patched", result.Affected, "failures", len(result.Failures))
	return result, nil
}

// CleanupOrphanedAttachments hard-deletes attachment rows no correspondence
// references at all. Storage bytes were already purged by the cascade when
// the last reference went away; this removes the leftover metadata.
func (s *Sweeper) CleanupOrphanedAttachments(ctx context.Context) (*Result, error) {
	n, err := s.attachments.HardDeleteOrphaned(ctx)
	if err != nil {
		return nil, fmt.Errorf("hard delete orphaned attachments: %w", err)
	}
	s.log.Info("orphaned attachment sweep done", "deleted", n)
	return &Result{Affected: n}, nil
}

func rowIDs(rows []correspondence.WindowRow) []uuid.UUID {
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}
