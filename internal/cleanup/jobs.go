package cleanup

import (
	"context"
	"encoding/json"

	"meldeboks/internal/jobs"
)

// Job types for scheduled and operator-triggered sweeps. Payloads are empty;
// each sweep derives everything from the data.
const (
	JobOrphanedDialogs     = "cleanup.orphaned_dialogs"
	JobPerishingDialogs    = "cleanup.perishing_dialogs"
	JobConfirmedMigrated   = "cleanup.confirmed_migrated"
	JobOrphanedAttachments = "cleanup.orphaned_attachments"
)

// Handlers binds the sweep job types to a Sweeper.
func Handlers(s *Sweeper) map[string]jobs.HandlerFunc {
	return map[string]jobs.HandlerFunc{
		JobOrphanedDialogs: func(ctx context.Context, _ json.RawMessage) error {
			_, err := s.CleanupOrphanedDialogs(ctx)
			return err
		},
		JobPerishingDialogs: func(ctx context.Context, _ json.RawMessage) error {
			_, err := s.CleanupPerishingDialogs(ctx)
			return err
		},
		JobConfirmedMigrated: func(ctx context.Context, _ json.RawMessage) error {
			_, err := s.CleanupConfirmedMigrated(ctx)
			return err
		},
		JobOrphanedAttachments: func(ctx context.Context, _ json.RawMessage) error {
			_, err := s.CleanupOrphanedAttachments(ctx)
			return err
		},
	}
}
