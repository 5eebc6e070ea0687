package migration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"meldeboks/internal/correspondence"
	"meldeboks/internal/dialog"
	"meldeboks/internal/jobs"
	"meldeboks/internal/platform/logger"
)

func seedMigrating(t *testing.T, store *correspondence.InMemoryStore, legacyID int64, dialogID string) *correspondence.Correspondence {
	t.Helper()
	c := &correspondence.Correspondence{
		ID:          uuid.New(),
		Created:     time.Now().UTC().Add(-time.Hour),
		LegacyID:    &legacyID,
		IsMigrating: true,
	}
	if dialogID != "" {
		c.ExternalReferences = []correspondence.ExternalReference{
			{Type: correspondence.ReferenceDialog, Value: dialogID},
		}
	}
	require.NoError(t, store.Create(context.Background(), c))
	return c
}

func TestMakeAvailable(t *testing.T) {
	store := correspondence.NewInMemoryStore()
	scheduler := jobs.NewInMemoryScheduler()
	a := NewAvailability(store, scheduler, logger.Discard())
	c := seedMigrating(t, store, 4711, "dlg-1")

	require.NoError(t, a.MakeAvailable(context.Background(), 4711))

	loaded, err := store.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.False(t, loaded.IsMigrating)
	require.Len(t, scheduler.ByType(dialog.JobInformationActivity), 1)
}

func TestMakeAvailable_Idempotent(t *testing.T) {
	store := correspondence.NewInMemoryStore()
	scheduler := jobs.NewInMemoryScheduler()
	a := NewAvailability(store, scheduler, logger.Discard())
	seedMigrating(t, store, 4711, "dlg-1")

	require.NoError(t, a.MakeAvailable(context.Background(), 4711))
	require.NoError(t, a.MakeAvailable(context.Background(), 4711))
	require.Len(t, scheduler.ByType(dialog.JobInformationActivity), 1)
}

func TestMakeAvailable_UnknownLegacyID(t *testing.T) {
	store := correspondence.NewInMemoryStore()
	scheduler := jobs.NewInMemoryScheduler()
	a := NewAvailability(store, scheduler, logger.Discard())

	require.NoError(t, a.MakeAvailable(context.Background(), 999))
	require.Empty(t, scheduler.Created())
}

func TestMakeAvailable_NoDialogReference(t *testing.T) {
	store := correspondence.NewInMemoryStore()
	scheduler := jobs.NewInMemoryScheduler()
	a := NewAvailability(store, scheduler, logger.Discard())
	c := seedMigrating(t, store, 4711, "")

	require.NoError(t, a.MakeAvailable(context.Background(), 4711))
	loaded, err := store.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.False(t, loaded.IsMigrating)
	require.Empty(t, scheduler.Created())
}
