package correspondence

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"meldeboks/pkg/platform/sentinel"
)

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	store := NewInMemoryStore()
	c := &Correspondence{ID: uuid.New(), ResourceID: "res-1", Created: time.Now().UTC()}

	require.NoError(t, store.Create(context.Background(), c))
	require.ErrorIs(t, store.Create(context.Background(), c), sentinel.ErrConflict)

	loaded, err := store.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, loaded.ID)

	_, err = store.GetByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_LoadedSnapshotIsDetached(t *testing.T) {
	store := NewInMemoryStore()
	c := &Correspondence{ID: uuid.New(), Created: time.Now().UTC()}
	require.NoError(t, store.Create(context.Background(), c))

	loaded, err := store.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	loaded.Statuses = append(loaded.Statuses, StatusEvent{Status: StatusFailed})

	reloaded, err := store.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.Empty(t, reloaded.Statuses)
}

func TestInMemoryStore_StatusLedgerKeepsInsertionOrder(t *testing.T) {
	store := NewInMemoryStore()
	c := &Correspondence{ID: uuid.New(), Created: time.Now().UTC()}
	require.NoError(t, store.Create(context.Background(), c))

	at := time.Now().UTC()
	events := []StatusEvent{
		{CorrespondenceID: c.ID, Status: StatusInitialized, OccurredAt: at},
		{CorrespondenceID: c.ID, Status: StatusReadyForPublish, OccurredAt: at},
	}
	require.NoError(t, store.AddStatusEvents(context.Background(), events))

	loaded, err := store.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Statuses, 2)
	require.Equal(t, StatusInitialized, loaded.Statuses[0].Status)
	require.Equal(t, StatusReadyForPublish, loaded.Statuses[1].Status)
	require.NotEqual(t, uuid.Nil, loaded.Statuses[0].ID)
}

func TestInMemoryStore_AddStatusEventUnknownCorrespondence(t *testing.T) {
	store := NewInMemoryStore()
	err := store.AddStatusEvent(context.Background(), StatusEvent{CorrespondenceID: uuid.New()})
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_GetByLegacyID(t *testing.T) {
	store := NewInMemoryStore()
	legacy := int64(1234)
	c := &Correspondence{ID: uuid.New(), LegacyID: &legacy, IsMigrating: true, Created: time.Now().UTC()}
	require.NoError(t, store.Create(context.Background(), c))

	loaded, err := store.GetByLegacyID(context.Background(), legacy)
	require.NoError(t, err)
	require.Equal(t, c.ID, loaded.ID)

	_, err = store.GetByLegacyID(context.Background(), 9999)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, store.SetMigrationCompleted(context.Background(), c.ID))
	loaded, err = store.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.False(t, loaded.IsMigrating)
}

func TestInMemoryStore_DeleteEvents(t *testing.T) {
	store := NewInMemoryStore()
	c := &Correspondence{ID: uuid.New(), Created: time.Now().UTC()}
	require.NoError(t, store.Create(context.Background(), c))

	at := time.Now().UTC()
	require.NoError(t, store.AddDeleteEvent(context.Background(), DeleteEvent{
		CorrespondenceID: c.ID, Type: DeleteSoftByRecipient, OccurredAt: at,
	}))
	require.NoError(t, store.AddDeleteEvent(context.Background(), DeleteEvent{
		CorrespondenceID: c.ID, Type: DeleteRestored, OccurredAt: at.Add(time.Hour),
	}))

	events, err := store.DeleteEvents(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, DeleteSoftByRecipient, events[0].Type)

	err = store.AddDeleteEvent(context.Background(), DeleteEvent{CorrespondenceID: uuid.New()})
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_WindowAfter(t *testing.T) {
	store := NewInMemoryStore()
	created := time.Now().UTC().Add(-time.Hour)
	// Same Created on every row forces the id tie-break.
	var ids []uuid.UUID
	for i := 0; i < 7; i++ {
		c := &Correspondence{ID: uuid.New(), Created: created}
		require.NoError(t, store.Create(context.Background(), c))
		ids = append(ids, c.ID)
	}

	var seen []WindowRow
	var cursorCreated *time.Time
	var cursorID *uuid.UUID
	for {
		rows, err := store.WindowAfter(context.Background(), 3, cursorCreated, cursorID)
		require.NoError(t, err)
		if len(rows) == 0 {
			break
		}
		seen = append(seen, rows...)
		last := rows[len(rows)-1]
		cursorCreated, cursorID = &last.Created, &last.ID
	}

	require.Len(t, seen, 7)
	for i := 1; i < len(seen); i++ {
		require.True(t, bytes.Compare(seen[i-1].ID[:], seen[i].ID[:]) < 0,
			"rows must come back in (created, id) order")
	}
	seenIDs := make(map[uuid.UUID]bool)
	for _, row := range seen {
		seenIDs[row.ID] = true
	}
	for _, id := range ids {
		require.True(t, seenIDs[id])
	}
}

func TestInMemoryStore_FilterByReferenceAndStatus(t *testing.T) {
	store := NewInMemoryStore()
	at := time.Now().UTC()

	withDialog := &Correspondence{
		ID: uuid.New(), Created: at,
		ExternalReferences: []ExternalReference{{Type: ReferenceDialog, Value: "dlg-1"}},
	}
	noDialog := &Correspondence{ID: uuid.New(), Created: at}
	wrongStatus := &Correspondence{
		ID: uuid.New(), Created: at,
		ExternalReferences: []ExternalReference{{Type: ReferenceDialog, Value: "dlg-2"}},
	}
	for _, c := range []*Correspondence{withDialog, noDialog, wrongStatus} {
		require.NoError(t, store.Create(context.Background(), c))
	}
	require.NoError(t, store.AddStatusEvent(context.Background(), StatusEvent{
		CorrespondenceID: withDialog.ID, Status: StatusPurgedByRecipient, OccurredAt: at,
	}))
	require.NoError(t, store.AddStatusEvent(context.Background(), StatusEvent{
		CorrespondenceID: noDialog.ID, Status: StatusPurgedByRecipient, OccurredAt: at,
	}))
	require.NoError(t, store.AddStatusEvent(context.Background(), StatusEvent{
		CorrespondenceID: wrongStatus.ID, Status: StatusPublished, OccurredAt: at,
	}))

	ids := []uuid.UUID{withDialog.ID, noDialog.ID, wrongStatus.ID, uuid.New()}
	out, err := store.FilterByReferenceAndStatus(context.Background(), ids, ReferenceDialog,
		[]Status{StatusPurgedByRecipient, StatusPurgedByOwner})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, withDialog.ID, out[0].ID)
}
