package correspondence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCurrentStatus_LatestTimestampWins(t *testing.T) {
	base := time.Now().UTC()
	ledger := []StatusEvent{
		{Status: StatusInitialized, OccurredAt: base},
		{Status: StatusPublished, OccurredAt: base.Add(2 * time.Minute)},
		{Status: StatusReadyForPublish, OccurredAt: base.Add(time.Minute)},
	}
	current, ok := CurrentStatus(ledger)
	require.True(t, ok)
	require.Equal(t, StatusPublished, current.Status)
}

func TestCurrentStatus_TieBrokenByInsertionOrder(t *testing.T) {
	// An event synced from legacy can land at the exact same instant as a
	// native one. The later insertion wins.
	at := time.Now().UTC()
	ledger := []StatusEvent{
		{Status: StatusRead, OccurredAt: at},
		{Status: StatusConfirmed, OccurredAt: at},
	}
	current, ok := CurrentStatus(ledger)
	require.True(t, ok)
	require.Equal(t, StatusConfirmed, current.Status)
}

func TestCurrentStatus_EmptyLedger(t *testing.T) {
	_, ok := CurrentStatus(nil)
	require.False(t, ok)
}

func TestStatusHasBeen(t *testing.T) {
	ledger := []StatusEvent{
		{Status: StatusInitialized},
		{Status: StatusPublished},
		{Status: StatusFetched},
	}
	require.True(t, StatusHasBeen(ledger, StatusFetched))
	require.False(t, StatusHasBeen(ledger, StatusRead))
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusInitialized, StatusReadyForPublish))
	require.True(t, CanTransition(StatusReadyForPublish, StatusFailed))
	require.True(t, CanTransition(StatusPublished, StatusArchived))
	require.True(t, CanTransition(StatusRead, StatusFetched)) // markers interleave
	require.True(t, CanTransition(StatusArchived, StatusPurgedByOwner))

	require.False(t, CanTransition(StatusInitialized, StatusPublished))
	require.False(t, CanTransition(StatusPublished, StatusFailed))
	require.False(t, CanTransition(StatusPurgedByRecipient, StatusArchived))
	require.False(t, CanTransition(StatusFailed, StatusReadyForPublish))
}

func TestDeleteEventType(t *testing.T) {
	require.True(t, DeleteHardByRecipient.IsHard())
	require.True(t, DeleteHardByOwner.IsHard())
	require.False(t, DeleteSoftByRecipient.IsHard())
	require.False(t, DeleteRestored.IsHard())

	require.Equal(t, StatusPurgedByOwner, DeleteHardByOwner.PurgeStatus())
	require.Equal(t, StatusPurgedByRecipient, DeleteHardByRecipient.PurgeStatus())
}

func TestEffectivePurgeState(t *testing.T) {
	base := time.Now().UTC()

	require.Equal(t, PurgeStateActive, EffectivePurgeState(nil))

	soft := []DeleteEvent{{Type: DeleteSoftByRecipient, OccurredAt: base}}
	require.Equal(t, PurgeStateSoftDeleted, EffectivePurgeState(soft))

	restored := append(soft, DeleteEvent{Type: DeleteRestored, OccurredAt: base.Add(time.Hour)})
	require.Equal(t, PurgeStateActive, EffectivePurgeState(restored))

	purged := append(restored, DeleteEvent{Type: DeleteHardByRecipient, OccurredAt: base.Add(2 * time.Hour)})
	require.Equal(t, PurgeStatePurged, EffectivePurgeState(purged))
}

func TestEffectivePurgeState_HardDeleteIsNotUndoneByEarlierRestore(t *testing.T) {
	base := time.Now().UTC()
	events := []DeleteEvent{
		{Type: DeleteHardByOwner, OccurredAt: base.Add(time.Hour)},
		{Type: DeleteRestored, OccurredAt: base},
	}
	require.Equal(t, PurgeStatePurged, EffectivePurgeState(events))
}

func TestDialogRef(t *testing.T) {
	c := &Correspondence{ExternalReferences: []ExternalReference{
		{Type: "other", Value: "x"},
		{Type: ReferenceDialog, Value: "dlg-1"},
	}}
	ref, ok := c.DialogRef()
	require.True(t, ok)
	require.Equal(t, "dlg-1", ref)

	_, ok = (&Correspondence{}).DialogRef()
	require.False(t, ok)
}

func TestIsAvailableForRecipient(t *testing.T) {
	require.True(t, StatusPublished.IsAvailableForRecipient())
	require.True(t, StatusArchived.IsAvailableForRecipient())
	require.False(t, StatusInitialized.IsAvailableForRecipient())
	require.False(t, StatusFailed.IsAvailableForRecipient())
	require.False(t, StatusPurgedByRecipient.IsAvailableForRecipient())
}
