package syncengine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"meldeboks/internal/correspondence"
)

func statusAt(status correspondence.Status, at time.Time) correspondence.StatusEvent {
	return correspondence.StatusEvent{ID: uuid.New(), Status: status, OccurredAt: at}
}

func deleteAt(eventType correspondence.DeleteEventType, at time.Time) correspondence.DeleteEvent {
	return correspondence.DeleteEvent{ID: uuid.New(), Type: eventType, OccurredAt: at}
}

func TestMerge_ToleranceCollapsesJitter(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	statuses, _ := MergeSyncedEvents(nil, nil, []correspondence.StatusEvent{
		statusAt(correspondence.StatusRead, base),
		statusAt(correspondence.StatusRead, base.Add(150*time.Millisecond)),
	}, nil)

	require.Len(t, statuses, 1)
	require.Equal(t, base, statuses[0].OccurredAt, "earliest of the cluster survives")
}

func TestMerge_EventsBeyondToleranceBothPersist(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	statuses, _ := MergeSyncedEvents(nil, nil, []correspondence.StatusEvent{
		statusAt(correspondence.StatusRead, base),
		statusAt(correspondence.StatusRead, base.Add(time.Second)),
	}, nil)

	require.Len(t, statuses, 2)
}

func TestMerge_DifferentStatusesNeverCollapse(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	statuses, _ := MergeSyncedEvents(nil, nil, []correspondence.StatusEvent{
		statusAt(correspondence.StatusRead, base),
		statusAt(correspondence.StatusConfirmed, base.Add(100*time.Millisecond)),
	}, nil)

	require.Len(t, statuses, 2)
}

func TestMerge_DedupAgainstExistingLedger(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	existing := []correspondence.StatusEvent{
		statusAt(correspondence.StatusRead, base),
	}

	statuses, _ := MergeSyncedEvents(existing, nil, []correspondence.StatusEvent{
		statusAt(correspondence.StatusRead, base.Add(400*time.Millisecond)),
		statusAt(correspondence.StatusConfirmed, base.Add(time.Minute)),
	}, nil)

	require.Len(t, statuses, 1)
	require.Equal(t, correspondence.StatusConfirmed, statuses[0].Status)
}

func TestMerge_Idempotent(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	incoming := []correspondence.StatusEvent{
		statusAt(correspondence.StatusRead, base),
		statusAt(correspondence.StatusConfirmed, base.Add(time.Minute)),
	}

	first, _ := MergeSyncedEvents(nil, nil, incoming, nil)
	require.Len(t, first, 2)

	second, _ := MergeSyncedEvents(first, nil, incoming, nil)
	require.Empty(t, second, "re-merging an applied batch adds nothing")
}

func TestMerge_NonSyncableStatusesDropped(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	statuses, _ := MergeSyncedEvents(nil, nil, []correspondence.StatusEvent{
		statusAt(correspondence.StatusPublished, base),
		statusAt(correspondence.StatusInitialized, base.Add(time.Minute)),
		statusAt(correspondence.StatusRead, base.Add(2*time.Minute)),
	}, nil)

	require.Len(t, statuses, 1)
	require.Equal(t, correspondence.StatusRead, statuses[0].Status)
}

func TestMerge_OutputAscendingRegardlessOfArrivalOrder(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	statuses, deletes := MergeSyncedEvents(nil, nil,
		[]correspondence.StatusEvent{
			statusAt(correspondence.StatusArchived, base.Add(3*time.Hour)),
			statusAt(correspondence.StatusRead, base),
			statusAt(correspondence.StatusConfirmed, base.Add(time.Hour)),
		},
		[]correspondence.DeleteEvent{
			deleteAt(correspondence.DeleteHardByRecipient, base.Add(5*time.Hour)),
			deleteAt(correspondence.DeleteSoftByRecipient, base.Add(4*time.Hour)),
		})

	require.Len(t, statuses, 3)
	for i := 1; i < len(statuses); i++ {
		require.False(t, statuses[i].OccurredAt.Before(statuses[i-1].OccurredAt))
	}
	require.Len(t, deletes, 2)
	require.Equal(t, correspondence.DeleteSoftByRecipient, deletes[0].Type)
	require.Equal(t, correspondence.DeleteHardByRecipient, deletes[1].Type)
}

func TestMerge_DeleteEventsDedupByType(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	existing := []correspondence.DeleteEvent{
		deleteAt(correspondence.DeleteSoftByRecipient, base),
	}

	_, deletes := MergeSyncedEvents(nil, existing, nil, []correspondence.DeleteEvent{
		deleteAt(correspondence.DeleteSoftByRecipient, base.Add(200*time.Millisecond)),
		deleteAt(correspondence.DeleteRestored, base.Add(300*time.Millisecond)),
	})

	require.Len(t, deletes, 1)
	require.Equal(t, correspondence.DeleteRestored, deletes[0].Type)
}

func TestMerge_UnknownDeleteTypeDropped(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	_, deletes := MergeSyncedEvents(nil, nil, nil, []correspondence.DeleteEvent{
		deleteAt(correspondence.DeleteEventType("expired_by_system"), base),
	})

	require.Empty(t, deletes)
}
