package syncengine

import (
	"sort"
	"time"

	"meldeboks/internal/correspondence"
)

// DedupTolerance is the time-tolerance window for event equality during
// merge. Two events of the same kind whose timestamps differ by strictly
// less than this are the same event, re-observed: the legacy source samples
// its wall clock per write, so retries arrive with sub-second jitter. Events
// a full second or more apart are distinct.
const DedupTolerance = time.Second

// syncableStatuses is the set of status values accepted from legacy sync.
// Everything else is either internally managed (publish pipeline) or not
// supported for backfill, and is silently dropped.
var syncableStatuses = map[correspondence.Status]bool{
	correspondence.StatusRead:      true,
	correspondence.StatusConfirmed: true,
	correspondence.StatusArchived:  true,
}

var knownDeleteTypes = map[correspondence.DeleteEventType]bool{
	correspondence.DeleteSoftByRecipient: true,
	correspondence.DeleteHardByRecipient: true,
	correspondence.DeleteHardByOwner:     true,
	correspondence.DeleteRestored:        true,
}

// MergeSyncedEvents computes the net-new events an incoming legacy batch adds
// to a correspondence's ledgers. Incoming events are first deduplicated
// against each other, then against the existing ledgers, both with the
// tolerance comparator keyed on the status value or delete type. Only the
// earliest event of a duplicate cluster survives. Output slices are sorted
// ascending by timestamp so appending them in order keeps ledger order and
// logical order aligned.
func MergeSyncedEvents(
	existingStatuses []correspondence.StatusEvent,
	existingDeletes []correspondence.DeleteEvent,
	incomingStatuses []correspondence.StatusEvent,
	incomingDeletes []correspondence.DeleteEvent,
) ([]correspondence.StatusEvent, []correspondence.DeleteEvent) {
	statuses := make([]correspondence.StatusEvent, 0, len(incomingStatuses))
	for _, e := range incomingStatuses {
		if syncableStatuses[e.Status] {
			statuses = append(statuses, e)
		}
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		return statuses[i].OccurredAt.Before(statuses[j].OccurredAt)
	})

	var netStatuses []correspondence.StatusEvent
	for _, e := range statuses {
		if hasStatusWithin(existingStatuses, e.Status, e.OccurredAt) ||
			hasStatusWithin(netStatuses, e.Status, e.OccurredAt) {
			continue
		}
		netStatuses = append(netStatuses, e)
	}

	deletes := make([]correspondence.DeleteEvent, 0, len(incomingDeletes))
	for _, e := range incomingDeletes {
		if knownDeleteTypes[e.Type] {
			deletes = append(deletes, e)
		}
	}
	sort.SliceStable(deletes, func(i, j int) bool {
		return deletes[i].OccurredAt.Before(deletes[j].OccurredAt)
	})

	var netDeletes []correspondence.DeleteEvent
	for _, e := range deletes {
		if hasDeleteWithin(existingDeletes, e.Type, e.OccurredAt) ||
			hasDeleteWithin(netDeletes, e.Type, e.OccurredAt) {
			continue
		}
		netDeletes = append(netDeletes, e)
	}

	return netStatuses, netDeletes
}

func hasStatusWithin(ledger []correspondence.StatusEvent, status correspondence.Status, at time.Time) bool {
	for _, e := range ledger {
		if e.Status == status && withinTolerance(e.OccurredAt, at) {
			return true
		}
	}
	return false
}

func hasDeleteWithin(ledger []correspondence.DeleteEvent, eventType correspondence.DeleteEventType, at time.Time) bool {
	for _, e := range ledger {
		if e.Type == eventType && withinTolerance(e.OccurredAt, at) {
			return true
		}
	}
	return false
}

func withinTolerance(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < DedupTolerance
}
