package correspondence

// Legal status progression. Fetched and Read are visibility markers rather
// than gates, so the recipient-facing statuses freely interleave until a
// terminal purge status is reached. Prerequisites that depend on ledger
// history (confirm-before-fetch, archive-before-confirm) are enforced by the
// service, not here.
var nextStatuses = map[Status][]Status{
	StatusInitialized:       {StatusReadyForPublish, StatusFailed},
	StatusReadyForPublish:   {StatusPublished, StatusFailed},
	StatusPublished:         recipientStatuses,
	StatusFetched:           recipientStatuses,
	StatusRead:              recipientStatuses,
	StatusConfirmed:         recipientStatuses,
	StatusArchived:          {StatusPurgedByRecipient, StatusPurgedByOwner},
	StatusPurgedByRecipient: nil,
	StatusPurgedByOwner:     nil,
	StatusFailed:            nil,
}

var recipientStatuses = []Status{
	StatusFetched,
	StatusRead,
	StatusConfirmed,
	StatusArchived,
	StatusPurgedByRecipient,
	StatusPurgedByOwner,
}

// CanTransition reports whether the progression allows moving from one status
// to another.
func CanTransition(from, to Status) bool {
	for _, s := range nextStatuses[from] {
		if s == to {
			return true
		}
	}
	return false
}
