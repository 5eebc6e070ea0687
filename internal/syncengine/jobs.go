package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meldeboks/internal/correspondence"
	"meldeboks/internal/jobs"
	domainerrors "meldeboks/pkg/domain-errors"
)

// JobSync is the job type carrying one legacy batch for one correspondence.
// The migration bridge enqueues these; the handler funnels them into Sync.
const JobSync = "syncengine.sync"

type SyncPayload struct {
	CorrespondenceID uuid.UUID         `json:"correspondence_id"`
	StatusEvents     []SyncStatusEvent `json:"status_events,omitempty"`
	DeleteEvents     []SyncDeleteEvent `json:"delete_events,omitempty"`
}

type SyncStatusEvent struct {
	Status     correspondence.Status `json:"status"`
	OccurredAt time.Time             `json:"occurred_at"`
	PartyUUID  uuid.UUID             `json:"party_uuid,omitempty"`
}

type SyncDeleteEvent struct {
	Type       correspondence.DeleteEventType `json:"type"`
	OccurredAt time.Time                      `json:"occurred_at"`
	PartyUUID  uuid.UUID                      `json:"party_uuid,omitempty"`
}

// Handlers binds the sync job type to a Syncer. An unknown correspondence is
// permanent, not transient: retrying cannot make it appear, so the job is
// logged and dropped instead of parked.
func Handlers(s *Syncer) map[string]jobs.HandlerFunc {
	return map[string]jobs.HandlerFunc{
		JobSync: func(ctx context.Context, raw json.RawMessage) error {
			var p SyncPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode sync payload: %w", err)
			}
			req := Request{CorrespondenceID: p.CorrespondenceID}
			for _, e := range p.StatusEvents {
				req.StatusEvents = append(req.StatusEvents, correspondence.StatusEvent{
					Status:     e.Status,
					OccurredAt: e.OccurredAt,
					PartyUUID:  e.PartyUUID,
				})
			}
			for _, e := range p.DeleteEvents {
				req.DeleteEvents = append(req.DeleteEvents, correspondence.DeleteEvent{
					Type:       e.Type,
					OccurredAt: e.OccurredAt,
					PartyUUID:  e.PartyUUID,
				})
			}
			err := s.Sync(ctx, req)
			if domainerrors.HasCode(err, domainerrors.CodeNotFound) {
				s.log.Error("sync batch for unknown correspondence dropped",
					"correspondence_id", p.CorrespondenceID)
				return nil
			}
			return err
		},
	}
}
