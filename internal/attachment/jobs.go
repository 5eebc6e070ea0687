package attachment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"meldeboks/internal/jobs"
)

// JobPurgeStorage is the job type for destroying attachment bytes at the
// storage provider.
const JobPurgeStorage = "attachment.purge_storage"

// PurgeStoragePayload identifies the attachment and where its bytes live.
type PurgeStoragePayload struct {
	AttachmentID    uuid.UUID `json:"attachment_id"`
	StorageProvider string    `json:"storage_provider"`
}

// Handlers binds the storage purge job to a Storage implementation.
func Handlers(storage Storage) map[string]jobs.HandlerFunc {
	return map[string]jobs.HandlerFunc{
		JobPurgeStorage: func(ctx context.Context, raw json.RawMessage) error {
			var p PurgeStoragePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode purge storage payload: %w", err)
			}
			return storage.Purge(ctx, p.AttachmentID, p.StorageProvider)
		},
	}
}
