package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"meldeboks/internal/jobs"
)

// JobPublish is the job type for deferred event publication.
const JobPublish = "eventbus.publish"

// Handlers binds the publish job to a Bus.
func Handlers(bus Bus) map[string]jobs.HandlerFunc {
	return map[string]jobs.HandlerFunc{
		JobPublish: func(ctx context.Context, raw json.RawMessage) error {
			var event Event
			if err := json.Unmarshal(raw, &event); err != nil {
				return fmt.Errorf("decode publish payload: %w", err)
			}
			return bus.Publish(ctx, event)
		},
	}
}
