package correspondence

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"meldeboks/pkg/platform/sentinel"
)

// InMemoryStore keeps correspondences and their ledgers in process memory.
// It backs unit tests and mirrors the ordering guarantees of the postgres
// store, including the (created, id) keyset order of WindowAfter.
type InMemoryStore struct {
	mu              sync.RWMutex
	correspondences map[uuid.UUID]*Correspondence
	deleteEvents    map[uuid.UUID][]DeleteEvent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		correspondences: make(map[uuid.UUID]*Correspondence),
		deleteEvents:    make(map[uuid.UUID][]DeleteEvent),
	}
}

func (s *InMemoryStore) Create(_ context.Context, c *Correspondence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.correspondences[c.ID]; exists {
		return sentinel.ErrConflict
	}
	s.correspondences[c.ID] = clone(c)
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Correspondence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.correspondences[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemoryStore) GetByLegacyID(_ context.Context, legacyID int64) (*Correspondence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.correspondences {
		if c.LegacyID != nil && *c.LegacyID == legacyID {
			return clone(c), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) SetMigrationCompleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.correspondences[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	c.IsMigrating = false
	return nil
}

func (s *InMemoryStore) AddStatusEvent(ctx context.Context, event StatusEvent) error {
	return s.AddStatusEvents(ctx, []StatusEvent{event})
}

func (s *InMemoryStore) AddStatusEvents(_ context.Context, events []StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		c, ok := s.correspondences[e.CorrespondenceID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		c.Statuses = append(c.Statuses, e)
	}
	return nil
}

func (s *InMemoryStore) AddDeleteEvent(_ context.Context, event DeleteEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.correspondences[event.CorrespondenceID]; !ok {
		return sentinel.ErrNotFound
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	s.deleteEvents[event.CorrespondenceID] = append(s.deleteEvents[event.CorrespondenceID], event)
	return nil
}

func (s *InMemoryStore) DeleteEvents(_ context.Context, correspondenceID uuid.UUID) ([]DeleteEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DeleteEvent{}, s.deleteEvents[correspondenceID]...), nil
}

func (s *InMemoryStore) WindowAfter(_ context.Context, limit int, afterCreated *time.Time, afterID *uuid.UUID) ([]WindowRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]WindowRow, 0, len(s.correspondences))
	for _, c := range s.correspondences {
		rows = append(rows, WindowRow{ID: c.ID, Created: c.Created})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Created.Equal(rows[j].Created) {
			return rows[i].Created.Before(rows[j].Created)
		}
		return bytes.Compare(rows[i].ID[:], rows[j].ID[:]) < 0
	})

	out := make([]WindowRow, 0, limit)
	for _, row := range rows {
		if afterCreated != nil && !afterKey(row, *afterCreated, *afterID) {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// afterKey reports whether row sorts strictly after the (created, id) cursor.
func afterKey(row WindowRow, created time.Time, id uuid.UUID) bool {
	if row.Created.After(created) {
		return true
	}
	if row.Created.Equal(created) {
		return bytes.Compare(row.ID[:], id[:]) > 0
	}
	return false
}

func (s *InMemoryStore) FilterByReferenceAndStatus(_ context.Context, ids []uuid.UUID, refType ReferenceType, statuses []Status) ([]*Correspondence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var out []*Correspondence
	for _, id := range ids {
		c, ok := s.correspondences[id]
		if !ok {
			continue
		}
		if _, hasRef := refOfType(c, refType); !hasRef {
			continue
		}
		current, ok := c.CurrentStatus()
		if !ok || !wanted[current.Status] {
			continue
		}
		out = append(out, clone(c))
	}
	return out, nil
}

func refOfType(c *Correspondence, refType ReferenceType) (string, bool) {
	for _, ref := range c.ExternalReferences {
		if ref.Type == refType {
			return ref.Value, true
		}
	}
	return "", false
}

func clone(c *Correspondence) *Correspondence {
	cp := *c
	cp.Statuses = append([]StatusEvent{}, c.Statuses...)
	cp.ExternalReferences = append([]ExternalReference{}, c.ExternalReferences...)
	cp.AttachmentIDs = append([]uuid.UUID{}, c.AttachmentIDs...)
	return &cp
}
