package attachment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"meldeboks/pkg/platform/sentinel"
)

// PurgeChecker reports whether a correspondence is purged. The in-memory
// store delegates to it because correspondence state lives in another store.
type PurgeChecker func(ctx context.Context, correspondenceID uuid.UUID) (bool, error)

// InMemoryStore keeps attachments and their correspondence links in memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	attachments map[uuid.UUID]*Attachment
	links       map[uuid.UUID][]uuid.UUID // attachment id -> referencing correspondence ids
	isPurged    PurgeChecker
}

func NewInMemoryStore(isPurged PurgeChecker) *InMemoryStore {
	return &InMemoryStore{
		attachments: make(map[uuid.UUID]*Attachment),
		links:       make(map[uuid.UUID][]uuid.UUID),
		isPurged:    isPurged,
	}
}

func (s *InMemoryStore) Create(_ context.Context, a *Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attachments[a.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *a
	cp.Statuses = append([]StatusEvent{}, a.Statuses...)
	s.attachments[a.ID] = &cp
	return nil
}

// Link records that a correspondence references an attachment.
func (s *InMemoryStore) Link(attachmentID, correspondenceID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[attachmentID] = append(s.links[attachmentID], correspondenceID)
}

func (s *InMemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attachments[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	cp.Statuses = append([]StatusEvent{}, a.Statuses...)
	return &cp, nil
}

func (s *InMemoryStore) GetByCorrespondence(_ context.Context, correspondenceID uuid.UUID) ([]*Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Attachment
	for attachmentID, correspondenceIDs := range s.links {
		for _, id := range correspondenceIDs {
			if id != correspondenceID {
				continue
			}
			if a, ok := s.attachments[attachmentID]; ok {
				cp := *a
				cp.Statuses = append([]StatusEvent{}, a.Statuses...)
				out = append(out, &cp)
			}
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddStatusEvent(_ context.Context, event StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attachments[event.AttachmentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	a.Statuses = append(a.Statuses, event)
	return nil
}

func (s *InMemoryStore) CanBeDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	correspondenceIDs := append([]uuid.UUID{}, s.links[id]...)
	s.mu.RUnlock()

	for _, correspondenceID := range correspondenceIDs {
		purged, err := s.isPurged(ctx, correspondenceID)
		if err != nil {
			return false, err
		}
		if !purged {
			return false, nil
		}
	}
	return true, nil
}

func (s *InMemoryStore) HardDeleteOrphaned(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id := range s.attachments {
		if len(s.links[id]) == 0 {
			delete(s.attachments, id)
			removed++
		}
	}
	return removed, nil
}
