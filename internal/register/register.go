package register

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"meldeboks/pkg/platform/sentinel"
)

// PartyType distinguishes organizations from persons.
type PartyType string

const (
	PartyOrganization PartyType = "organization"
	PartyPerson       PartyType = "person"
)

// Party is the resolved identity behind a party uuid.
type Party struct {
	UUID       uuid.UUID
	Type       PartyType
	Name       string
	Identifier string // URN-style, e.g. urn:altinn:organization:identifier-no:<orgnr>
}

// Service resolves party uuids to identity attributes. The authoritative
// register is external; the core only needs lookups for cascade actor naming
// and system-label updates.
type Service interface {
	LookupByUUID(ctx context.Context, partyUUID uuid.UUID) (*Party, error)
}

// Static is an in-memory Service, seeded at wiring time or in tests.
type Static struct {
	mu      sync.RWMutex
	parties map[uuid.UUID]Party
}

func NewStatic() *Static {
	return &Static{parties: make(map[uuid.UUID]Party)}
}

func (s *Static) Add(p Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parties[p.UUID] = p
}

func (s *Static) LookupByUUID(_ context.Context, partyUUID uuid.UUID) (*Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parties[partyUUID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}
