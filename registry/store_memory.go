package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	types "github.com/agentvault/agentvault-go/types"
)

// MemoryCardStore keeps the catalog in process memory. Meant for tests and
// single-node development setups.
type MemoryCardStore struct {
	mu    sync.RWMutex
	cards map[string]*types.AgentCard // by UUID
	byHRI map[string]string           // lowercase HRI -> UUID
}

var _ CardStore = (*MemoryCardStore)(nil)

// NewMemoryCardStore creates an empty in-memory catalog.
func NewMemoryCardStore() *MemoryCardStore {
	return &MemoryCardStore{
		cards: make(map[string]*types.AgentCard),
		byHRI: make(map[string]string),
	}
}

// List returns matching summaries in stable HRI order.
func (s *MemoryCardStore) List(ctx context.Context, query ListQuery) (*CardList, error) {
	query = query.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.cards))
	for id := range s.cards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.cards[ids[i]].HumanReadableID < s.cards[ids[j]].HumanReadableID
	})

	matched := make([]CardSummary, 0, len(ids))
	for _, id := range ids {
		if query.matches(s.cards[id]) {
			matched = append(matched, summarize(id, s.cards[id]))
		}
	}

	total := len(matched)
	start := query.Offset
	if start > total {
		start = total
	}
	end := start + query.Limit
	if end > total {
		end = total
	}

	return &CardList{
		Items:  matched[start:end],
		Total:  total,
		Limit:  query.Limit,
		Offset: query.Offset,
	}, nil
}

// GetByUUID returns the card stored under id.
func (s *MemoryCardStore) GetByUUID(ctx context.Context, id string) (*types.AgentCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, ok := s.cards[id]
	if !ok {
		return nil, NewCardNotFoundError(id)
	}
	return card, nil
}

// GetByHRI returns the card for a human-readable id.
func (s *MemoryCardStore) GetByHRI(ctx context.Context, hri string) (*types.AgentCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHRI[types.NormalizeHRI(hri)]
	if !ok {
		return nil, NewCardNotFoundError(hri)
	}
	return s.cards[id], nil
}

// Put inserts or replaces a card. The HRI mapping stays unique: storing a
// card whose HRI belongs to a different UUID fails.
func (s *MemoryCardStore) Put(ctx context.Context, id string, card *types.AgentCard) error {
	if card == nil {
		return fmt.Errorf("card cannot be nil")
	}
	hri := types.NormalizeHRI(card.HumanReadableID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byHRI[hri]; ok && existing != id {
		return fmt.Errorf("human readable id %q is already registered", card.HumanReadableID)
	}

	if old, ok := s.cards[id]; ok {
		delete(s.byHRI, types.NormalizeHRI(old.HumanReadableID))
	}
	s.cards[id] = card
	s.byHRI[hri] = id
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryCardStore) Close() error { return nil }
