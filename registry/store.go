// Package registry implements the agent card catalog read path: filtered
// listing and card retrieval by UUID or human-readable id, over pluggable
// stores.
package registry

import (
	"context"
	"fmt"
	"strings"

	types "github.com/agentvault/agentvault-go/types"
)

// Listing pagination bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// CardNotFoundError reports a catalog lookup miss.
type CardNotFoundError struct {
	Ref string
}

func (e *CardNotFoundError) Error() string {
	return fmt.Sprintf("agent card %q not found", e.Ref)
}

// NewCardNotFoundError creates a CardNotFoundError.
func NewCardNotFoundError(ref string) *CardNotFoundError {
	return &CardNotFoundError{Ref: ref}
}

// CardSummary is the listing projection of a stored card.
type CardSummary struct {
	ID              string   `json:"id"`
	HumanReadableID string   `json:"human_readable_id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	HasTEE          bool     `json:"has_tee"`
}

// CardList is the paginated listing envelope.
type CardList struct {
	Items  []CardSummary `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListQuery carries catalog filters. Zero values mean "no filter".
type ListQuery struct {
	// Search is a case-insensitive substring matched against name and
	// description.
	Search string

	// Tags must all be present on a card for it to match.
	Tags []string

	// HasTEE filters on TEE advertisement when non-nil.
	HasTEE *bool

	// TEEType filters on the advertised TEE type (implies TEE presence).
	TEEType string

	Limit  int
	Offset int
}

// Normalize clamps pagination to the allowed range.
func (q ListQuery) Normalize() ListQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// matches applies the non-pagination filters to one card.
func (q ListQuery) matches(card *types.AgentCard) bool {
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(card.Name), needle) &&
			!strings.Contains(strings.ToLower(card.Description), needle) {
			return false
		}
	}

	if len(q.Tags) > 0 {
		have := make(map[string]struct{}, len(card.Tags))
		for _, tag := range card.Tags {
			have[tag] = struct{}{}
		}
		for _, tag := range q.Tags {
			if _, ok := have[tag]; !ok {
				return false
			}
		}
	}

	if q.HasTEE != nil && card.HasTEE() != *q.HasTEE {
		return false
	}
	if q.TEEType != "" {
		if !card.HasTEE() || !strings.EqualFold(card.Capabilities.TeeDetails.Type, q.TEEType) {
			return false
		}
	}

	return true
}

// CardStore is the catalog persistence contract. The read path is the only
// part the core depends on; Put exists for seeding.
type CardStore interface {
	// List returns matching card summaries plus the total match count
	// before pagination.
	List(ctx context.Context, query ListQuery) (*CardList, error)

	// GetByUUID returns the full card stored under the catalog UUID.
	GetByUUID(ctx context.Context, id string) (*types.AgentCard, error)

	// GetByHRI returns the full card for a human-readable id. Lookup is
	// case-insensitive.
	GetByHRI(ctx context.Context, hri string) (*types.AgentCard, error)

	// Put inserts or replaces a card under the given UUID.
	Put(ctx context.Context, id string, card *types.AgentCard) error

	// Close releases store resources.
	Close() error
}

// summarize projects a card for listing.
func summarize(id string, card *types.AgentCard) CardSummary {
	return CardSummary{
		ID:              id,
		HumanReadableID: card.HumanReadableID,
		Name:            card.Name,
		Description:     card.Description,
		Tags:            card.Tags,
		HasTEE:          card.HasTEE(),
	}
}
