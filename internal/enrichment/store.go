package enrichment

import (
	"maps"
	"time"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

// Store keeps the most recent attributes per responder. It never evicts.
type Store struct {
	byResponder map[types.ResponderID]types.EnrichmentRecord
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byResponder: make(map[types.ResponderID]types.EnrichmentRecord)}
}

// Update replaces the attributes recorded for a responder.
func (s *Store) Update(id types.ResponderID, attrs map[string]string, at time.Time) {
	stored := maps.Clone(attrs)
	if stored == nil {
		stored = map[string]string{}
	}
	s.byResponder[id] = types.EnrichmentRecord{
		ResponderID: id,
		Attributes:  stored,
		UpdatedAt:   at,
	}
}

// Lookup returns a copy of the responder's attributes. A responder whose last
// update carried no attributes is still reported as present.
func (s *Store) Lookup(id types.ResponderID) (map[string]string, bool) {
	rec, ok := s.byResponder[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(rec.Attributes), true
}

// Get returns the full record for a responder.
func (s *Store) Get(id types.ResponderID) (types.EnrichmentRecord, bool) {
	rec, ok := s.byResponder[id]
	if ok {
		rec.Attributes = maps.Clone(rec.Attributes)
	}
	return rec, ok
}

// Len returns the number of responders with recorded attributes.
func (s *Store) Len() int {
	return len(s.byResponder)
}
