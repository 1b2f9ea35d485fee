package enrichment

import (
	"slices"
	"time"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

// PendingSet holds records waiting for their responder's attributes.
type PendingSet struct {
	byResponder map[types.ResponderID][]types.ConsolidatedRecord
	count       int
}

// NewPendingSet creates an empty PendingSet.
func NewPendingSet() *PendingSet {
	return &PendingSet{byResponder: make(map[types.ResponderID][]types.ConsolidatedRecord)}
}

// Defer stores a record under its responder id. Earlier records for the same
// responder are kept.
func (p *PendingSet) Defer(rec types.ConsolidatedRecord, at time.Time) {
	rec.DeferredAt = at
	p.byResponder[rec.ResponderID] = append(p.byResponder[rec.ResponderID], rec)
	p.count++
}

// Release removes every record deferred for id and returns copies carrying
// attrs, oldest first. Returns nil if nothing was pending.
func (p *PendingSet) Release(id types.ResponderID, attrs map[string]string) []types.ConsolidatedRecord {
	waiting, ok := p.byResponder[id]
	if !ok {
		return nil
	}
	delete(p.byResponder, id)
	p.count -= len(waiting)

	released := make([]types.ConsolidatedRecord, len(waiting))
	for i, rec := range waiting {
		released[i] = rec.WithAttributes(attrs)
	}
	return released
}

// ExpireOlderThan removes records deferred before cutoff and returns them
// without attributes, ordered by deferral time.
func (p *PendingSet) ExpireOlderThan(cutoff time.Time) []types.ConsolidatedRecord {
	var expired []types.ConsolidatedRecord
	for id, waiting := range p.byResponder {
		kept := waiting[:0]
		for _, rec := range waiting {
			if rec.DeferredAt.Before(cutoff) {
				expired = append(expired, rec)
			} else {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(p.byResponder, id)
		} else {
			p.byResponder[id] = kept
		}
	}
	p.count -= len(expired)

	slices.SortStableFunc(expired, func(a, b types.ConsolidatedRecord) int {
		return a.DeferredAt.Compare(b.DeferredAt)
	})
	for i := range expired {
		expired[i].DeferredAt = time.Time{}
		expired[i].Attributes = map[string]string{}
	}
	return expired
}

// Pending returns the number of records waiting for id.
func (p *PendingSet) Pending(id types.ResponderID) int {
	return len(p.byResponder[id])
}

// Responders returns the responder ids with waiting records, sorted.
func (p *PendingSet) Responders() []types.ResponderID {
	ids := make([]types.ResponderID, 0, len(p.byResponder))
	for id := range p.byResponder {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the total number of waiting records.
func (p *PendingSet) Len() int {
	return p.count
}
