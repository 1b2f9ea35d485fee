package registry

import (
	"fmt"
	"slices"
	"time"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

// DuplicatePolicy decides what happens when a start arrives for a job id that
// is already tracked.
type DuplicatePolicy string

const (
	DuplicateIgnore    DuplicatePolicy = "ignore"
	DuplicateOverwrite DuplicatePolicy = "overwrite"
)

// ParseDuplicatePolicy validates a policy name. An empty name is returned as is
// so callers can apply their own default.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(s); p {
	case "", DuplicateIgnore, DuplicateOverwrite:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate start policy %q (want %q or %q)", s, DuplicateIgnore, DuplicateOverwrite)
	}
}

type entry struct {
	start     types.JobStart
	expected  map[types.ResponderID]struct{}
	trackedAt time.Time
}

// Registry holds in-flight jobs keyed by job id.
type Registry struct {
	policy DuplicatePolicy
	jobs   map[types.JobID]*entry
}

// New creates an empty Registry. An empty policy means DuplicateIgnore.
func New(policy DuplicatePolicy) *Registry {
	if policy == "" {
		policy = DuplicateIgnore
	}
	return &Registry{
		policy: policy,
		jobs:   make(map[types.JobID]*entry),
	}
}

// Policy returns the duplicate start policy in effect.
func (r *Registry) Policy() DuplicatePolicy {
	return r.policy
}

// OnStart tracks a job. Returns true if the registry changed.
func (r *Registry) OnStart(start types.JobStart, responders []types.ResponderID, now time.Time) bool {
	if len(responders) == 0 {
		return false
	}
	if _, exists := r.jobs[start.JobID]; exists && r.policy == DuplicateIgnore {
		return false
	}

	expected := make(map[types.ResponderID]struct{}, len(responders))
	for _, id := range responders {
		expected[id] = struct{}{}
	}
	start.Remaining = len(expected)
	r.jobs[start.JobID] = &entry{
		start:     start,
		expected:  expected,
		trackedAt: now,
	}
	return true
}

// OnResponderComplete records a responder's return. See the package contract.
func (r *Registry) OnResponderComplete(jobID types.JobID, responderID types.ResponderID) (types.JobStart, bool) {
	e, ok := r.jobs[jobID]
	if !ok {
		return types.JobStart{}, false
	}
	if _, expected := e.expected[responderID]; !expected {
		return types.JobStart{}, false
	}

	delete(e.expected, responderID)
	if len(e.expected) == 0 {
		delete(r.jobs, jobID)
	}

	start := e.start
	start.Remaining = len(e.expected)
	return start, true
}

// Get returns a snapshot of a tracked job.
func (r *Registry) Get(jobID types.JobID) (types.PendingJob, bool) {
	e, ok := r.jobs[jobID]
	if !ok {
		return types.PendingJob{}, false
	}
	return e.snapshot(), true
}

// EvictOlderThan removes every job tracked before cutoff.
func (r *Registry) EvictOlderThan(cutoff time.Time) []types.PendingJob {
	var evicted []types.PendingJob
	for id, e := range r.jobs {
		if e.trackedAt.Before(cutoff) {
			evicted = append(evicted, e.snapshot())
			delete(r.jobs, id)
		}
	}
	slices.SortFunc(evicted, func(a, b types.PendingJob) int {
		return a.TrackedAt.Compare(b.TrackedAt)
	})
	return evicted
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	return len(r.jobs)
}

// Outstanding returns the total number of responders still expected across
// all tracked jobs.
func (r *Registry) Outstanding() int {
	n := 0
	for _, e := range r.jobs {
		n += len(e.expected)
	}
	return n
}

func (e *entry) snapshot() types.PendingJob {
	expected := make([]types.ResponderID, 0, len(e.expected))
	for id := range e.expected {
		expected = append(expected, id)
	}
	slices.Sort(expected)

	start := e.start
	start.Remaining = len(expected)
	return types.PendingJob{
		JobStart:  start,
		Expected:  expected,
		TrackedAt: e.trackedAt,
	}
}
