package types

import (
	"time"
)

// JobID identifies one distributed job run. Shared by the start signal and
// every completion signal of that run.
type JobID string

// ResponderID identifies the entity (a minion) completing its share of a job.
type ResponderID string

// RawEvent is an event as delivered by a transport, before classification.
type RawEvent struct {
	// Tag is the hierarchical event topic, e.g. "salt/job/<jid>/ret/<minion>".
	Tag string `json:"tag"`

	// Data is the decoded event payload.
	Data map[string]any `json:"data"`

	// Stamp is the event time if the transport provides one. When zero the
	// classifier falls back to Data["_stamp"].
	Stamp time.Time `json:"stamp,omitempty"`
}

// EventKind names the variant held by an Event.
type EventKind string

const (
	EventKindJobStarted        EventKind = "JobStarted"
	EventKindJobCompleted      EventKind = "JobCompleted"
	EventKindEnrichmentUpdated EventKind = "EnrichmentUpdated"
	EventKindUnrelated         EventKind = "Unrelated"
)

// Event is a classified event. The concrete type is one of JobStarted,
// JobCompleted, EnrichmentUpdated or Unrelated; no other package can add
// variants.
type Event interface {
	Kind() EventKind
	sealed()
}

// JobStarted announces a job fanned out to a set of responders.
type JobStarted struct {
	JobID      JobID
	Responders []ResponderID
	Function   string
	Timestamp  time.Time
	Payload    map[string]any
}

// JobCompleted is one responder's return for a job.
type JobCompleted struct {
	JobID       JobID
	ResponderID ResponderID
	Timestamp   time.Time
	Payload     map[string]any
}

// EnrichmentUpdated carries the full, current attribute set of a responder.
type EnrichmentUpdated struct {
	ResponderID ResponderID
	Attributes  map[string]string
	Timestamp   time.Time
}

// Unrelated is anything the correlator does not act on. Reason is only used
// for diagnostics.
type Unrelated struct {
	Tag    string
	Reason string
}

func (JobStarted) Kind() EventKind        { return EventKindJobStarted }
func (JobCompleted) Kind() EventKind      { return EventKindJobCompleted }
func (EnrichmentUpdated) Kind() EventKind { return EventKindEnrichmentUpdated }
func (Unrelated) Kind() EventKind         { return EventKindUnrelated }

func (JobStarted) sealed()        {}
func (JobCompleted) sealed()      {}
func (EnrichmentUpdated) sealed() {}
func (Unrelated) sealed()         {}
