package types

import (
	"encoding/json"
	"maps"
	"time"
)

// JobStart is the start data of a tracked job, handed to the correlator on
// every completion so it can build a record for that responder.
type JobStart struct {
	JobID     JobID
	StartTime time.Time
	Function  string
	Payload   map[string]any

	// Remaining is the number of responders still expected after the
	// completion that produced this value. Zero means the job was removed.
	Remaining int
}

// PendingJob is a snapshot of a tracked job, including who has not returned yet.
type PendingJob struct {
	JobStart
	Expected  []ResponderID
	TrackedAt time.Time
}

// EnrichmentRecord is the latest known attribute set for a responder.
type EnrichmentRecord struct {
	ResponderID ResponderID
	Attributes  map[string]string
	UpdatedAt   time.Time
}

// ConsolidatedRecord is the single output produced per (job, responder) pair.
type ConsolidatedRecord struct {
	JobID       JobID
	ResponderID ResponderID
	Function    string
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration

	// Payload is the completion event's data.
	Payload map[string]any

	// Attributes is nil when enrichment is not in use and non-nil (possibly
	// empty) when the record went through the enrichment path.
	Attributes map[string]string

	// Enriched is false for records flushed after waiting too long for
	// enrichment data.
	Enriched bool

	// DeferredAt is set while the record waits for enrichment.
	DeferredAt time.Time
}

// NewConsolidatedRecord builds the record for one completion.
func NewConsolidatedRecord(start JobStart, responder ResponderID, end time.Time, payload map[string]any) ConsolidatedRecord {
	return ConsolidatedRecord{
		JobID:       start.JobID,
		ResponderID: responder,
		Function:    start.Function,
		StartTime:   start.StartTime,
		EndTime:     end,
		Duration:    end.Sub(start.StartTime),
		Payload:     payload,
	}
}

// WithAttributes returns a copy of r carrying its own copy of attrs.
func (r ConsolidatedRecord) WithAttributes(attrs map[string]string) ConsolidatedRecord {
	out := r
	out.Attributes = maps.Clone(attrs)
	if out.Attributes == nil {
		out.Attributes = map[string]string{}
	}
	out.Enriched = true
	out.DeferredAt = time.Time{}
	return out
}

type recordJSON struct {
	JobID       JobID              `json:"jid"`
	ResponderID ResponderID        `json:"minion_id"`
	Function    string             `json:"fun,omitempty"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Duration    float64            `json:"duration"`
	Data        map[string]any     `json:"data,omitempty"`
	Grains      *map[string]string `json:"grains,omitempty"`
}

// MarshalJSON renders duration in seconds and omits grains entirely when the
// record never went through enrichment.
func (r ConsolidatedRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		JobID:       r.JobID,
		ResponderID: r.ResponderID,
		Function:    r.Function,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Duration:    r.Duration.Seconds(),
		Data:        r.Payload,
	}
	if r.Attributes != nil {
		attrs := r.Attributes
		out.Grains = &attrs
	}
	return json.Marshal(out)
}
