// Package classifier turns raw Salt event bus events into typed correlator events.
//
// # Tags
//
//	<job_prefix>/<jid>/new            -> types.JobStarted   (data.minions, data.fun)
//	<job_prefix>/<jid>/ret/<minion>   -> types.JobCompleted
//	<grains_prefix>/<minion>          -> types.EnrichmentUpdated
//
// Everything else is types.Unrelated, as is a matching tag whose data is
// unusable (no minions on a start, no timestamp). Classification is pure: the
// same raw event always yields the same result.
//
// # Timestamps
//
// RawEvent.Stamp wins when set. Otherwise data._stamp is parsed as RFC3339 or
// as Salt's naive UTC layout (2006-01-02T15:04:05.999999).
package classifier
