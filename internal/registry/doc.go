// Package registry tracks started jobs until every expected responder has returned.
//
// # Contract
//
// The Registry stores one entry per job id, holding the start data and the set
// of responders that have not returned yet.
//
//	OnStart(start types.JobStart, responders []types.ResponderID, now time.Time) bool
//	  - Inserts a job. On a duplicate id the DuplicatePolicy decides:
//	    DuplicateIgnore keeps the first entry, DuplicateOverwrite replaces it.
//	  - A start with no responders is not tracked.
//
//	OnResponderComplete(jobID, responderID) (types.JobStart, bool)
//	  - Removes the responder from the expected set and returns the start data.
//	  - Returns start data on every call while the job is tracked, including the
//	    call that empties the set, which also removes the job.
//	  - Unknown job or unexpected responder: returns false, nothing changes.
//
//	EvictOlderThan(cutoff time.Time) []types.PendingJob
//	  - Removes jobs tracked before cutoff and returns snapshots of them.
//
// Thread safety: none. The correlator owns the registry and serialises access.
package registry
