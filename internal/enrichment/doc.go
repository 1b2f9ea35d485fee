// Package enrichment holds responder metadata (grains) and the records that
// completed before any metadata for their responder was known.
//
// Store keeps the latest attribute set per responder, replaced wholesale on
// every update. PendingSet is a multi-valued FIFO index keyed by responder id;
// Release hands back fresh copies of every deferred record with the new
// attributes attached, in the order they were deferred.
//
// Neither type is safe for concurrent use. The correlator serialises access.
package enrichment
