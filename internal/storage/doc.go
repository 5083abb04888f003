// Package storage persists the delivery engine's durable state: the
// notification dedup table, subscription rows, and job-run history.
//
// The UNIQUE(provider, event_id) constraint on notifications is the only true
// mutual-exclusion mechanism in the system; everything else assumes at most
// one active handler invocation per job name.
package storage
