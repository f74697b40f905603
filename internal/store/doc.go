// Package store persists recordings, their append-only stage run history,
// publication targets and tenant usage counters in SQLite.
//
// Every write that changes a recording's stage history or target set rewrites
// the recording's cached aggregate status inside the same transaction, so the
// stored status always equals recording.Derive over the current generation's
// runs. Quota admission for a dispatch is checked and incremented inside the
// dispatch transaction; a rejected admission leaves no trace.
//
// Schema changes are goose migrations under migrations/ and are applied on Open.
package store
