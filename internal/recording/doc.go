// Package recording models the two-level lifecycle of a recording: the
// aggregate status machine and the independent per-destination target
// machines.
//
// Aggregate status is never set directly. Derive recomputes it from the
// current generation's stage runs, and the store rewrites its cached copy in
// the same transaction as every stage run or target write. Observe layers the
// computed partial/complete view on top using target statuses.
package recording
