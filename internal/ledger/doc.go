// Package ledger holds the savings state machine: user accounts, allocation
// buckets and the fee treasury. Every operation takes records by value and
// returns the new records or a typed *Error, never a partial update.
// Persisting the returned records atomically is up to the caller.
package ledger
