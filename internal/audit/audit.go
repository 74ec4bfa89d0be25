// Package audit implements a hash-chained audit log for tool review
// workflow events.
//
// Every state change a review session goes through (submission, analysis,
// automated verdicts, human decisions, signing attempts) is mirrored into
// the global ledger as an Entry chained to its predecessor by SHA-256.
// The chain is anchored by a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros), so any tampering is detectable via Verify.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and DB-less deployments.
//   - PostgresLedger: durable, for production use.
package audit
