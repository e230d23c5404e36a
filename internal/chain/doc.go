// Package chain ties one redo log, its event pipeline and its secondary
// index into a chain of trust.
//
// A Chain linearizes commits: each transaction is version-checked against the
// index, linted, encrypted and signed, validated, appended as one record and
// only then indexed and announced to listeners. A failed check leaves nothing
// behind. Loads read the newest event of a key and decrypt it with the
// caller's session.
//
// Chains are opened through a Registry, which deduplicates concurrent opens
// of the same key and keeps each chain's durable configuration and archive
// manifest in Pebble.
package chain
