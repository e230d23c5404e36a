// Package pipeline is the chain's event pipeline. Every event passes through
// five capabilities on its way into and out of the log:
//
//   - Linter: before append, resolves the effective write and read options
//     and emits SignWith and Confidentiality metadata.
//   - Transformer: encrypts and signs on the way in (DataAsUnderlay),
//     verifies and decrypts on the way out (DataAsOverlay).
//   - Validator: rejects events whose signatures do not verify or, at ingest,
//     whose signer was not authorized for the event's tree position.
//   - Indexer: feeds committed events into the secondary index and rebuilds
//     it by replay.
//   - Compactor: votes on which events a compaction pass may drop.
//
// Plugin implements all five by forwarding to a signing and a
// confidentiality sub-plugin. Stages never panic on untrusted input; every
// failure is a typed error classified with the errs kinds.
package pipeline
