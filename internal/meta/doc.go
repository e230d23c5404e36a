// Package meta defines the metadata envelope every event carries: which key
// it belongs to, where it sits in the object tree, who may write and read it,
// how its payload is encrypted, and who signed it.
//
// Metadata is a list of tagged CoreMetadata entries rather than a fixed
// struct, so pipeline stages can append what they derive (SignWith,
// Confidentiality, IV, Signature) without knowing about each other. The
// serialization format for metadata is chosen independently of the payload's
// so that metadata stays introspectable when the payload is ciphertext.
package meta
