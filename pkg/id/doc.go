// Package id provides PrimaryKey, the 64-bit identifier of an object within a
// chain.
//
// # Format
//
// A PrimaryKey renders as exactly 16 lowercase hex digits (big-endian), so the
// string form sorts the same way as the numeric value.
//
// # Derivation
//
// Keys are either random (Generate) or derived from a hash of a well-known
// string or number (FromString, FromUint64). Derived keys let a chain
// bootstrap root objects such as InstanceRoot without a lookup.
//
// Usage
//
//	k := id.Generate()
//	s := k.String()        // "1f3a..." (16 chars)
//	k2, _ := id.Parse(s)   // k2 == k
//	root := id.FromString("users")
package id
