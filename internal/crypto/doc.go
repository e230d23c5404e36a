// Package crypto holds the key and hash primitives events are built from:
// content hashes, ed25519 write keys, symmetric read keys and X25519 private
// read keys that can derive a read key sealed to them.
//
// Everything here is pure: no I/O, no global state besides the selected hash
// routine.
package crypto
