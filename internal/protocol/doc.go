// Package protocol owns the freeze-tag message contracts.
//
// Ownership boundary:
// - topic names and actor roles
// - payload types and their validation
// - tlv payload encode/decode per topic
//
// The bus transports in internal/bus move opaque payload bytes; only this
// package knows their layout.
package protocol
