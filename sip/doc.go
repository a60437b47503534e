// Package sip contains the value-type SIP message model used by the transaction layer.
//
// Requests and responses are plain structs. Every header the transaction layer
// inspects has a typed field; other headers are carried in [Headers.Extra].
// Cloning a message never shares memory with the original, so snapshots taken
// from a message outlive the buffer it was parsed from.
package sip
