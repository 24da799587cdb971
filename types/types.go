// Package types defines the contract between the sync engine and the state it observes.
package types

// State is a read-only view of a character at one point in time.
// The engine never mutates it.
type State interface {
	// Identity names the character (sent as metadata, never diffed in request mode).
	Identity() string
	// Elapsed is the raw play time in milliseconds.
	Elapsed() int64
}
