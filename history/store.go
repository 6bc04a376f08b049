// Package history implements an append-only audit ledger of every child the
// supervisor has reaped: when it exited, with what status, and whether it
// was spawned or merely managed. It is intentionally not a restart-resume
// mechanism — nothing here ever re-spawns a child from a stored record;
// supervision state lives only in the supervisor package's in-memory Child
// Table, and this package only ever observes exits after the fact.
package history

import "io"

// Store defines a persistent key/value store. The ledger above it supplies
// structure (ordering, JSON encoding); Store only ever sees opaque keys and
// values.
type Store interface {
	io.Closer

	// Get retrieves the value for a key. Returns an error if the key does not exist.
	Get(key string) (string, error)

	// Set stores a key/value pair, creating or overwriting as needed.
	Set(key, value string) error

	// Delete removes a key. Idempotent — no error if the key does not exist.
	Delete(key string) error

	// List returns keys matching the given prefix. An empty prefix returns all keys.
	// Returns at most limit keys (0 means no limit); in lexical order, which
	// Ledger relies on to keep entries in chronological order.
	List(prefix string, limit int) ([]string, error)
}
