package checkpoint

// Store defines the interface for durable progress persistence
type Store interface {
	// Load returns the current snapshot, or a fresh empty snapshot when no
	// prior state exists. Callers treat the empty snapshot as "start fresh".
	Load() (*Snapshot, error)

	// Save durably replaces the current snapshot. The write is atomic with
	// respect to process termination: a crash never leaves a partial
	// snapshot observable.
	Save(snap *Snapshot) error

	// AppendHistory appends an audit entry. Corruption of a single entry
	// must not prevent reading the others.
	AppendHistory(entry HistoryEntry) error

	// History returns all decodable audit entries in append order.
	History() ([]HistoryEntry, error)

	// Cleanup
	Close() error
}
