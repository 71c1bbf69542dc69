package store

// Record is one structured voter row produced by the transform stage.
// ID is generated at persist time and is never derived from content.
// EpicNo is the natural identifier: it may be absent or may collide with
// another record's, and neither case blocks persistence — every record is
// stored as a distinct row.
type Record struct {
	ID           string
	EpicNo       string
	NameOG       string
	NameEN       string
	RelationType string
	RelationOG   string
	RelationEN   string
	Age          int
	Gender       string
	AddressOG    string
	AddressEN    string
	State        string
	Assembly     string
	SourceFile   string
}

// Stats summarizes the persisted record set.
type Stats struct {
	TotalRecords int64
	States       int64
	Assemblies   int64
}

// RecordStore persists transformed records. Inserts are append-only: no
// update or merge semantics.
type RecordStore interface {
	BatchInsert(records []Record) (int, error)
	Stats() (Stats, error)
	Close() error
}
