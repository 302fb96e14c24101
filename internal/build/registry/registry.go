// Package registry tracks which schema objects (ORMs) are known to exist in a
// database while it is being built.
package registry

import "fmt"

// Record identifies one schema object. Records are unique by (Namespace, Type).
type Record struct {
	Namespace string `json:"namespace"`
	Type      string `json:"type"`
}

// Key returns the composite identity of the record.
func (r Record) Key() string {
	return r.Namespace + "." + r.Type
}

func (r Record) String() string {
	return r.Key()
}

// Registry is an insertion-ordered set of records.
//
// A Registry is a value: Merge returns a new Registry and never modifies the
// receiver, so a registry handed to one build stage cannot be changed behind
// the back of another.
type Registry struct {
	records []Record
	index   map[Record]struct{}
}

// New returns a registry seeded with records, dropping duplicates.
func New(records ...Record) Registry {
	return Registry{}.Merge(records...)
}

// Merge returns a registry containing the receiver's records followed by
// every record not already present.
func (r Registry) Merge(records ...Record) Registry {
	out := Registry{
		records: make([]Record, len(r.records), len(r.records)+len(records)),
		index:   make(map[Record]struct{}, len(r.records)+len(records)),
	}
	copy(out.records, r.records)
	for _, rec := range r.records {
		out.index[rec] = struct{}{}
	}

	for _, rec := range records {
		if _, exists := out.index[rec]; exists {
			continue
		}
		out.index[rec] = struct{}{}
		out.records = append(out.records, rec)
	}
	return out
}

// Contains reports whether a record with the same namespace and type is present.
func (r Registry) Contains(rec Record) bool {
	_, ok := r.index[rec]
	return ok
}

// Len returns the number of distinct records.
func (r Registry) Len() int {
	return len(r.records)
}

// Records returns a copy of the records in insertion order.
func (r Registry) Records() []Record {
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

func (r Registry) String() string {
	return fmt.Sprintf("registry(%d records)", len(r.records))
}
