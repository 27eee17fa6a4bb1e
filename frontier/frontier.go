// Package frontier models the per-source LSN/timestamp bounds that define
// one refresh window.
package frontier

// Point is a source table's position at one end of a refresh window: an
// opaque LSN string (compared by the database's pg_lsn ordering, never by
// this package) and the wall-clock time the snapshot was taken.
type Point struct {
	LSN       string
	Timestamp string
}

// Frontier maps a source table's OID to its Point. A Frontier need not be
// total: a source absent from the map is treated as unchanged between the
// prev and new frontiers of a refresh.
type Frontier map[uint32]Point

// Get returns the Point for oid and whether it was present.
func (f Frontier) Get(oid uint32) (Point, bool) {
	p, ok := f[oid]
	return p, ok
}

// Changed reports whether oid has a recorded position in both frontiers and
// those positions differ. A source missing from either frontier is treated
// as unchanged, matching the "missing sources are unchanged" contract.
func Changed(prev, next Frontier, oid uint32) bool {
	p, okP := prev[oid]
	n, okN := next[oid]
	if !okP || !okN {
		return false
	}
	return p.LSN != n.LSN
}
