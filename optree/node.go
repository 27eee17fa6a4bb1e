// Package optree implements the tagged-variant operator tree (§3, C1) and
// its per-kind differentiation logic (§4). Every node kind is a struct
// implementing Node; Diff is the single behavior each variant supplies,
// the Go realization of the teacher's Node/Accept(Visitor) split collapsed
// to one method since there is exactly one behavior here (differentiation)
// rather than a family of dialect visitors.
package optree

import "github.com/flowdelta/pgdiff/diff"

// Node is any operator tree node.
type Node interface {
	// OutputColumns lists the columns this subtree exposes, in order.
	OutputColumns() []string
	// SourceOIDs lists the source table OIDs this subtree depends on.
	SourceOIDs() []uint32
	// Alias is the table-alias qualifier used to disambiguate this
	// subtree's columns in a parent's generated SQL.
	Alias() string
	// Kind names the node's variant, used in error messages.
	Kind() string
	// Diff recursively differentiates this subtree, registering CTEs in
	// ctx, and returns the Result describing the root of that subtree's
	// delta.
	Diff(ctx *diff.Context) (*diff.Result, error)
}

// Column describes one column of a Scan's source table.
type Column struct {
	Name     string
	Nullable bool
}

// dedupSourceOIDs merges and dedupes the source OIDs of a node's children,
// preserving first-seen order.
func dedupSourceOIDs(lists ...[]uint32) []uint32 {
	seen := make(map[uint32]bool)
	var out []uint32
	for _, list := range lists {
		for _, oid := range list {
			if !seen[oid] {
				seen[oid] = true
				out = append(out, oid)
			}
		}
	}
	return out
}
