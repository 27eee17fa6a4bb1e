package main

import (
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/optree"
)

// describeTree renders a one-line-per-node indented summary of root, in the
// same spirit as the teacher REPL's `ast` command.
func describeTree(root optree.Node) string {
	var b strings.Builder
	describeNode(&b, root, 0)
	return b.String()
}

func describeNode(b *strings.Builder, n optree.Node, depth int) {
	fmt.Fprintf(b, "%s%s(alias=%s, cols=%v)\n", strings.Repeat("  ", depth), n.Kind(), n.Alias(), n.OutputColumns())
	for _, child := range children(n) {
		describeNode(b, child, depth+1)
	}
}

// children returns a node's immediate operator-tree children, in left-to-
// right order. Leaf kinds return nil.
func children(n optree.Node) []optree.Node {
	switch v := n.(type) {
	case *optree.Scan:
		return nil
	case *optree.Filter:
		return []optree.Node{v.Child}
	case *optree.Project:
		return []optree.Node{v.Child}
	case *optree.Subquery:
		return []optree.Node{v.Child}
	case *optree.Aggregate:
		return []optree.Node{v.Child}
	case *optree.Distinct:
		return []optree.Node{v.Child}
	case *optree.InnerJoin:
		return []optree.Node{v.Left, v.Right}
	case *optree.LeftJoin:
		return []optree.Node{v.Left, v.Right}
	case *optree.SemiJoin:
		return []optree.Node{v.Left, v.Right}
	case *optree.Intersect:
		return []optree.Node{v.Left, v.Right}
	case *optree.Except:
		return []optree.Node{v.Left, v.Right}
	case *optree.UnionAll:
		return []optree.Node{v.Left, v.Right}
	case *optree.ScalarSubquery:
		return []optree.Node{v.Outer}
	default:
		return nil
	}
}
