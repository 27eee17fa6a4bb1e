package optree

import "github.com/flowdelta/pgdiff/expr"

// resolveExpr rewrites every ColumnRef in e against a single child CTE's
// column list, per the resolution rule in §4.2. Since a Filter/Project
// always has exactly one FROM source (the child CTE), a resolved reference
// is always safe to render unqualified.
func resolveExpr(e expr.Expr, columns []string) (expr.Expr, error) {
	resolver := &expr.Resolver{Columns: columns}
	return resolveWith(e, resolver)
}

func resolveWith(e expr.Expr, resolver *expr.Resolver) (expr.Expr, error) {
	switch n := e.(type) {
	case *expr.ColumnRef:
		resolved, err := resolver.Resolve(n.Qualifier, n.Column)
		if err != nil {
			return nil, err
		}
		return &expr.ColumnRef{Column: resolved}, nil
	case *expr.BinaryOp:
		left, err := resolveWith(n.Left, resolver)
		if err != nil {
			return nil, err
		}
		right, err := resolveWith(n.Right, resolver)
		if err != nil {
			return nil, err
		}
		return &expr.BinaryOp{Op: n.Op, Left: left, Right: right}, nil
	case *expr.FuncCall:
		args := make([]expr.Expr, len(n.Args))
		for i, a := range n.Args {
			r, err := resolveWith(a, resolver)
			if err != nil {
				return nil, err
			}
			args[i] = r
		}
		return &expr.FuncCall{Name: n.Name, Args: args}, nil
	case *expr.Raw:
		substituted := expr.SubstituteRawColumns(n.SQL, func(token string) (string, bool) {
			resolved, err := resolver.Resolve("", token)
			if err != nil {
				return "", false
			}
			return resolved, true
		})
		return &expr.Raw{SQL: substituted}, nil
	case *expr.Literal, *expr.Star:
		return e, nil
	default:
		return e, nil
	}
}
