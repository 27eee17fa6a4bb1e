package expr

// AggKind is the closed set of aggregate function kinds an Aggregate node
// may carry. The zero value is not a valid kind.
type AggKind int

const (
	CountStar AggKind = iota + 1
	Count
	Sum
	Min
	Max
	Avg
	BoolAnd
	BoolOr
	StringAgg
	ArrayAgg
	JsonAgg
	JsonbAgg
	BitAnd
	BitOr
	BitXor
	JsonObjectAgg
	JsonbObjectAgg
	JsonObjectAggStd
	JsonArrayAggStd
	StddevPop
	StddevSamp
	VarPop
	VarSamp
	Mode
	PercentileCont
	PercentileDisc
	ComplexExpression
)

var sqlNames = map[AggKind]string{
	CountStar:         "COUNT(*)",
	Count:              "COUNT",
	Sum:                "SUM",
	Min:                "MIN",
	Max:                "MAX",
	Avg:                "AVG",
	BoolAnd:            "BOOL_AND",
	BoolOr:             "BOOL_OR",
	StringAgg:          "STRING_AGG",
	ArrayAgg:           "ARRAY_AGG",
	JsonAgg:            "JSON_AGG",
	JsonbAgg:           "JSONB_AGG",
	BitAnd:             "BIT_AND",
	BitOr:              "BIT_OR",
	BitXor:             "BIT_XOR",
	JsonObjectAgg:      "JSON_OBJECT_AGG",
	JsonbObjectAgg:     "JSONB_OBJECT_AGG",
	StddevPop:          "STDDEV_POP",
	StddevSamp:         "STDDEV_SAMP",
	VarPop:             "VAR_POP",
	VarSamp:            "VAR_SAMP",
	Mode:               "MODE",
	PercentileCont:     "PERCENTILE_CONT",
	PercentileDisc:     "PERCENTILE_DISC",
}

// SQLName returns the PostgreSQL function name for deparsing. JsonObjectAggStd,
// JsonArrayAggStd, and ComplexExpression carry their own raw SQL and have no
// fixed name; callers must deparse Raw instead of calling SQLName for those.
func (k AggKind) SQLName() string {
	if n, ok := sqlNames[k]; ok {
		return n
	}
	return ""
}

// IsAlgebraic reports whether new = f(old, ins, del) holds without
// re-reading source data (§4.4's algebraic path).
func (k AggKind) IsAlgebraic() bool {
	return k == CountStar || k == Count || k == Sum
}

// IsSemiAlgebraic reports whether the aggregate can usually avoid a rescan
// (tracking a running extremum) but must fall back to one when a deletion
// removes the current extremum.
func (k AggKind) IsSemiAlgebraic() bool {
	return k == Min || k == Max
}

// IsGroupRescan reports whether any change to the group requires a full
// re-aggregation from source (§4.4's group-rescan path). This is everything
// that is neither algebraic nor semi-algebraic.
func (k AggKind) IsGroupRescan() bool {
	return !k.IsAlgebraic() && !k.IsSemiAlgebraic()
}

// IsOrderedSet reports whether the aggregate requires a WITHIN GROUP
// (ORDER BY ...) clause.
func (k AggKind) IsOrderedSet() bool {
	return k == Mode || k == PercentileCont || k == PercentileDisc
}

// AggExpr is one aggregate expression attached to an Aggregate node.
type AggExpr struct {
	Kind AggKind
	// Raw carries the aggregate's own SQL name/body for JsonObjectAggStd,
	// JsonArrayAggStd, and ComplexExpression kinds; empty otherwise.
	Raw string

	Arg    Expr // nil for CountStar
	Arg2   Expr // second argument, e.g. STRING_AGG's separator
	Alias  string

	IsDistinct bool
	Filter     Expr // nil if no FILTER (...) clause

	// OrderBy supports WITHIN GROUP (ORDER BY ...) for ordered-set
	// aggregates and ORDER BY inside STRING_AGG/ARRAY_AGG.
	OrderBy []OrderExpr
}

// OrderExpr is one ORDER BY item.
type OrderExpr struct {
	Expr Expr
	Desc bool
}
