package diff

// Result is the return of differentiating one operator node: the CTE
// holding its delta, the data column names it exposes (excluding the fixed
// control columns __row_id/__action), and whether the CTE carries at most
// one row per __row_id.
type Result struct {
	CTEName      string
	Columns      []string
	Deduplicated bool
}
