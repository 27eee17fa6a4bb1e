package optree

import "github.com/flowdelta/pgdiff/diff"

// CteScan references a named (possibly recursive) CTE from the defining
// query by its parser-assigned id, differentiating Body exactly once and
// serving every other reference to the same id from the memo (§3's
// "write-once-per-key" requirement, so a CTE referenced from two places in
// the outer query is not differentiated twice).
type CteScan struct {
	CTEID     int
	Body      Node
	AliasName string
}

func (c *CteScan) OutputColumns() []string { return c.Body.OutputColumns() }
func (c *CteScan) SourceOIDs() []uint32    { return c.Body.SourceOIDs() }
func (c *CteScan) Alias() string           { return c.AliasName }
func (c *CteScan) Kind() string            { return "CteScan" }

func (c *CteScan) Diff(ctx *diff.Context) (*diff.Result, error) {
	if cached, ok := ctx.Memo(c.CTEID); ok {
		cachedCopy := cached
		return &cachedCopy, nil
	}
	result, err := c.Body.Diff(ctx)
	if err != nil {
		return nil, err
	}
	// Body may itself be a *RecursiveCte, which memoizes under the same id
	// as part of its own Diff; only set it here if that did not already
	// happen, so SetMemo's write-once guard never trips on a legitimate
	// double-pass through the same CTE id.
	if _, already := ctx.Memo(c.CTEID); !already {
		if err := ctx.SetMemo(c.CTEID, *result); err != nil {
			return nil, err
		}
	}
	return result, nil
}
